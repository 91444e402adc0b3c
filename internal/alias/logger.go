package alias

import "github.com/tphakala/fieldalias/internal/logger"

// GetLogger returns the alias package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("alias")
}
