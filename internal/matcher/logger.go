package matcher

import "github.com/tphakala/fieldalias/internal/logger"

// GetLogger returns the matcher package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("matcher")
}
