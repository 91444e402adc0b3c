package writebehind

import "github.com/tphakala/fieldalias/internal/logger"

// GetLogger returns the write-behind package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("writebehind")
}
