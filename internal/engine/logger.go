package engine

import "github.com/tphakala/fieldalias/internal/logger"

// GetLogger returns the engine package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("engine")
}
