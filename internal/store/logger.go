package store

import "github.com/tphakala/fieldalias/internal/logger"

// GetLogger returns the store package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("store")
}
