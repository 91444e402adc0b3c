package phonetic

import "github.com/tphakala/fieldalias/internal/logger"

// GetLogger returns the phonetic package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("phonetic")
}
