// Package securefs provides sandboxed file operations below a storage root
// using os.Root.
package securefs

import (
	"github.com/tphakala/fieldalias/internal/errors"
)

// Sentinel errors for the securefs package.
var (
	// ErrPathTraversal indicates an attempt to leave the storage root.
	ErrPathTraversal = errors.NewStd("security error: path attempts to traverse outside base directory")

	// ErrInvalidPath indicates an empty or otherwise unusable path.
	ErrInvalidPath = errors.NewStd("security error: invalid path")

	// ErrFileTooLarge is returned when a file exceeds the configured read limit.
	ErrFileTooLarge = errors.NewStd("file size exceeds maximum allowed size")
)
