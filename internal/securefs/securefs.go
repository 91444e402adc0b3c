package securefs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

// GetLogger returns the securefs package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("securefs")
}

const tempSuffix = ".tmp"

var tempCounter atomic.Uint64

// SecureFS restricts file operations to one base directory. Paths may be
// relative to the base or absolute paths inside it; anything resolving
// outside the base is rejected, and os.Root enforces the boundary for
// symlinks as well.
type SecureFS struct {
	baseDir         string
	root            *os.Root
	maxReadFileSize int64
}

// New opens baseDir as a sandbox, creating it when missing.
func New(baseDir string) (*SecureFS, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, errors.New(err).
			Component("securefs").
			Category(errors.CategoryStorage).
			Context("operation", "create_root").
			Build()
	}
	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, errors.New(err).
			Component("securefs").
			Category(errors.CategoryStorage).
			Context("operation", "open_root").
			Build()
	}
	return &SecureFS{baseDir: absPath, root: root}, nil
}

// BaseDir returns the absolute base directory.
func (sfs *SecureFS) BaseDir() string {
	return sfs.baseDir
}

// Path returns the absolute path of a name inside the sandbox.
func (sfs *SecureFS) Path(name string) string {
	return filepath.Join(sfs.baseDir, name)
}

// SetMaxReadFileSize limits ReadFile; 0 means unlimited.
func (sfs *SecureFS) SetMaxReadFileSize(maxSize int64) {
	sfs.maxReadFileSize = maxSize
}

// RelativePath validates path and returns it relative to the base directory.
func (sfs *SecureFS) RelativePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	rel := filepath.Clean(path)
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(sfs.baseDir, rel)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidPath, path)
		}
		rel = r
	}
	if rel == "." {
		return ".", nil
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: path %s is outside allowed directory %s", ErrPathTraversal, path, sfs.baseDir)
	}
	return rel, nil
}

// ReadFile reads a whole file.
func (sfs *SecureFS) ReadFile(path string) ([]byte, error) {
	rel, err := sfs.RelativePath(path)
	if err != nil {
		return nil, err
	}
	file, err := sfs.root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("failed to close file", logger.Error(err))
		}
	}()

	if sfs.maxReadFileSize > 0 {
		stat, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if stat.Size() > sfs.maxReadFileSize {
			return nil, fmt.Errorf("%w: file is %d bytes, limit is %d bytes",
				ErrFileTooLarge, stat.Size(), sfs.maxReadFileSize)
		}
	}
	return io.ReadAll(file)
}

// WriteFile creates or truncates a file in place.
func (sfs *SecureFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	rel, err := sfs.RelativePath(path)
	if err != nil {
		return err
	}
	file, err := sfs.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, werr := file.Write(data)
	return errors.Join(werr, file.Close())
}

// WriteFileAtomic writes data to a sibling temp file, syncs it and renames
// it over path. Readers see either the old or the new content.
func (sfs *SecureFS) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	rel, err := sfs.RelativePath(path)
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d%s", rel, tempCounter.Add(1), tempSuffix)

	file, err := sfs.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = sfs.root.Remove(tmp)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = sfs.root.Remove(tmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = sfs.root.Remove(tmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := sfs.root.Rename(tmp, rel); err != nil {
		_ = sfs.root.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", rel, err)
	}
	return nil
}

// Remove deletes a file.
func (sfs *SecureFS) Remove(path string) error {
	rel, err := sfs.RelativePath(path)
	if err != nil {
		return err
	}
	return sfs.root.Remove(rel)
}

// Rename moves oldpath to newpath inside the sandbox.
func (sfs *SecureFS) Rename(oldpath, newpath string) error {
	oldRel, err := sfs.RelativePath(oldpath)
	if err != nil {
		return err
	}
	newRel, err := sfs.RelativePath(newpath)
	if err != nil {
		return err
	}
	return sfs.root.Rename(oldRel, newRel)
}

// Stat returns file info.
func (sfs *SecureFS) Stat(path string) (fs.FileInfo, error) {
	rel, err := sfs.RelativePath(path)
	if err != nil {
		return nil, err
	}
	return sfs.root.Stat(rel)
}

// Exists reports whether path exists. Validation and unexpected stat
// errors are returned.
func (sfs *SecureFS) Exists(path string) (bool, error) {
	_, err := sfs.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// ReadDir lists a directory; "" or "." lists the base.
func (sfs *SecureFS) ReadDir(path string) ([]os.DirEntry, error) {
	rel := "."
	if path != "" {
		var err error
		if rel, err = sfs.RelativePath(path); err != nil {
			return nil, err
		}
	}
	dir, err := sfs.root.Open(rel)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory: %w", err)
	}
	defer func() {
		if err := dir.Close(); err != nil {
			GetLogger().Warn("failed to close directory", logger.Error(err))
		}
	}()
	entries, err := dir.ReadDir(0)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory entries: %w", err)
	}
	return entries, nil
}

// CleanTemp removes leftover temp files from interrupted atomic writes and
// returns how many were removed.
func (sfs *SecureFS) CleanTemp() int {
	entries, err := sfs.ReadDir("")
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), tempSuffix) {
			continue
		}
		if err := sfs.root.Remove(e.Name()); err != nil {
			GetLogger().Warn("failed to remove stale temp file",
				logger.String("file", e.Name()), logger.Error(err))
			continue
		}
		removed++
	}
	return removed
}

// Close releases the sandbox root.
func (sfs *SecureFS) Close() error {
	if sfs.root != nil {
		return sfs.root.Close()
	}
	return nil
}
