package securefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFileName = "test.txt"

// setupSecureFS creates a temporary directory and SecureFS instance for testing
func setupSecureFS(t *testing.T) (sfs *SecureFS, tempDir string) {
	t.Helper()

	tempDir = t.TempDir()
	sfs, err := New(tempDir)
	require.NoError(t, err, "Failed to create SecureFS")
	t.Cleanup(func() { _ = sfs.Close() })
	return sfs, tempDir
}

func TestNewCreatesMissingRoot(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "storage")
	sfs, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfs.Close() })

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, sfs.BaseDir())
}

func TestSecureFSReadWriteRelativeAndAbsolute(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	require.NoError(t, sfs.WriteFile(testFileName, []byte("relative"), 0o600))
	data, err := sfs.ReadFile(filepath.Join(tempDir, testFileName))
	require.NoError(t, err)
	assert.Equal(t, "relative", string(data))

	exists, err := sfs.Exists(testFileName)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = sfs.Exists("missing.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSecureFSRejectsTraversal(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	tests := []string{
		"../escape.txt",
		"a/../../escape.txt",
		filepath.Join(filepath.Dir(tempDir), "outside.txt"),
	}
	for _, p := range tests {
		_, err := sfs.ReadFile(p)
		require.ErrorIs(t, err, ErrPathTraversal, "path %s", p)
	}

	_, err := sfs.RelativePath("   ")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	require.NoError(t, sfs.WriteFileAtomic(testFileName, []byte("v1"), 0o600))
	require.NoError(t, sfs.WriteFileAtomic(testFileName, []byte("v2"), 0o600))

	data, err := sfs.ReadFile(testFileName)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	entries, err := sfs.ReadDir("")
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files are left behind")
	assert.Equal(t, testFileName, entries[0].Name())
}

func TestCleanTempRemovesLeftovers(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "aliases.master.yaml.7.tmp"), []byte("x"), 0o600))
	require.NoError(t, sfs.WriteFile("keep.yaml", []byte("y"), 0o600))

	assert.Equal(t, 1, sfs.CleanTemp())
	entries, err := sfs.ReadDir(".")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep.yaml", entries[0].Name())
}

func TestReadFileSizeLimit(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	require.NoError(t, sfs.WriteFile(testFileName, make([]byte, 64), 0o600))
	sfs.SetMaxReadFileSize(32)
	_, err := sfs.ReadFile(testFileName)
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestRenameAndRemove(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	require.NoError(t, sfs.WriteFile("a.txt", []byte("a"), 0o600))
	require.NoError(t, sfs.Rename("a.txt", "b.txt"))
	_, err := sfs.Stat("a.txt")
	require.Error(t, err)
	require.NoError(t, sfs.Remove("b.txt"))
	exists, err := sfs.Exists("b.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}
