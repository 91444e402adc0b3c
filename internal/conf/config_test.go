package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldalias/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "catalog:\n  path: birds.txt\n")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "data", s.Storage.Root)
	assert.Equal(t, "aliases.master.yaml", s.Storage.MasterFile)
	assert.Equal(t, CatalogLabels, s.Catalog.Type)
	assert.Equal(t, "birds.txt", s.Catalog.Path)
	assert.True(t, s.Index.Signatures)
	assert.Equal(t, 3, s.Index.QGram)
	assert.Equal(t, 5, s.WriteBehind.SizeThreshold)
	assert.Equal(t, 30*time.Second, s.WriteBehind.TimeThreshold)
	assert.Zero(t, s.Matcher.MinScore, "score floor is opt-in")
	assert.Equal(t, 500*time.Millisecond, s.Watcher.Debounce)
	assert.Same(t, s, GetSettings())
}

func TestLoadReadsYAML(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /var/lib/fieldalias
catalog:
  type: sqlite
  path: species.db
index:
  signatures: false
writebehind:
  sizethreshold: 10
  timethreshold: 2m
matcher:
  limit: 3
  minscore: 0.7
logging:
  level: debug
  modulelevels:
    matcher: trace
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fieldalias", s.Storage.Root)
	assert.Equal(t, CatalogSQLite, s.Catalog.Type)
	assert.False(t, s.Index.Signatures)
	assert.Equal(t, 10, s.WriteBehind.SizeThreshold)
	assert.Equal(t, 2*time.Minute, s.WriteBehind.TimeThreshold)
	assert.Equal(t, 3, s.Matcher.Limit)
	assert.Equal(t, "trace", s.Logging.ModuleLevels["matcher"])
	assert.Equal(t, filepath.Join("/var/lib/fieldalias", "aliases.master.yaml"), s.MasterPath())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("FIELDALIAS_WRITEBEHIND_SIZETHRESHOLD", "7")
	t.Setenv("FIELDALIAS_STORAGE_ROOT", "/tmp/aliases")
	path := writeConfig(t, "writebehind:\n  sizethreshold: 2\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, s.WriteBehind.SizeThreshold)
	assert.Equal(t, "/tmp/aliases", s.Storage.Root)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	path := writeConfig(t, `
catalog:
  type: csv
writebehind:
  sizethreshold: 0
matcher:
  minscore: 1.5
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 3)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoggingConfigDebugOverride(t *testing.T) {
	t.Parallel()

	s := &Settings{Debug: true, Logging: LoggingSettings{Level: "warn", JSON: true, Timezone: "UTC"}}
	lc := s.LoggingConfig()
	assert.Equal(t, "debug", lc.DefaultLevel)
	require.NotNil(t, lc.Console)
	assert.True(t, lc.Console.JSON)
	assert.Equal(t, "UTC", lc.Timezone)

	s.Logging.Level = "trace"
	assert.Equal(t, "trace", s.LoggingConfig().DefaultLevel)
}
