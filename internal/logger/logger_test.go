package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line: %s", line)
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerLevelFiltering(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Trace("hidden too")
	log.Info("shown", String("species", "grus grus"))
	log.Warn("also shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.Equal(t, "grus grus", lines[0]["species"])
	assert.Equal(t, "WARN", lines[1]["level"])
}

func TestModuleAndWithFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("store").Module("cache")
	child := log.With(Int("records", 3))
	child.Debug("rebuilt", Error(errors.New("boom")), Float64("ratio", 0.123456))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "store.cache", lines[0]["module"])
	assert.InDelta(t, 3, lines[0]["records"], 0)
	assert.Equal(t, "boom", lines[0]["error"])
	assert.InDelta(t, 0.123, lines[0]["ratio"], 1e-9)
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	ctx := WithTraceID(context.Background(), "batch-1")
	log.WithContext(ctx).Info("flush")
	log.WithContext(context.Background()).Info("no trace")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "batch-1", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestDurationFieldIsReadable(t *testing.T) {
	t.Parallel()

	attr := fieldToAttr(Duration("elapsed", 1500*time.Millisecond))
	assert.Equal(t, "1.5s", attr.Value.String())
}

func TestNewCentralLoggerRejectsNilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)
}

func TestCentralLoggerModuleLevels(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/logs/fieldalias.log"
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "warn",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FilePath:     path,
		ModuleLevels: map[string]string{"matcher": "debug"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })

	cl.Module("matcher").Debug("matcher debug")
	cl.Module("store").Info("store info is filtered")
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "matcher debug")
	assert.NotContains(t, string(data), "store info is filtered")
}
