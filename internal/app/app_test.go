package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldalias/internal/conf"
	"github.com/tphakala/fieldalias/internal/engine"
	"github.com/tphakala/fieldalias/internal/store"
)

func testSettings(t *testing.T, catalogType string) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.txt")
	require.NoError(t, os.WriteFile(labels, []byte(
		"Grus grus_Common Crane_grugru;kurki\nArdea cinerea_Grey Heron_ardcin\n"), 0o600))

	return &conf.Settings{
		Storage:     conf.StorageSettings{Root: filepath.Join(dir, "data"), MasterFile: "master.yaml", CacheFile: "cache.bin"},
		Catalog:     conf.CatalogSettings{Type: catalogType, Path: labels},
		Index:       conf.IndexSettings{Signatures: true, QGram: 3, MinHashSeeds: 32},
		WriteBehind: conf.WriteBehindSettings{SizeThreshold: 5, TimeThreshold: time.Hour, FlushTimeout: time.Second},
		Matcher:     conf.MatcherSettings{Limit: 5, MinScore: 0.5, MemoTTL: time.Second, SignatureFallback: true},
		Logging:     conf.LoggingSettings{Level: "error", Timezone: "UTC"},
		Metrics:     conf.MetricsSettings{Enabled: true},
	}
}

func TestEngineSeedsAndPersists(t *testing.T) {
	ctx := context.Background()
	c := &Context{Settings: testSettings(t, conf.CatalogLabels)}
	require.NoError(t, c.Setup())
	require.NotNil(t, c.Metrics)

	e, err := c.Engine(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.OriginSeed, e.Stats().Origin)

	got := e.Query("kurki")
	require.NotEmpty(t, got)
	assert.Equal(t, "grugru", got[0].SpeciesID)

	require.True(t, e.AddAlias("ardcin", "haikara", "grey heron", "Ardea cinerea"))
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	// a second run over the same root loads the taught alias
	c2 := &Context{Settings: c.Settings}
	require.NoError(t, c2.Setup())
	t.Cleanup(func() { _ = c2.Close(ctx) })
	e2, err := c2.Engine(ctx)
	require.NoError(t, err)
	got = e2.Query("haikara")
	require.NotEmpty(t, got)
	assert.Equal(t, "ardcin", got[0].SpeciesID)

	snap, err := c.Metrics.Snapshot()
	require.NoError(t, err)
	assert.Positive(t, snap["fieldalias_catalog_species"])
}

func TestEngineWithoutCatalog(t *testing.T) {
	ctx := context.Background()
	c := &Context{Settings: testSettings(t, conf.CatalogNone)}
	require.NoError(t, c.Setup())
	t.Cleanup(func() { _ = c.Close(ctx) })

	e, err := c.Engine(ctx)
	require.ErrorIs(t, err, engine.ErrNoIndex)
	require.NotNil(t, e)
	assert.False(t, e.Ready())
}

func TestEnricherFollowsIndexSettings(t *testing.T) {
	s := testSettings(t, conf.CatalogNone)
	s.Index.Signatures = false
	c := &Context{Settings: s}
	assert.False(t, c.Enricher().WithSignatures())
}
