package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/catalog"
	"github.com/tphakala/fieldalias/internal/matcher"
	"github.com/tphakala/fieldalias/internal/observability"
	"github.com/tphakala/fieldalias/internal/securefs"
	"github.com/tphakala/fieldalias/internal/store"
	"github.com/tphakala/fieldalias/internal/writebehind"
)

func testCatalog() catalog.StaticCatalog {
	return catalog.StaticCatalog{
		{ID: "grugru", Canonical: "Common Crane", TileName: "Crane", Aliases: []string{"kurki"}},
		{ID: "ardcin", Canonical: "Grey Heron", Aliases: []string{"harmaahaikara"}},
		{ID: "cygcyg", Canonical: "Whooper Swan", TileName: "Laulujoutsen"},
	}
}

// toggleCatalog fails until it is switched on, like a catalog on storage
// that is mounted later.
type toggleCatalog struct {
	ready   atomic.Bool
	species catalog.StaticCatalog
}

func (c *toggleCatalog) Species(ctx context.Context) ([]catalog.Species, error) {
	if !c.ready.Load() {
		return nil, fmt.Errorf("catalog not mounted")
	}
	return c.species.Species(ctx)
}

func (c *toggleCatalog) Name() string { return "toggle" }

func newTestStore(t *testing.T, dir string, cat catalog.Catalog) *store.Store {
	t.Helper()
	sfs, err := securefs.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfs.Close() })
	return store.New(sfs, store.Options{Catalog: cat})
}

func newTestEngine(t *testing.T, st *store.Store, m *observability.Metrics) *Engine {
	t.Helper()
	opts := Options{
		Store: st,
		Queue: writebehind.Config{TimeThreshold: time.Hour},
	}
	if m != nil {
		opts.Metrics = m.Alias
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func trainedAliases(t *testing.T, st *store.Store) []string {
	t.Helper()
	m, err := st.ReadMaster(context.Background())
	require.NoError(t, err)
	var out []string
	for _, sp := range m.Species {
		for _, a := range sp.Aliases {
			if a.Source == alias.SourceUserFieldTrained {
				out = append(out, sp.SpeciesID+":"+a.Alias)
			}
		}
	}
	return out
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	require.Error(t, err)
}

func TestInitializeSeedsFromCatalog(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, newTestStore(t, t.TempDir(), testCatalog()), nil)

	require.NoError(t, e.Initialize(context.Background()))
	assert.True(t, e.Ready())

	st := e.Stats()
	assert.Equal(t, store.OriginSeed, st.Origin)
	assert.Equal(t, store.OutcomeOK, st.Outcome)
	assert.Equal(t, 7, st.Records)

	got := e.Query("Kurki")
	require.NotEmpty(t, got)
	assert.Equal(t, "grugru", got[0].SpeciesID)
	assert.Equal(t, matcher.KindExact, got[0].Kind)
}

func TestInitializeUsesCacheOnRestart(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first := newTestEngine(t, newTestStore(t, dir, testCatalog()), nil)
	require.NoError(t, first.Initialize(context.Background()))
	require.NoError(t, first.Close(context.Background()))

	second := newTestEngine(t, newTestStore(t, dir, testCatalog()), nil)
	require.NoError(t, second.Initialize(context.Background()))
	assert.Equal(t, store.OriginCache, second.Stats().Origin)
	assert.Equal(t, first.Stats().Records, second.Stats().Records)
}

func TestAddAliasVisibleBeforeFlush(t *testing.T) {
	t.Parallel()
	st := newTestStore(t, t.TempDir(), testCatalog())
	e := newTestEngine(t, st, nil)
	require.NoError(t, e.Initialize(context.Background()))

	require.True(t, e.AddAlias("grugru", "Trana", "", ""))

	got := e.Query("trana")
	require.Len(t, got, 1)
	assert.Equal(t, "grugru", got[0].SpeciesID)
	assert.Equal(t, "common crane", got[0].Canonical)
	assert.Equal(t, 1, e.Stats().Pending)
	assert.Empty(t, trainedAliases(t, st), "nothing persisted yet")
}

func TestAddAliasRejections(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, newTestStore(t, t.TempDir(), testCatalog()), nil)
	require.NoError(t, e.Initialize(context.Background()))

	assert.False(t, e.AddAlias("grugru", "  ?? ", "", ""), "blank")
	assert.False(t, e.AddAlias("grugru", "KURKI", "", ""), "duplicate of seed alias")

	require.True(t, e.AddAlias("grugru", "ali", "", ""))
	assert.False(t, e.AddAlias("grugru", "Ali", "", ""), "duplicate")
	assert.False(t, e.AddAlias("ardcin", "ali", "", ""), "conflict")

	got := e.Query("ali")
	require.Len(t, got, 1)
	assert.Equal(t, "grugru", got[0].SpeciesID)
	assert.Equal(t, 1, e.Stats().Pending)
}

func TestForceFlushPersistsPending(t *testing.T) {
	t.Parallel()
	st := newTestStore(t, t.TempDir(), testCatalog())
	e := newTestEngine(t, st, nil)
	require.NoError(t, e.Initialize(context.Background()))

	require.True(t, e.AddAlias("grugru", "trana", "", ""))
	require.True(t, e.AddAlias("ardcin", "haikara", "", ""))
	require.True(t, e.AddAlias("cygcyg", "sangsvan", "", ""))
	assert.Equal(t, 3, e.Stats().Pending)

	require.NoError(t, e.ForceFlush(context.Background()))
	assert.Equal(t, 0, e.Stats().Pending)
	assert.ElementsMatch(t,
		[]string{"grugru:trana", "ardcin:haikara", "cygcyg:sangsvan"},
		trainedAliases(t, st))
}

func TestSizeThresholdPersistsInBackground(t *testing.T) {
	t.Parallel()
	st := newTestStore(t, t.TempDir(), testCatalog())
	e := newTestEngine(t, st, nil)
	require.NoError(t, e.Initialize(context.Background()))

	for i := range writebehind.DefaultSizeThreshold {
		require.True(t, e.AddAlias("grugru", fmt.Sprintf("crane call %d", i), "", ""))
	}
	require.Eventually(t, func() bool { return e.Stats().Pending == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, trainedAliases(t, st), writebehind.DefaultSizeThreshold)
}

func TestInitializeIsRetryableAfterNoIndex(t *testing.T) {
	t.Parallel()
	cat := &toggleCatalog{species: testCatalog()}
	e := newTestEngine(t, newTestStore(t, t.TempDir(), cat), nil)

	require.ErrorIs(t, e.Initialize(context.Background()), ErrNoIndex)
	assert.False(t, e.Ready())
	assert.Equal(t, store.OutcomeNoData, e.Stats().Outcome)

	// teaching works before any index exists
	require.True(t, e.AddAlias("grugru", "trana", "common crane", ""))

	cat.ready.Store(true)
	require.NoError(t, e.Initialize(context.Background()))
	assert.True(t, e.Ready())
	assert.Equal(t, "grugru", e.Query("trana")[0].SpeciesID)
	assert.Equal(t, "grugru", e.Query("kurki")[0].SpeciesID)
}

func TestAliasTaughtBeforeLoadYieldsToSavedBinding(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first := newTestEngine(t, newTestStore(t, dir, testCatalog()), nil)
	require.NoError(t, first.Initialize(context.Background()))
	require.NoError(t, first.Close(context.Background()))

	st := newTestStore(t, dir, testCatalog())
	e := newTestEngine(t, st, nil)
	require.True(t, e.AddAlias("ardcin", "Common Crane", "", ""))
	require.True(t, e.AddAlias("ardcin", "haikara", "", ""))
	require.Equal(t, 2, e.Stats().Pending)

	require.NoError(t, e.Initialize(context.Background()))

	got := e.Query("common crane")
	require.NotEmpty(t, got)
	assert.Equal(t, "grugru", got[0].SpeciesID, "saved binding wins")
	assert.Equal(t, matcher.KindExact, got[0].Kind)

	heron := e.Query("grey heron")
	require.NotEmpty(t, heron)
	assert.Equal(t, "ardcin", heron[0].SpeciesID)
	assert.Equal(t, uint32(1), heron[0].AliasID)

	taught := e.Query("haikara")
	require.NotEmpty(t, taught)
	assert.Equal(t, "ardcin", taught[0].SpeciesID)
	assert.Equal(t, uint32(3), taught[0].AliasID, "numbered after saved aliases")
	assert.Equal(t, "grey heron", taught[0].Canonical)

	assert.Equal(t, 1, e.Stats().Pending, "conflicting write dropped")
	require.NoError(t, e.ForceFlush(context.Background()))
	assert.Equal(t, []string{"ardcin:haikara"}, trainedAliases(t, st))
}

func TestReloadMasterSkipsOwnWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st := newTestStore(t, dir, testCatalog())
	e := newTestEngine(t, st, nil)
	require.NoError(t, e.Initialize(context.Background()))

	reloaded, err := e.ReloadMaster(context.Background())
	require.NoError(t, err)
	assert.False(t, reloaded, "seeded master was written by this engine")

	// another writer edits the master
	other := newTestStore(t, dir, nil)
	m, err := other.ReadMaster(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, store.MergePending(m, []alias.PendingAlias{
		{SpeciesID: "ardcin", AliasText: "graureiher", Timestamp: time.Now()},
	}))
	m.Version++
	require.NoError(t, other.WriteMaster(context.Background(), m))

	for _, cand := range e.Query("graureiher") {
		assert.NotEqual(t, matcher.KindExact, cand.Kind)
	}
	reloaded, err = e.ReloadMaster(context.Background())
	require.NoError(t, err)
	assert.True(t, reloaded)

	got := e.Query("graureiher")
	require.NotEmpty(t, got)
	assert.Equal(t, "ardcin", got[0].SpeciesID)
	assert.Equal(t, matcher.KindExact, got[0].Kind)
}

func TestCloseFlushesAndRejects(t *testing.T) {
	t.Parallel()
	st := newTestStore(t, t.TempDir(), testCatalog())
	e := newTestEngine(t, st, nil)
	require.NoError(t, e.Initialize(context.Background()))

	require.True(t, e.AddAlias("cygcyg", "sangsvan", "", ""))
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, []string{"cygcyg:sangsvan"}, trainedAliases(t, st))
	assert.False(t, e.AddAlias("cygcyg", "joutsen", "", ""))
}

func TestMetricsRecorded(t *testing.T) {
	t.Parallel()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	e := newTestEngine(t, newTestStore(t, t.TempDir(), testCatalog()), m)
	require.NoError(t, e.Initialize(context.Background()))

	e.AddAlias("grugru", "trana", "", "")
	e.AddAlias("ardcin", "trana", "", "")
	e.Query("trana")
	e.Query("zzzzzz")
	require.NoError(t, e.ForceFlush(context.Background()))

	snap, err := m.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 1, snap[`fieldalias_alias_adds_total{result="added"}`], 0)
	assert.InDelta(t, 1, snap[`fieldalias_alias_adds_total{result="conflict"}`], 0)
	assert.InDelta(t, 1, snap[`fieldalias_queries_total{kind="exact"}`], 0)
	assert.InDelta(t, 1, snap[`fieldalias_queries_total{kind="miss"}`], 0)
	assert.InDelta(t, 1, snap[`fieldalias_flushes_total{status="success"}`], 0)
	assert.InDelta(t, 1, snap[`fieldalias_index_loads_total{origin="seed",outcome="ok"}`], 0)
	assert.InDelta(t, 0, snap["fieldalias_pending_aliases"], 0)
}
