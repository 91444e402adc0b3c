package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/catalog"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/securefs"
)

var testNow = time.Date(2026, 4, 12, 5, 30, 0, 0, time.UTC)

func testCatalog() catalog.StaticCatalog {
	return catalog.StaticCatalog{
		{ID: "grugru", Canonical: "Common Crane", TileName: "Crane", Aliases: []string{"kurki"}},
		{ID: "ardcin", Canonical: "Grey Heron", Aliases: []string{"harmaahaikara"}},
		{ID: "cygcyg", Canonical: "Whooper Swan", TileName: "Laulujoutsen"},
	}
}

func newTestStore(t *testing.T, dir string, cat catalog.Catalog) (*Store, *securefs.SecureFS) {
	t.Helper()
	sfs, err := securefs.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfs.Close() })
	return New(sfs, Options{Catalog: cat, Now: func() time.Time { return testNow }}), sfs
}

func buildTestIndex(t *testing.T) *alias.Index {
	t.Helper()
	b := alias.NewBuilder(nil)
	idx, _ := b.Build(catalog.ToSeeds(testCatalog()))
	idx.UpdatedAt = testNow
	for i := range idx.Records {
		idx.Records[i].CreatedAt = testNow
	}
	idx.Fingerprint = "abc123"
	return idx
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	idx := buildTestIndex(t)
	data, err := EncodeCache(idx)
	require.NoError(t, err)

	h, err := DecodeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(idx.Len()), h.RecordCount)
	assert.Equal(t, CodecProtowire, h.Codec)
	assert.Equal(t, CompressionGzip, h.Compression)

	got, err := DecodeCache(data)
	require.NoError(t, err)
	assert.Equal(t, idx, got)
}

func TestCacheRoundTripLeanAndEmpty(t *testing.T) {
	t.Parallel()

	lean, _ := alias.NewBuilder(alias.NewEnricher(false, 0, 0)).Build([]alias.SeedSpecies{
		{SpeciesID: "x", Canonical: "Smew"},
	})
	lean.UpdatedAt = testNow
	lean.Records[0].CreatedAt = testNow
	data, err := EncodeCache(lean)
	require.NoError(t, err)
	got, err := DecodeCache(data)
	require.NoError(t, err)
	assert.Equal(t, lean, got)
	assert.Nil(t, got.Records[0].Signature)

	data, err = EncodeCache(&alias.Index{Version: 3})
	require.NoError(t, err)
	got, err = DecodeCache(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.Version)
	assert.Zero(t, got.Len())
}

func TestCacheRejectsAnyFlippedHeaderByte(t *testing.T) {
	t.Parallel()

	data, err := EncodeCache(buildTestIndex(t))
	require.NoError(t, err)

	for i := range HeaderSize {
		corrupted := append([]byte(nil), data...)
		corrupted[i] ^= 0x01
		_, err := DecodeCache(corrupted)
		require.ErrorIs(t, err, ErrCorruptCache, "byte %d", i)
		assert.True(t, errors.IsCategory(err, errors.CategoryCorruptData))
	}
}

func TestCacheRejectsDamagedPayload(t *testing.T) {
	t.Parallel()

	data, err := EncodeCache(buildTestIndex(t))
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-5] ^= 0xFF
	_, err = DecodeCache(flipped)
	require.ErrorIs(t, err, ErrCorruptCache)

	_, err = DecodeCache(data[:len(data)-1])
	require.ErrorIs(t, err, ErrCorruptCache)

	_, err = DecodeCache(data[:10])
	require.ErrorIs(t, err, ErrCorruptCache)
}

func TestMasterYAMLRoundTrip(t *testing.T) {
	t.Parallel()

	m := MasterFromIndex(buildTestIndex(t))
	data, err := MarshalMaster(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), "species_id: grugru")
	assert.NotContains(t, string(data), "phonemes", "derived fields are not stored")

	back, err := UnmarshalMaster(data)
	require.NoError(t, err)
	assert.Equal(t, m, back)

	idx := back.ToIndex(alias.DefaultEnricher())
	assert.Equal(t, buildTestIndex(t), idx)
}

func TestUnmarshalMasterRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalMaster([]byte("species: [unterminated"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCorruptData))

	_, err = UnmarshalMaster([]byte("format_version: 99\n"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCorruptData))
}

func TestMergePending(t *testing.T) {
	t.Parallel()

	m := MasterFromIndex(buildTestIndex(t))
	added := MergePending(m, []alias.PendingAlias{
		{SpeciesID: "grugru", AliasText: "Trana", Timestamp: testNow},
		{SpeciesID: "grugru", AliasText: "trana!", Timestamp: testNow},
		{SpeciesID: "grugru", AliasText: "HARMAAHAIKARA", Timestamp: testNow},
		{SpeciesID: "newsp", AliasText: "mystery", Canonical: "Mystery Bird", Timestamp: testNow},
		{SpeciesID: "grugru", AliasText: "   ", Timestamp: testNow},
	})
	assert.Equal(t, 2, added)

	var crane MasterSpecies
	for _, sp := range m.Species {
		if sp.SpeciesID == "grugru" {
			crane = sp
		}
	}
	last := crane.Aliases[len(crane.Aliases)-1]
	assert.Equal(t, "trana", last.Alias)
	assert.Equal(t, uint32(4), last.ID, "next id is max+1")
	assert.Equal(t, alias.SourceUserFieldTrained, last.Source)

	newest := m.Species[len(m.Species)-1]
	assert.Equal(t, "newsp", newest.SpeciesID)
	assert.Equal(t, "mystery bird", newest.Canonical)
	assert.Equal(t, uint32(1), newest.Aliases[0].ID)
}

func TestLoadSeedsThenUsesCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := newTestStore(t, dir, testCatalog())
	ctx := context.Background()

	res := s.Load(ctx)
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, OriginSeed, res.Origin)
	require.NotNil(t, res.Index)
	assert.Equal(t, uint32(1), s.LastWrittenVersion())
	assert.FileExists(t, filepath.Join(dir, DefaultMasterFile))
	assert.FileExists(t, filepath.Join(dir, DefaultCacheFile))

	again := s.Load(ctx)
	require.Equal(t, OutcomeOK, again.Outcome)
	assert.Equal(t, OriginCache, again.Origin)
	assert.Equal(t, res.Index.Len(), again.Index.Len())
}

func TestLoadFallsBackToMasterOnCorruptCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := newTestStore(t, dir, testCatalog())
	ctx := context.Background()
	seeded := s.Load(ctx)
	require.Equal(t, OutcomeOK, seeded.Outcome)

	cachePath := filepath.Join(dir, DefaultCacheFile)
	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	data[7] ^= 0x10
	require.NoError(t, os.WriteFile(cachePath, data, 0o600))

	res := s.Load(ctx)
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, OriginMaster, res.Origin)
	assert.Equal(t, seeded.Index.Len(), res.Index.Len())

	rebuilt := s.Load(ctx)
	assert.Equal(t, OriginCache, rebuilt.Origin, "cache is rebuilt from master")
}

func TestLoadWithoutCatalogOrMaster(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, t.TempDir(), nil)

	res := s.Load(context.Background())
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.Equal(t, OriginNone, res.Origin)
	assert.Nil(t, res.Index)
}

func TestLoadCorruptMaster(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultMasterFile), []byte("species: [oops"), 0o600))

	noCatalog, _ := newTestStore(t, dir, nil)
	res := noCatalog.Load(context.Background())
	assert.Equal(t, OutcomeCorrupt, res.Outcome)
	assert.Nil(t, res.Index)
	require.Error(t, res.Err)

	withCatalog, _ := newTestStore(t, dir, testCatalog())
	res = withCatalog.Load(context.Background())
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, OriginSeed, res.Origin)

	matches, err := filepath.Glob(filepath.Join(dir, DefaultMasterFile+".corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1, "corrupt master is kept for inspection")
}

func TestLoadRegeneratesOnCatalogChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s, _ := newTestStore(t, dir, testCatalog())
	require.Equal(t, OutcomeOK, s.Load(ctx).Outcome)
	added, err := s.Persist(ctx, []alias.PendingAlias{
		{SpeciesID: "grugru", AliasText: "trana", Timestamp: testNow},
		{SpeciesID: "cygcyg", AliasText: "joutsen", Timestamp: testNow},
	})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	changed := catalog.StaticCatalog{
		{ID: "grugru", Canonical: "Common Crane", Aliases: []string{"kurki", "kurjet"}},
		{ID: "ardcin", Canonical: "Grey Heron"},
	}
	s2, _ := newTestStore(t, dir, changed)
	res := s2.Load(ctx)
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, OriginRegenerated, res.Origin)

	norms := map[string]string{}
	for _, r := range res.Index.Records {
		norms[r.Norm] = r.SpeciesID
	}
	assert.Equal(t, "grugru", norms["trana"], "trained alias carried over")
	assert.Equal(t, "grugru", norms["kurjet"])
	assert.NotContains(t, norms, "joutsen", "species removed from catalog")
	assert.NotContains(t, norms, "harmaahaikara")

	m, err := s2.ReadMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), m.Version)
	assert.Equal(t, catalog.Fingerprint(changed), m.CatalogFingerprint)
}

func TestPersistMergesAndBumpsVersion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	s, _ := newTestStore(t, dir, testCatalog())
	require.Equal(t, OutcomeOK, s.Load(ctx).Outcome)

	added, err := s.Persist(ctx, []alias.PendingAlias{
		{SpeciesID: "grugru", AliasText: "trana", Timestamp: testNow},
		{SpeciesID: "ardcin", AliasText: "kurki", Timestamp: testNow},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added, "conflicting alias is not merged")

	m, err := s.ReadMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), m.Version)
	assert.Equal(t, uint32(2), s.LastWrittenVersion())

	res := s.Load(ctx)
	assert.Equal(t, OriginCache, res.Origin)
	found := false
	for _, r := range res.Index.Records {
		if r.Norm == "trana" {
			found = true
			assert.Equal(t, alias.SourceUserFieldTrained, r.Source)
		}
	}
	assert.True(t, found, "cache rebuilt with merged alias")

	added, err = s.Persist(ctx, []alias.PendingAlias{{SpeciesID: "grugru", AliasText: "Trana"}})
	require.NoError(t, err)
	assert.Zero(t, added)
	m, err = s.ReadMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), m.Version, "no-op merge does not rewrite")
}

func TestPersistCreatesMasterWhenMissing(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t, t.TempDir(), nil)

	added, err := s.Persist(context.Background(), []alias.PendingAlias{
		{SpeciesID: "x", AliasText: "first", Canonical: "X Bird"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	res := s.Load(context.Background())
	require.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 1, res.Index.Len())
}

// failingBackend fails writes of files whose name contains failOn.
type failingBackend struct {
	Backend
	failOn string
}

func (f *failingBackend) WriteFileAtomic(name string, data []byte, perm os.FileMode) error {
	if strings.Contains(name, f.failOn) {
		return errors.NewStd("disk full")
	}
	return f.Backend.WriteFileAtomic(name, data, perm)
}

func TestPersistKeepsMasterOnWriteFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	s, sfs := newTestStore(t, dir, testCatalog())
	require.Equal(t, OutcomeOK, s.Load(ctx).Outcome)

	broken := New(&failingBackend{Backend: sfs, failOn: "master"}, Options{Catalog: testCatalog()})
	_, err := broken.Persist(ctx, []alias.PendingAlias{{SpeciesID: "grugru", AliasText: "trana"}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))

	m, err := s.ReadMaster(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), m.Version)
}

func TestPersistDropsCacheWhenRebuildFails(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	s, sfs := newTestStore(t, dir, testCatalog())
	require.Equal(t, OutcomeOK, s.Load(ctx).Outcome)

	broken := New(&failingBackend{Backend: sfs, failOn: "cache"}, Options{Catalog: testCatalog()})
	added, err := broken.Persist(ctx, []alias.PendingAlias{{SpeciesID: "grugru", AliasText: "trana"}})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.NoFileExists(t, filepath.Join(dir, DefaultCacheFile))

	res := s.Load(ctx)
	assert.Equal(t, OriginMaster, res.Origin)
}
