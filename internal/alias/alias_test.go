package alias

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedBuilder(e *Enricher) *Builder {
	b := NewBuilder(e)
	b.now = func() time.Time { return time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC) }
	return b
}

func TestBuilderEmitsCanonicalTileAndExtras(t *testing.T) {
	t.Parallel()

	idx, report := fixedBuilder(nil).Build([]SeedSpecies{
		{
			SpeciesID:    "grugru",
			Canonical:    "Common Crane",
			TileName:     "Crane",
			ExtraAliases: []string{"kurki", "  ", "Kurki!", "trana"},
		},
	})

	require.Len(t, idx.Records, 4)
	assert.Equal(t, 1, report.Species)
	assert.Equal(t, 4, report.Records)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Blank)

	want := []struct {
		id     uint32
		norm   string
		source Source
	}{
		{1, "common crane", SourceSeedCanonical},
		{2, "crane", SourceSeedTile},
		{3, "kurki", SourceSeedImported},
		{4, "trana", SourceSeedImported},
	}
	for i, w := range want {
		r := idx.Records[i]
		assert.Equal(t, w.id, r.AliasID)
		assert.Equal(t, w.norm, r.Norm)
		assert.Equal(t, w.source, r.Source)
		assert.Equal(t, "common crane", r.Canonical)
		assert.Equal(t, "Crane", r.TileName)
		assert.InDelta(t, DefaultWeight, r.Weight, 0)
		assert.NotEmpty(t, r.Codes.Phonemes)
		require.NotNil(t, r.Signature)
	}
	assert.Equal(t, uint32(1), idx.Version)
}

func TestBuilderSkipsTileEqualToCanonical(t *testing.T) {
	t.Parallel()

	idx, _ := fixedBuilder(nil).Build([]SeedSpecies{
		{SpeciesID: "ardcin", Canonical: "grey heron", TileName: "Grey Heron"},
	})
	require.Len(t, idx.Records, 1)
	assert.Equal(t, SourceSeedCanonical, idx.Records[0].Source)
	assert.Equal(t, "Grey Heron", idx.Records[0].TileName)
}

func TestBuilderReportsCrossSpeciesConflicts(t *testing.T) {
	t.Parallel()

	idx, report := fixedBuilder(nil).Build([]SeedSpecies{
		{SpeciesID: "a", Canonical: "alpha", ExtraAliases: []string{"ali"}},
		{SpeciesID: "b", Canonical: "beta", ExtraAliases: []string{"Ali", "bet"}},
	})

	require.Len(t, report.Conflicts, 1)
	c := report.Conflicts[0]
	assert.Equal(t, "ali", c.Norm)
	assert.Equal(t, "b", c.SpeciesID)
	assert.Equal(t, "a", c.OwnerSpecies)

	var bIDs []uint32
	for _, r := range idx.Records {
		if r.SpeciesID == "b" {
			bIDs = append(bIDs, r.AliasID)
		}
	}
	assert.Equal(t, []uint32{1, 2}, bIDs, "ids stay sequential after a skipped conflict")
}

func TestBuilderMergesRepeatedSpeciesEntries(t *testing.T) {
	t.Parallel()

	idx, report := fixedBuilder(nil).Build([]SeedSpecies{
		{SpeciesID: "a", Canonical: "Crane"},
		{SpeciesID: "b", Canonical: "Swan"},
		{SpeciesID: "a", Canonical: "Crane", ExtraAliases: []string{"kurki"}},
	})

	require.Len(t, idx.Records, 3)
	assert.Equal(t, 2, report.Species)
	assert.Equal(t, 1, report.Duplicates)
	assert.Empty(t, report.Conflicts)

	var ids []uint32
	for _, r := range idx.Records {
		if r.SpeciesID == "a" {
			ids = append(ids, r.AliasID)
		}
	}
	assert.Equal(t, []uint32{1, 2}, ids, "alias ids continue across entries")
	assert.Equal(t, "kurki", idx.Records[2].Norm)
	assert.Equal(t, "crane", idx.Records[2].Canonical)
}

func TestLeanEnricherOmitsSignatures(t *testing.T) {
	t.Parallel()

	idx, _ := fixedBuilder(NewEnricher(false, 0, 0)).Build([]SeedSpecies{
		{SpeciesID: "x", Canonical: "Whooper Swan"},
	})
	require.Len(t, idx.Records, 1)
	assert.Nil(t, idx.Records[0].Signature)
	assert.NotEmpty(t, idx.Records[0].Codes.Cologne)
}

func TestEnrichRecomputesDerivedFields(t *testing.T) {
	t.Parallel()

	r := Record{Alias: "  Töyhtö-Hyyppä ", Norm: "stale"}
	DefaultEnricher().Enrich(&r)

	assert.Equal(t, "töyhtö-hyyppä", r.Alias)
	assert.Equal(t, "toyhto hyyppa", r.Norm)
	assert.NotEmpty(t, r.Codes.Phonemes)
	assert.InDelta(t, DefaultWeight, r.Weight, 0)
	require.NotNil(t, r.Signature)

	r.Alias = "..."
	DefaultEnricher().Enrich(&r)
	assert.Empty(t, r.Norm)
	assert.Nil(t, r.Signature)
	assert.True(t, r.Codes.IsEmpty())
}

func TestIndexCloneIsDeep(t *testing.T) {
	t.Parallel()

	idx, _ := fixedBuilder(nil).Build([]SeedSpecies{{SpeciesID: "x", Canonical: "smew"}})
	cp := idx.Clone()
	cp.Records[0].Signature.MinHash[0] = 42
	cp.Records[0].Norm = "changed"

	assert.NotEqual(t, uint64(42), idx.Records[0].Signature.MinHash[0])
	assert.Equal(t, "smew", idx.Records[0].Norm)
	assert.Equal(t, []string{"x"}, idx.SpeciesIDs())
	assert.Zero(t, (*Index)(nil).Len())
}

func TestPendingAliasKey(t *testing.T) {
	t.Parallel()

	a := PendingAlias{SpeciesID: "grugru", AliasText: "Kurki!"}
	b := PendingAlias{SpeciesID: "grugru", AliasText: "kurki"}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "grugru||kurki", a.Key())
	assert.True(t, SourceUserFieldTrained.Valid())
	assert.False(t, Source("bogus").Valid())
	assert.False(t, SourceUserFieldTrained.IsSeed())
}
