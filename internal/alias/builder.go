package alias

import (
	"strings"
	"time"

	"github.com/tphakala/fieldalias/internal/logger"
	"github.com/tphakala/fieldalias/internal/normalize"
)

// SeedSpecies is one catalog entry fed to the Builder.
type SeedSpecies struct {
	SpeciesID    string
	Canonical    string
	TileName     string
	ExtraAliases []string
}

// Conflict describes an alias whose normalized form already belongs to
// another species.
type Conflict struct {
	Norm          string
	SpeciesID     string
	OwnerSpecies  string
	RejectedAlias string
}

// BuildReport summarizes a Build run.
type BuildReport struct {
	Species    int
	Records    int
	Duplicates int
	Blank      int
	Conflicts  []Conflict
}

// Builder turns a seed vocabulary into an Index. It does no I/O.
type Builder struct {
	enricher *Enricher
	now      func() time.Time
}

// NewBuilder returns a Builder using the given enricher; nil selects
// DefaultEnricher.
func NewBuilder(e *Enricher) *Builder {
	if e == nil {
		e = DefaultEnricher()
	}
	return &Builder{enricher: e, now: time.Now}
}

// Build emits, per species, a record for the canonical name, one for the
// tile label when it differs case-insensitively, and one per non-blank
// extra alias. Alias ids are sequential per species starting at 1.
// Duplicates within a species are skipped; an alias whose normalized form
// belongs to an earlier species is skipped and reported as a conflict.
// A species listed more than once continues its alias ids and keeps the
// canonical name and tile label of its first entry.
func (b *Builder) Build(seeds []SeedSpecies) (*Index, BuildReport) {
	now := b.now().UTC()
	idx := &Index{Version: 1, UpdatedAt: now}
	var report BuildReport

	type speciesState struct {
		canonical string
		tile      string
		nextID    uint32
	}
	owner := make(map[string]string)
	species := make(map[string]*speciesState)
	for _, s := range seeds {
		speciesID := strings.TrimSpace(s.SpeciesID)
		if speciesID == "" {
			report.Blank++
			continue
		}
		sp := species[speciesID]
		if sp == nil {
			sp = &speciesState{
				canonical: LowerAlias(s.Canonical),
				tile:      strings.TrimSpace(s.TileName),
				nextID:    1,
			}
			species[speciesID] = sp
			report.Species++
		}
		canonical, tile := sp.canonical, sp.tile

		type candidate struct {
			text   string
			source Source
		}
		candidates := make([]candidate, 0, 2+len(s.ExtraAliases))
		candidates = append(candidates, candidate{s.Canonical, SourceSeedCanonical})
		if tile != "" && !strings.EqualFold(tile, strings.TrimSpace(s.Canonical)) {
			candidates = append(candidates, candidate{tile, SourceSeedTile})
		}
		for _, extra := range s.ExtraAliases {
			candidates = append(candidates, candidate{extra, SourceSeedImported})
		}

		for _, c := range candidates {
			norm := normalize.Normalize(c.text)
			if norm == "" {
				report.Blank++
				continue
			}
			other, taken := owner[norm]
			if taken && other == speciesID {
				report.Duplicates++
				continue
			}
			if taken {
				report.Conflicts = append(report.Conflicts, Conflict{
					Norm:          norm,
					SpeciesID:     speciesID,
					OwnerSpecies:  other,
					RejectedAlias: c.text,
				})
				continue
			}

			rec := Record{
				AliasID:   sp.nextID,
				SpeciesID: speciesID,
				Canonical: canonical,
				TileName:  tile,
				Alias:     c.text,
				Weight:    DefaultWeight,
				Source:    c.source,
				CreatedAt: now,
			}
			b.enricher.Enrich(&rec)
			sp.nextID++
			owner[norm] = speciesID
			idx.Records = append(idx.Records, rec)
		}
	}

	report.Records = len(idx.Records)
	if len(report.Conflicts) > 0 {
		GetLogger().Debug("seed aliases rejected by cross-species conflict",
			logger.Int("conflicts", len(report.Conflicts)))
	}
	return idx, report
}
