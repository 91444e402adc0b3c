package store

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
	"github.com/tphakala/fieldalias/internal/normalize"
)

// MasterFormatVersion is written to every Master file.
const MasterFormatVersion = 1

// Master is the durable, human-editable alias file. Derived fields (norm,
// phonetic codes, signatures) are not stored; they are rebuilt on load.
type Master struct {
	FormatVersion      int             `yaml:"format_version"`
	Version            uint32          `yaml:"version"`
	UpdatedAt          time.Time       `yaml:"updated_at"`
	CatalogFingerprint string          `yaml:"catalog_fingerprint,omitempty"`
	Species            []MasterSpecies `yaml:"species"`
}

// MasterSpecies groups the aliases of one species.
type MasterSpecies struct {
	SpeciesID string        `yaml:"species_id"`
	Canonical string        `yaml:"canonical"`
	TileName  string        `yaml:"tile_name,omitempty"`
	Aliases   []MasterAlias `yaml:"aliases"`
}

// MasterAlias is one alias line.
type MasterAlias struct {
	ID        uint32       `yaml:"id"`
	Alias     string       `yaml:"alias"`
	Source    alias.Source `yaml:"source"`
	Weight    float64      `yaml:"weight,omitempty"`
	CreatedAt time.Time    `yaml:"created_at,omitempty"`
}

// NewMaster returns an empty Master.
func NewMaster() *Master {
	return &Master{FormatVersion: MasterFormatVersion}
}

// MarshalMaster encodes m as YAML.
func MarshalMaster(m *Master) ([]byte, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, errors.New(err).
			Component("store").
			Category(errors.CategoryEncoding).
			Context("operation", "marshal_master").
			Build()
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// UnmarshalMaster decodes a Master. Malformed YAML or an unsupported
// format version is reported as corrupt data.
func UnmarshalMaster(data []byte) (*Master, error) {
	m := &Master{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.New(err).
			Component("store").
			Category(errors.CategoryCorruptData).
			Context("operation", "unmarshal_master").
			Build()
	}
	if m.FormatVersion == 0 {
		m.FormatVersion = MasterFormatVersion
	}
	if m.FormatVersion > MasterFormatVersion {
		return nil, errors.Newf("unsupported master format version %d", m.FormatVersion).
			Component("store").
			Category(errors.CategoryCorruptData).
			Build()
	}
	return m, nil
}

// MasterFromIndex groups index records per species, preserving order.
func MasterFromIndex(idx *alias.Index) *Master {
	m := NewMaster()
	if idx == nil {
		return m
	}
	m.Version = idx.Version
	m.UpdatedAt = idx.UpdatedAt
	m.CatalogFingerprint = idx.Fingerprint

	pos := make(map[string]int)
	for i := range idx.Records {
		r := &idx.Records[i]
		p, ok := pos[r.SpeciesID]
		if !ok {
			p = len(m.Species)
			pos[r.SpeciesID] = p
			m.Species = append(m.Species, MasterSpecies{
				SpeciesID: r.SpeciesID,
				Canonical: r.Canonical,
				TileName:  r.TileName,
			})
		}
		m.Species[p].Aliases = append(m.Species[p].Aliases, MasterAlias{
			ID:        r.AliasID,
			Alias:     r.Alias,
			Source:    r.Source,
			Weight:    r.Weight,
			CreatedAt: r.CreatedAt,
		})
	}
	return m
}

// ToIndex derives the flat index. Blank aliases, duplicates within a
// species and aliases already owned by an earlier species are dropped
// with a warning; the first occurrence wins.
func (m *Master) ToIndex(e *alias.Enricher) *alias.Index {
	idx := &alias.Index{
		Version:     m.Version,
		UpdatedAt:   m.UpdatedAt,
		Fingerprint: m.CatalogFingerprint,
	}
	owner := make(map[string]string)
	dropped := 0
	for _, sp := range m.Species {
		for _, a := range sp.Aliases {
			rec := alias.Record{
				AliasID:   a.ID,
				SpeciesID: sp.SpeciesID,
				Canonical: alias.LowerAlias(sp.Canonical),
				TileName:  sp.TileName,
				Alias:     a.Alias,
				Weight:    a.Weight,
				Source:    a.Source,
				CreatedAt: a.CreatedAt,
			}
			if !rec.Source.Valid() {
				rec.Source = alias.SourceSeedImported
			}
			e.Enrich(&rec)
			if rec.Norm == "" {
				dropped++
				continue
			}
			if other, ok := owner[rec.Norm]; ok {
				if other != sp.SpeciesID {
					GetLogger().Warn("master alias conflicts with another species",
						logger.String("species_id", sp.SpeciesID),
						logger.String("owner_species_id", other))
				}
				dropped++
				continue
			}
			owner[rec.Norm] = sp.SpeciesID
			idx.Records = append(idx.Records, rec)
		}
	}
	if dropped > 0 {
		GetLogger().Debug("master aliases dropped while building index", logger.Int("dropped", dropped))
	}
	return idx
}

// AliasCount returns the number of alias lines.
func (m *Master) AliasCount() int {
	n := 0
	for i := range m.Species {
		n += len(m.Species[i].Aliases)
	}
	return n
}

// masterIndex tracks normalized alias ownership while merging.
type masterIndex struct {
	m       *Master
	owner   map[string]string
	species map[string]int
}

func newMasterIndex(m *Master) *masterIndex {
	mi := &masterIndex{
		m:       m,
		owner:   make(map[string]string),
		species: make(map[string]int, len(m.Species)),
	}
	for i, sp := range m.Species {
		mi.species[sp.SpeciesID] = i
		for _, a := range sp.Aliases {
			if n := normalize.Normalize(a.Alias); n != "" {
				if _, taken := mi.owner[n]; !taken {
					mi.owner[n] = sp.SpeciesID
				}
			}
		}
	}
	return mi
}

// add appends an alias unless it is blank, already present for the
// species or owned by another species. The alias id is max+1 within the
// species.
func (mi *masterIndex) add(speciesID, canonical, tile string, a MasterAlias) bool {
	norm := normalize.Normalize(a.Alias)
	if norm == "" || speciesID == "" {
		return false
	}
	if owner, taken := mi.owner[norm]; taken {
		if owner != speciesID {
			GetLogger().Info("alias rejected, bound to another species",
				logger.String("species_id", speciesID),
				logger.String("owner_species_id", owner))
		}
		return false
	}

	p, ok := mi.species[speciesID]
	if !ok {
		p = len(mi.m.Species)
		mi.species[speciesID] = p
		mi.m.Species = append(mi.m.Species, MasterSpecies{
			SpeciesID: speciesID,
			Canonical: alias.LowerAlias(canonical),
			TileName:  strings.TrimSpace(tile),
		})
	}
	sp := &mi.m.Species[p]

	var maxID uint32
	for _, existing := range sp.Aliases {
		maxID = max(maxID, existing.ID)
	}
	a.ID = maxID + 1
	a.Alias = alias.LowerAlias(a.Alias)
	if a.Weight <= 0 {
		a.Weight = alias.DefaultWeight
	}
	sp.Aliases = append(sp.Aliases, a)
	mi.owner[norm] = speciesID
	return true
}

// MergePending adds taught aliases to m, deduplicating per species by
// normalized form, and returns how many were added.
func MergePending(m *Master, pending []alias.PendingAlias) (added int) {
	mi := newMasterIndex(m)
	for _, p := range pending {
		ok := mi.add(p.SpeciesID, p.Canonical, p.TileName, MasterAlias{
			Alias:     p.AliasText,
			Source:    alias.SourceUserFieldTrained,
			Weight:    alias.DefaultWeight,
			CreatedAt: p.Timestamp.UTC(),
		})
		if ok {
			added++
		}
	}
	return added
}

// carryOverTrained copies user-taught aliases from old into m when the
// species still exists in m. It returns how many were kept.
func carryOverTrained(m, old *Master) int {
	mi := newMasterIndex(m)
	kept := 0
	for _, sp := range old.Species {
		if _, ok := mi.species[sp.SpeciesID]; !ok {
			continue
		}
		for _, a := range sp.Aliases {
			if a.Source != alias.SourceUserFieldTrained {
				continue
			}
			if mi.add(sp.SpeciesID, sp.Canonical, sp.TileName, a) {
				kept++
			}
		}
	}
	return kept
}
