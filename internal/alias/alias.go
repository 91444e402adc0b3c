// Package alias defines the alias record and index model shared by the
// store, the hot-patch cache and the matcher, plus the batch index builder.
package alias

import (
	"slices"
	"strings"
	"time"

	"github.com/tphakala/fieldalias/internal/normalize"
	"github.com/tphakala/fieldalias/internal/phonetic"
	"github.com/tphakala/fieldalias/internal/signature"
)

// Source records where an alias came from.
type Source string

const (
	SourceSeedCanonical    Source = "seed-canonical"
	SourceSeedTile         Source = "seed-tile"
	SourceSeedImported     Source = "seed-imported"
	SourceUserFieldTrained Source = "user-field-trained"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceSeedCanonical, SourceSeedTile, SourceSeedImported, SourceUserFieldTrained:
		return true
	}
	return false
}

// IsSeed reports whether the alias was generated from the species catalog.
func (s Source) IsSeed() bool {
	return s != SourceUserFieldTrained
}

// DefaultWeight is the ranking multiplier of a new record.
const DefaultWeight = 1.0

// Record binds one alias to one species.
type Record struct {
	AliasID   uint32
	SpeciesID string
	Canonical string
	TileName  string
	Alias     string
	Norm      string
	Codes     phonetic.Codes
	Signature *signature.Signature
	Weight    float64
	Source    Source
	CreatedAt time.Time
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r.Signature != nil {
		sig := *r.Signature
		sig.MinHash = slices.Clone(r.Signature.MinHash)
		r.Signature = &sig
	}
	return r
}

// Index is the complete alias collection exchanged between the store and
// the hot-patch cache.
type Index struct {
	Version     uint32
	UpdatedAt   time.Time
	Fingerprint string
	Records     []Record
}

// Len returns the number of records; nil-safe.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Records)
}

// Clone returns a deep copy of idx.
func (idx *Index) Clone() *Index {
	if idx == nil {
		return nil
	}
	out := *idx
	out.Records = make([]Record, len(idx.Records))
	for i := range idx.Records {
		out.Records[i] = idx.Records[i].Clone()
	}
	return &out
}

// SpeciesIDs returns the distinct species ids in first-appearance order.
func (idx *Index) SpeciesIDs() []string {
	if idx == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for i := range idx.Records {
		id := idx.Records[i].SpeciesID
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// PendingAlias is a taught alias waiting to be written to the Master.
type PendingAlias struct {
	SpeciesID string
	AliasText string
	Canonical string
	TileName  string
	Timestamp time.Time
}

// Key is the coalescing key of a pending alias: species id and normalized text.
func (p PendingAlias) Key() string {
	return p.SpeciesID + "||" + normalize.Normalize(p.AliasText)
}

// LowerAlias lowercases and trims raw alias text.
func LowerAlias(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
