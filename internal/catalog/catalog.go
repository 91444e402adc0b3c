// Package catalog provides the external species catalog the alias index is
// seeded from: BirdNET style label files, a SQLite table or a static list.
package catalog

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

// Catalog types accepted by New.
const (
	TypeLabels = "labels"
	TypeSQLite = "sqlite"
	TypeNone   = "none"
)

// Species is one catalog entry.
type Species struct {
	ID        string
	Canonical string
	TileName  string
	Aliases   []string
}

// Catalog lists the species known to the deployment.
type Catalog interface {
	Species(ctx context.Context) ([]Species, error)
	Name() string
}

// GetLogger returns the catalog package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("catalog")
}

// New opens a catalog of the given type. TypeNone returns a nil Catalog and
// no error.
func New(kind, path string) (Catalog, error) {
	switch kind {
	case TypeLabels:
		return NewLabelFileCatalog(path), nil
	case TypeSQLite:
		c, err := NewSQLiteCatalog(path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case TypeNone, "":
		return nil, nil
	default:
		return nil, errors.Newf("unknown catalog type %q", kind).
			Component("catalog").
			Category(errors.CategoryConfiguration).
			Context("type", kind).
			Build()
	}
}

// ToSeeds converts catalog entries into builder input.
func ToSeeds(species []Species) []alias.SeedSpecies {
	seeds := make([]alias.SeedSpecies, 0, len(species))
	for _, s := range species {
		seeds = append(seeds, alias.SeedSpecies{
			SpeciesID:    s.ID,
			Canonical:    s.Canonical,
			TileName:     s.TileName,
			ExtraAliases: slices.Clone(s.Aliases),
		})
	}
	return seeds
}

// Fingerprint hashes the structure of a catalog. It is independent of
// entry order, so only added, removed or renamed species change it.
func Fingerprint(species []Species) string {
	lines := make([]string, 0, len(species))
	for _, s := range species {
		aliases := slices.Clone(s.Aliases)
		sort.Strings(aliases)
		lines = append(lines, s.ID+"\x1f"+s.Canonical+"\x1f"+s.TileName+"\x1f"+strings.Join(aliases, "\x1e"))
	}
	sort.Strings(lines)

	d := xxhash.New()
	for _, l := range lines {
		_, _ = d.WriteString(l)
		_, _ = d.WriteString("\n")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// StaticCatalog is an in-memory catalog.
type StaticCatalog []Species

// Species returns a copy of the list.
func (c StaticCatalog) Species(_ context.Context) ([]Species, error) {
	return slices.Clone(c), nil
}

// Name identifies the catalog in logs.
func (c StaticCatalog) Name() string {
	return "static"
}
