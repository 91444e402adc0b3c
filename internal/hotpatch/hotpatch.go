// Package hotpatch holds the in-memory alias map that makes taught aliases
// visible to queries immediately, before they are persisted.
package hotpatch

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
	"github.com/tphakala/fieldalias/internal/normalize"
	"github.com/tphakala/fieldalias/internal/phonetic"
)

// Sentinel errors returned by AddAliasHotpatch.
var (
	ErrBlankAlias   = errors.NewStd("alias is blank after normalization")
	ErrBlankSpecies = errors.NewStd("species id is blank")
	ErrDuplicate    = errors.NewStd("alias already exists for species")
	ErrConflict     = errors.NewStd("alias is bound to another species")
)

// GetLogger returns the hotpatch package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("hotpatch")
}

// LoadFunc produces the persisted index for EnsureLoaded. A nil index with
// a nil error means there is nothing to load yet.
type LoadFunc func(ctx context.Context) (*alias.Index, error)

type speciesInfo struct {
	canonical string
	tile      string
	maxID     uint32
}

// state is one generation of the maps. Replace swaps in a new state so
// readers never observe a half-built index.
type state struct {
	entries sync.Map // norm -> []alias.Record, never mutated after Store
	codes   sync.Map // code key -> []string norms, never mutated after Store
	count   atomic.Int64
}

// Cache is safe for concurrent use. Reads are lock-free; inserts take the
// writer mutex and never do I/O.
type Cache struct {
	cur        atomic.Pointer[state]
	mu         sync.Mutex
	species    map[string]*speciesInfo
	generation atomic.Uint64
	version    atomic.Uint32

	enricher *alias.Enricher
	now      func() time.Time

	loader  LoadFunc
	onEvict func([]alias.Record)
	loaded  atomic.Bool
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithEnricher sets how inserted aliases are enriched.
func WithEnricher(e *alias.Enricher) Option {
	return func(c *Cache) { c.enricher = e }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLoader sets the function EnsureLoaded populates the cache from.
func WithLoader(fn LoadFunc) Option {
	return func(c *Cache) { c.loader = fn }
}

// WithEvictObserver registers a callback invoked with the taught aliases
// the initial load dropped because the loaded index binds them to another
// species.
func WithEvictObserver(fn func([]alias.Record)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		species:  make(map[string]*speciesInfo),
		enricher: alias.DefaultEnricher(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cur.Store(&state{})
	return c
}

// CodeKeys returns the secondary index keys for a set of phonetic codes:
// the full cologne, phoneme and metaphone codes plus per-word cologne and
// metaphone codes of multi-word aliases.
func CodeKeys(codes phonetic.Codes) []string {
	keys := make([]string, 0, 6)
	add := func(k string) {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	if codes.Cologne != "" {
		add("c:" + codes.Cologne)
		if strings.Contains(codes.Cologne, " ") {
			for w := range strings.FieldsSeq(codes.Cologne) {
				add("c:" + w)
			}
		}
	}
	if codes.Phonemes != "" {
		add("p:" + codes.Phonemes)
	}
	if codes.Metaphone != "" {
		add("m:" + codes.Metaphone)
		if strings.Contains(codes.Metaphone, " ") {
			for w := range strings.FieldsSeq(codes.Metaphone) {
				add("m:" + w)
			}
		}
	}
	return keys
}

// insertLocked stores rec in st. The caller holds c.mu.
func (c *Cache) insertLocked(st *state, rec alias.Record) {
	var next []alias.Record
	if v, ok := st.entries.Load(rec.Norm); ok {
		prev, _ := v.([]alias.Record)
		next = make([]alias.Record, len(prev), len(prev)+1)
		copy(next, prev)
	}
	next = append(next, rec)
	st.entries.Store(rec.Norm, next)
	st.count.Add(1)

	for _, key := range CodeKeys(rec.Codes) {
		var norms []string
		if v, ok := st.codes.Load(key); ok {
			prev, _ := v.([]string)
			if slices.Contains(prev, rec.Norm) {
				continue
			}
			norms = make([]string, len(prev), len(prev)+1)
			copy(norms, prev)
		}
		st.codes.Store(key, append(norms, rec.Norm))
	}

	info := c.species[rec.SpeciesID]
	if info == nil {
		info = &speciesInfo{}
		c.species[rec.SpeciesID] = info
	}
	if info.canonical == "" {
		info.canonical = rec.Canonical
	}
	if info.tile == "" {
		info.tile = rec.TileName
	}
	info.maxID = max(info.maxID, rec.AliasID)
}

// AddAliasHotpatch normalizes aliasText, derives its codes, assigns the
// next alias id of the species and inserts the record. The record is
// visible to readers when the call returns. No I/O is done.
func (c *Cache) AddAliasHotpatch(speciesID, aliasText, canonical, tileName string) (alias.Record, error) {
	speciesID = strings.TrimSpace(speciesID)
	if speciesID == "" {
		return alias.Record{}, ErrBlankSpecies
	}
	norm := normalize.Normalize(aliasText)
	if norm == "" {
		return alias.Record{}, ErrBlankAlias
	}

	rec := alias.Record{
		SpeciesID: speciesID,
		Alias:     aliasText,
		Weight:    alias.DefaultWeight,
		Source:    alias.SourceUserFieldTrained,
	}
	// encoding runs outside the lock
	c.enricher.Enrich(&rec)

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.cur.Load()
	if v, ok := st.entries.Load(norm); ok {
		for _, existing := range v.([]alias.Record) {
			if existing.SpeciesID == speciesID {
				return alias.Record{}, ErrDuplicate
			}
			return alias.Record{}, errors.New(ErrConflict).
				Component("hotpatch").
				Category(errors.CategoryConflict).
				Context("owner_species_id", existing.SpeciesID).
				Build()
		}
	}

	info := c.species[speciesID]
	canonical = alias.LowerAlias(canonical)
	tileName = strings.TrimSpace(tileName)
	if info != nil {
		if canonical == "" {
			canonical = info.canonical
		}
		if tileName == "" {
			tileName = info.tile
		}
		rec.AliasID = info.maxID + 1
	} else {
		rec.AliasID = 1
	}
	rec.Canonical = canonical
	rec.TileName = tileName
	rec.CreatedAt = c.now().UTC()

	c.insertLocked(st, rec)
	c.generation.Add(1)
	return rec.Clone(), nil
}

// FindExact returns copies of the records stored under a normalized key.
func (c *Cache) FindExact(norm string) []alias.Record {
	v, ok := c.cur.Load().entries.Load(norm)
	if !ok {
		return nil
	}
	recs, _ := v.([]alias.Record)
	out := make([]alias.Record, len(recs))
	for i := range recs {
		out[i] = recs[i].Clone()
	}
	return out
}

// Candidates returns every record indexed under any of keys, each record
// once. The returned records share signature storage with the cache and
// must not be modified.
func (c *Cache) Candidates(keys []string) []alias.Record {
	st := c.cur.Load()
	seen := make(map[string]struct{})
	var out []alias.Record
	for _, key := range keys {
		v, ok := st.codes.Load(key)
		if !ok {
			continue
		}
		for _, norm := range v.([]string) {
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			if rv, ok := st.entries.Load(norm); ok {
				out = append(out, rv.([]alias.Record)...)
			}
		}
	}
	return out
}

// Range calls fn for every record until fn returns false. Records must not
// be modified.
func (c *Cache) Range(fn func(rec *alias.Record) bool) {
	c.cur.Load().entries.Range(func(_, v any) bool {
		recs := v.([]alias.Record)
		for i := range recs {
			if !fn(&recs[i]) {
				return false
			}
		}
		return true
	})
}

// Len returns the number of records.
func (c *Cache) Len() int {
	return int(c.cur.Load().count.Load())
}

// Generation increases on every change and lets readers invalidate
// derived caches.
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// Snapshot copies all records into an Index ordered by species id and
// alias id.
func (c *Cache) Snapshot() *alias.Index {
	idx := &alias.Index{Version: c.version.Load(), UpdatedAt: c.now().UTC()}
	c.Range(func(rec *alias.Record) bool {
		idx.Records = append(idx.Records, rec.Clone())
		return true
	})
	slices.SortFunc(idx.Records, func(a, b alias.Record) int {
		return cmp.Or(cmp.Compare(a.SpeciesID, b.SpeciesID), cmp.Compare(a.AliasID, b.AliasID))
	})
	return idx
}

// Replace swaps the contents for idx. Taught aliases in the current
// contents that idx does not hold are carried over, numbered after the
// loaded aliases of their species. A taught alias whose normalized form
// idx binds to another species is dropped; the dropped records are
// returned.
func (c *Cache) Replace(idx *alias.Index) []alias.Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	taught := trainedRecords(c.cur.Load())
	st := &state{}
	c.species = make(map[string]*speciesInfo)
	n := c.mergeLocked(st, idx)

	var evicted []alias.Record
	carried := 0
	for _, rec := range taught {
		if v, ok := st.entries.Load(rec.Norm); ok {
			if owner := v.([]alias.Record)[0].SpeciesID; owner != rec.SpeciesID {
				evicted = append(evicted, rec)
				GetLogger().Warn("taught alias dropped, bound to another species by the loaded index",
					logger.String("species_id", rec.SpeciesID),
					logger.String("alias", rec.Norm),
					logger.String("owner_species_id", owner))
			}
			continue
		}
		rec.AliasID = 1
		if info := c.species[rec.SpeciesID]; info != nil {
			rec.AliasID = info.maxID + 1
			if rec.Canonical == "" {
				rec.Canonical = info.canonical
			}
			if rec.TileName == "" {
				rec.TileName = info.tile
			}
		}
		c.insertLocked(st, rec)
		carried++
	}

	c.cur.Store(st)
	if idx != nil {
		c.version.Store(idx.Version)
	}
	c.generation.Add(1)
	GetLogger().Debug("hot-patch cache replaced",
		logger.Int("records", n),
		logger.Int("carried", carried),
		logger.Int("evicted", len(evicted)))
	return evicted
}

// trainedRecords returns copies of the user-field-trained records of st in
// the order they were taught.
func trainedRecords(st *state) []alias.Record {
	var out []alias.Record
	st.entries.Range(func(_, v any) bool {
		for _, rec := range v.([]alias.Record) {
			if rec.Source == alias.SourceUserFieldTrained {
				out = append(out, rec.Clone())
			}
		}
		return true
	})
	slices.SortFunc(out, func(a, b alias.Record) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.SpeciesID, b.SpeciesID),
			cmp.Compare(a.AliasID, b.AliasID))
	})
	return out
}

// Merge adds the records of idx that are not present yet. Records already
// in the cache, including hot-patched ones, win over loaded ones.
func (c *Cache) Merge(idx *alias.Index) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.mergeLocked(c.cur.Load(), idx)
	if idx != nil && idx.Version > c.version.Load() {
		c.version.Store(idx.Version)
	}
	if n > 0 {
		c.generation.Add(1)
	}
	return n
}

func (c *Cache) mergeLocked(st *state, idx *alias.Index) int {
	if idx == nil {
		return 0
	}
	added, conflicts := 0, 0
	for i := range idx.Records {
		rec := idx.Records[i]
		if rec.Norm == "" {
			continue
		}
		if v, ok := st.entries.Load(rec.Norm); ok {
			if v.([]alias.Record)[0].SpeciesID != rec.SpeciesID {
				conflicts++
			}
			continue
		}
		c.insertLocked(st, rec.Clone())
		added++
	}
	if conflicts > 0 {
		GetLogger().Warn("loaded aliases conflicting with cached ones were skipped",
			logger.Int("conflicts", conflicts))
	}
	return added
}

// Loaded reports whether EnsureLoaded has completed successfully.
func (c *Cache) Loaded() bool {
	return c.loaded.Load()
}

// EnsureLoaded populates the cache from the loader once. Concurrent
// callers share a single load; after a failure the next call retries.
// Aliases hot-patched before the load completes are carried over as in
// Replace, and the ones the loaded index contradicts are handed to the
// evict observer.
func (c *Cache) EnsureLoaded(ctx context.Context) error {
	if c.loaded.Load() {
		return nil
	}
	if c.loader == nil {
		return errors.Newf("hot-patch cache has no loader").
			Component("hotpatch").
			Category(errors.CategoryState).
			Build()
	}

	ch := c.group.DoChan("load", func() (any, error) {
		if c.loaded.Load() {
			return nil, nil
		}
		idx, err := c.loader(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if idx == nil {
			return nil, nil
		}
		evicted := c.Replace(idx)
		c.loaded.Store(true)
		GetLogger().Info("hot-patch cache loaded",
			logger.Int("records", len(idx.Records)),
			logger.Int("total", c.Len()))
		if len(evicted) > 0 && c.onEvict != nil {
			c.onEvict(evicted)
		}
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}
