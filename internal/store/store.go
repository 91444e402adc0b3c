// Package store persists the alias index as a human-readable YAML Master
// plus a compressed binary fast-load cache.
package store

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/catalog"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

// Default file names inside the storage root.
const (
	DefaultMasterFile = "aliases.master.yaml"
	DefaultCacheFile  = "aliases.cache.bin"

	filePerm = 0o600
)

// Backend is the storage root the store reads and writes through.
// *securefs.SecureFS implements it.
type Backend interface {
	ReadFile(name string) ([]byte, error)
	WriteFileAtomic(name string, data []byte, perm os.FileMode) error
	Rename(oldName, newName string) error
	Remove(name string) error
}

// Origin tells where a loaded index came from.
type Origin string

const (
	OriginNone        Origin = "none"
	OriginCache       Origin = "cache"
	OriginMaster      Origin = "master"
	OriginSeed        Origin = "seed"
	OriginRegenerated Origin = "regenerated"
)

// Outcome classifies a load so callers can choose retry or fallback.
type Outcome int

const (
	// OutcomeOK means Index is complete.
	OutcomeOK Outcome = iota
	// OutcomeNoData means there is no Master and no catalog to seed from.
	OutcomeNoData
	// OutcomeTransient means storage could not be read; retrying may help.
	OutcomeTransient
	// OutcomeCorrupt means persisted data was unusable and nothing could replace it.
	OutcomeCorrupt
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoData:
		return "no-data"
	case OutcomeTransient:
		return "transient"
	case OutcomeCorrupt:
		return "corrupt"
	}
	return "unknown"
}

// LoadResult is the result of Load. Index is nil unless Outcome is
// OutcomeOK; it is never partial.
type LoadResult struct {
	Index   *alias.Index
	Origin  Origin
	Outcome Outcome
	Err     error
}

// Options configures a Store.
type Options struct {
	MasterFile string
	CacheFile  string
	Catalog    catalog.Catalog
	Enricher   *alias.Enricher
	Now        func() time.Time
}

// Store owns the Master and cache files. Master writes are serialized.
type Store struct {
	backend Backend
	opts    Options
	builder *alias.Builder

	mu          sync.Mutex
	lastWritten atomic.Uint32
}

// New returns a Store over backend.
func New(backend Backend, opts Options) *Store {
	if opts.MasterFile == "" {
		opts.MasterFile = DefaultMasterFile
	}
	if opts.CacheFile == "" {
		opts.CacheFile = DefaultCacheFile
	}
	if opts.Enricher == nil {
		opts.Enricher = alias.DefaultEnricher()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend: backend,
		opts:    opts,
		builder: alias.NewBuilder(opts.Enricher),
	}
}

// MasterFile returns the Master file name.
func (s *Store) MasterFile() string { return s.opts.MasterFile }

// CacheFile returns the cache file name.
func (s *Store) CacheFile() string { return s.opts.CacheFile }

// LastWrittenVersion is the Master version this process wrote last.
func (s *Store) LastWrittenVersion() uint32 {
	return s.lastWritten.Load()
}

func (s *Store) now() time.Time {
	return s.opts.Now().UTC()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// catalogState fetches the catalog once per load. A missing or failing
// catalog yields ok=false and the fingerprint check is skipped.
func (s *Store) catalogState(ctx context.Context) (species []catalog.Species, fingerprint string, ok bool) {
	if s.opts.Catalog == nil {
		return nil, "", false
	}
	species, err := s.opts.Catalog.Species(ctx)
	if err != nil {
		GetLogger().Warn("species catalog unavailable",
			logger.String("catalog", s.opts.Catalog.Name()),
			logger.Error(err))
		return nil, "", false
	}
	return species, catalog.Fingerprint(species), true
}

// Load prefers a valid cache, then the Master (rebuilding the cache),
// then seeds from the catalog. Failures are logged and classified rather
// than returned as errors.
func (s *Store) Load(ctx context.Context) LoadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := GetLogger().WithContext(ctx)
	start := time.Now()
	species, fingerprint, haveCatalog := s.catalogState(ctx)

	if idx, ok := s.loadCache(); ok {
		if !haveCatalog || idx.Fingerprint == fingerprint {
			log.Info("alias index loaded from cache",
				logger.Int("records", idx.Len()),
				logger.Duration("elapsed", time.Since(start)))
			return LoadResult{Index: idx, Origin: OriginCache, Outcome: OutcomeOK}
		}
		log.Info("catalog changed since cache was written")
	}

	master, err := s.readMasterLocked()
	switch {
	case err == nil:
		if haveCatalog && master.CatalogFingerprint != fingerprint {
			return s.regenerateLocked(ctx, master, species, fingerprint)
		}
		idx := master.ToIndex(s.opts.Enricher)
		if err := s.writeCache(idx); err != nil {
			log.Warn("cache rebuild failed", logger.Error(err))
		}
		log.Info("alias index loaded from master",
			logger.Int("records", idx.Len()),
			logger.Duration("elapsed", time.Since(start)))
		return LoadResult{Index: idx, Origin: OriginMaster, Outcome: OutcomeOK}

	case errors.IsCategory(err, errors.CategoryCorruptData):
		log.Error("master file is corrupt", logger.Error(err))
		if !haveCatalog {
			return LoadResult{Origin: OriginNone, Outcome: OutcomeCorrupt, Err: err}
		}
		s.quarantineMasterLocked()
		return s.seedLocked(ctx, species, fingerprint)

	case errors.IsNotFound(err):
		if !haveCatalog {
			return LoadResult{Origin: OriginNone, Outcome: OutcomeNoData}
		}
		return s.seedLocked(ctx, species, fingerprint)

	default:
		log.Warn("master file unreadable", logger.Error(err))
		return LoadResult{Origin: OriginNone, Outcome: OutcomeTransient, Err: err}
	}
}

// loadCache returns the decoded cache; a missing or invalid cache yields
// ok=false and invalid ones are logged.
func (s *Store) loadCache() (*alias.Index, bool) {
	data, err := s.backend.ReadFile(s.opts.CacheFile)
	if err != nil {
		if !isNotExist(err) {
			GetLogger().Warn("cache unreadable", logger.Error(err))
		}
		return nil, false
	}
	idx, err := DecodeCache(data)
	if err != nil {
		GetLogger().Warn("cache discarded, falling back to master",
			logger.Error(err),
			logger.Int("bytes", len(data)))
		return nil, false
	}
	return idx, true
}

func (s *Store) seedLocked(ctx context.Context, species []catalog.Species, fingerprint string) LoadResult {
	if err := ctx.Err(); err != nil {
		return LoadResult{Origin: OriginNone, Outcome: OutcomeTransient, Err: err}
	}
	idx, report := s.builder.Build(catalog.ToSeeds(species))
	idx.Fingerprint = fingerprint

	master := MasterFromIndex(idx)
	if err := s.writeMasterLocked(master); err != nil {
		GetLogger().Warn("seeded index could not be persisted", logger.Error(err))
	} else if err := s.writeCache(idx); err != nil {
		GetLogger().Warn("cache rebuild failed", logger.Error(err))
	}
	GetLogger().Info("alias index seeded from catalog",
		logger.Int("species", report.Species),
		logger.Int("records", report.Records),
		logger.Int("conflicts", len(report.Conflicts)))
	return LoadResult{Index: idx, Origin: OriginSeed, Outcome: OutcomeOK}
}

// regenerateLocked rebuilds the index wholesale for a changed catalog,
// keeping user-taught aliases of species that still exist.
func (s *Store) regenerateLocked(ctx context.Context, old *Master, species []catalog.Species, fingerprint string) LoadResult {
	if err := ctx.Err(); err != nil {
		return LoadResult{Origin: OriginNone, Outcome: OutcomeTransient, Err: err}
	}
	idx, _ := s.builder.Build(catalog.ToSeeds(species))
	master := MasterFromIndex(idx)
	kept := carryOverTrained(master, old)
	master.Version = old.Version + 1
	master.UpdatedAt = s.now()
	master.CatalogFingerprint = fingerprint

	idx = master.ToIndex(s.opts.Enricher)
	if err := s.writeMasterLocked(master); err != nil {
		GetLogger().Warn("regenerated index could not be persisted", logger.Error(err))
	} else if err := s.writeCache(idx); err != nil {
		GetLogger().Warn("cache rebuild failed", logger.Error(err))
	}
	GetLogger().Info("alias index regenerated for changed catalog",
		logger.Int("records", idx.Len()),
		logger.Int("trained_kept", kept))
	return LoadResult{Index: idx, Origin: OriginRegenerated, Outcome: OutcomeOK}
}

// quarantineMasterLocked moves a corrupt Master aside so it can be
// inspected by hand.
func (s *Store) quarantineMasterLocked() {
	target := s.opts.MasterFile + ".corrupt-" + s.now().Format("20060102T150405")
	if err := s.backend.Rename(s.opts.MasterFile, target); err != nil {
		GetLogger().Warn("could not move corrupt master aside", logger.Error(err))
		return
	}
	GetLogger().Warn("corrupt master moved aside", logger.String("file", target))
}

// ReadMaster reads and parses the Master. A missing file is reported with
// CategoryNotFound, unparsable content with CategoryCorruptData.
func (s *Store) ReadMaster(ctx context.Context) (*Master, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMasterLocked()
}

func (s *Store) readMasterLocked() (*Master, error) {
	data, err := s.backend.ReadFile(s.opts.MasterFile)
	if err != nil {
		category := errors.CategoryFileIO
		if isNotExist(err) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("store").
			Category(category).
			FileContext(s.opts.MasterFile, 0).
			Build()
	}
	return UnmarshalMaster(data)
}

// WriteMaster replaces the Master atomically.
func (s *Store) WriteMaster(ctx context.Context, m *Master) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMasterLocked(m)
}

func (s *Store) writeMasterLocked(m *Master) error {
	m.FormatVersion = MasterFormatVersion
	data, err := MarshalMaster(m)
	if err != nil {
		return err
	}
	if err := s.backend.WriteFileAtomic(s.opts.MasterFile, data, filePerm); err != nil {
		return errors.New(err).
			Component("store").
			Category(errors.CategoryFileIO).
			FileContext(s.opts.MasterFile, int64(len(data))).
			Context("operation", "write_master").
			Build()
	}
	s.lastWritten.Store(m.Version)
	return nil
}

// RebuildCache regenerates the cache file from m synchronously.
func (s *Store) RebuildCache(ctx context.Context, m *Master) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeCache(m.ToIndex(s.opts.Enricher))
}

func (s *Store) writeCache(idx *alias.Index) error {
	data, err := EncodeCache(idx)
	if err != nil {
		return errors.New(err).
			Component("store").
			Category(errors.CategoryEncoding).
			Context("operation", "encode_cache").
			Build()
	}
	if err := s.backend.WriteFileAtomic(s.opts.CacheFile, data, filePerm); err != nil {
		return errors.New(err).
			Component("store").
			Category(errors.CategoryFileIO).
			FileContext(s.opts.CacheFile, int64(len(data))).
			Context("operation", "write_cache").
			Build()
	}
	return nil
}

// dropCache removes a cache that no longer matches the Master.
func (s *Store) dropCache() {
	if err := s.backend.Remove(s.opts.CacheFile); err != nil && !isNotExist(err) {
		GetLogger().Warn("failed to remove stale cache", logger.Error(err))
	}
}

// Persist merges pending aliases into the Master, bumps its version,
// writes it atomically and rebuilds the cache. It returns the number of
// aliases added. On error the Master on disk is unchanged and the caller
// keeps the batch. A failed cache rebuild removes the stale cache
// instead of failing, since the Master is already durable.
func (s *Store) Persist(ctx context.Context, pending []alias.PendingAlias) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	master, err := s.readMasterLocked()
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		master = NewMaster()
	default:
		return 0, err
	}

	added := MergePending(master, pending)
	if added == 0 {
		return 0, nil
	}
	master.Version++
	master.UpdatedAt = s.now()
	if err := s.writeMasterLocked(master); err != nil {
		return 0, err
	}
	if err := s.writeCache(master.ToIndex(s.opts.Enricher)); err != nil {
		GetLogger().Warn("cache rebuild after flush failed", logger.Error(err))
		s.dropCache()
	}
	return added, nil
}
