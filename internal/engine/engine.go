// Package engine wires the store, the hot-patch cache, the write-behind
// queue and the matcher into the single object the rest of the program
// talks to.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/hotpatch"
	"github.com/tphakala/fieldalias/internal/logger"
	"github.com/tphakala/fieldalias/internal/matcher"
	"github.com/tphakala/fieldalias/internal/observability/metrics"
	"github.com/tphakala/fieldalias/internal/store"
	"github.com/tphakala/fieldalias/internal/writebehind"
)

// ErrNoIndex is returned by Initialize when there is neither a Master nor
// a catalog to seed from. Initialize can be called again later.
var ErrNoIndex = errors.NewStd("no alias index available")

// Options configures an Engine. Store is required.
type Options struct {
	Store    *store.Store
	Enricher *alias.Enricher
	Queue    writebehind.Config
	Matcher  matcher.Config
	Metrics  *metrics.AliasMetrics
	Clock    writebehind.Clock
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Records      int
	Pending      int
	Generation   uint64
	Loaded       bool
	Origin       store.Origin
	Outcome      store.Outcome
	FlushRunning bool
	MemoHits     uint64
	MemoMisses   uint64
}

// Engine is safe for concurrent use. One instance per storage root.
type Engine struct {
	store    *store.Store
	enricher *alias.Enricher
	cache    *hotpatch.Cache
	queue    *writebehind.Queue
	matcher  *matcher.Matcher
	metrics  *metrics.AliasMetrics

	mu       sync.Mutex
	lastLoad store.LoadResult

	closed atomic.Bool
}

// New builds an Engine. Nothing is read until Initialize.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.Newf("engine requires a store").
			Component("engine").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if opts.Enricher == nil {
		opts.Enricher = alias.DefaultEnricher()
	}
	if opts.Matcher.Signatures == nil && opts.Enricher.Signatures != nil {
		opts.Matcher.Signatures = opts.Enricher.Signatures
	}
	// the signature fallback needs signatures on the records
	if !opts.Enricher.WithSignatures() {
		opts.Matcher.SignatureFallback = false
	}

	e := &Engine{
		store:    opts.Store,
		enricher: opts.Enricher,
		metrics:  opts.Metrics,
		lastLoad: store.LoadResult{Origin: store.OriginNone, Outcome: store.OutcomeNoData},
	}
	e.cache = hotpatch.New(
		hotpatch.WithEnricher(opts.Enricher),
		hotpatch.WithLoader(e.load),
		hotpatch.WithEvictObserver(e.onEvict),
	)

	queueOpts := []writebehind.Option{writebehind.WithFlushObserver(e.onFlush)}
	if opts.Clock != nil {
		queueOpts = append(queueOpts, writebehind.WithClock(opts.Clock))
	}
	e.queue = writebehind.New(opts.Store, opts.Queue, queueOpts...)
	e.matcher = matcher.New(e.cache, opts.Matcher)
	return e, nil
}

// load is the hot-patch cache loader.
func (e *Engine) load(ctx context.Context) (*alias.Index, error) {
	start := time.Now()
	res := e.store.Load(ctx)

	e.mu.Lock()
	e.lastLoad = store.LoadResult{Origin: res.Origin, Outcome: res.Outcome, Err: res.Err}
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordLoad(string(res.Origin), res.Outcome.String(), time.Since(start).Seconds())
	}

	switch res.Outcome {
	case store.OutcomeOK:
		return res.Index, nil
	case store.OutcomeNoData:
		return nil, nil
	default:
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, errors.Newf("alias index load failed: %s", res.Outcome).
			Component("engine").
			Category(errors.CategoryStorage).
			Build()
	}
}

// onEvict drops the queued writes of taught aliases the loaded index
// binds to another species.
func (e *Engine) onEvict(recs []alias.Record) {
	keys := make([]string, 0, len(recs))
	for i := range recs {
		keys = append(keys, alias.PendingAlias{SpeciesID: recs[i].SpeciesID, AliasText: recs[i].Alias}.Key())
	}
	n := e.queue.Discard(keys...)
	if e.metrics != nil {
		e.metrics.SetPending(e.queue.Len())
	}
	GetLogger().Warn("aliases taught before load conflict with the saved index and were dropped",
		logger.Int("dropped", len(recs)),
		logger.Int("discarded_pending", n))
}

// Initialize loads the index from cache or Master, or seeds it from the
// catalog. It returns ErrNoIndex when there is nothing to load; calling it
// again once storage or a catalog is available completes the load.
// Aliases taught before Initialize are kept unless the loaded index binds
// them to another species.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.cache.EnsureLoaded(ctx); err != nil {
		GetLogger().Warn("alias index initialization failed", logger.Error(err))
		return err
	}
	e.updateIndexGauges()
	if !e.cache.Loaded() {
		GetLogger().Warn("no alias index and no catalog to seed from")
		return ErrNoIndex
	}
	st := e.Stats()
	GetLogger().Info("alias index ready",
		logger.Int("records", st.Records),
		logger.String("origin", string(st.Origin)))
	return nil
}

// Ready reports whether Initialize has completed.
func (e *Engine) Ready() bool {
	return e.cache.Loaded()
}

// AddAlias teaches aliasText for speciesID. It returns false when the
// alias is blank, already known for the species, bound to another
// species or the engine is closed. On success the alias is matched by
// Query immediately and persisted in the background.
func (e *Engine) AddAlias(speciesID, aliasText, canonical, tileName string) bool {
	if e.closed.Load() {
		return false
	}
	rec, err := e.cache.AddAliasHotpatch(speciesID, aliasText, canonical, tileName)
	if err != nil {
		result := metrics.ResultBlank
		switch {
		case errors.Is(err, hotpatch.ErrDuplicate):
			result = metrics.ResultDuplicate
		case errors.Is(err, hotpatch.ErrConflict):
			result = metrics.ResultConflict
		}
		e.recordAdd(result)
		GetLogger().Debug("alias rejected",
			logger.String("species_id", speciesID),
			logger.String("reason", result))
		return false
	}
	e.recordAdd(metrics.ResultAdded)

	err = e.queue.Add(alias.PendingAlias{
		SpeciesID: rec.SpeciesID,
		AliasText: rec.Alias,
		Canonical: rec.Canonical,
		TileName:  rec.TileName,
		Timestamp: rec.CreatedAt,
	})
	if err != nil {
		GetLogger().Error("taught alias could not be queued for persistence",
			logger.String("species_id", rec.SpeciesID),
			logger.Error(err))
	}
	if e.metrics != nil {
		e.metrics.SetPending(e.queue.Len())
	}
	e.updateIndexGauges()
	GetLogger().Info("alias taught",
		logger.String("species_id", rec.SpeciesID),
		logger.Int("alias_id", int(rec.AliasID)))
	return true
}

func (e *Engine) recordAdd(result string) {
	if e.metrics != nil {
		e.metrics.RecordAliasAdd(result)
	}
}

// Query resolves a heard token with the configured limit.
func (e *Engine) Query(token string) []matcher.Candidate {
	return e.QueryN(token, 0)
}

// QueryN resolves a heard token returning at most limit candidates.
func (e *Engine) QueryN(token string, limit int) []matcher.Candidate {
	start := time.Now()
	out := e.matcher.Query(token, limit)
	if e.metrics != nil {
		kind := metrics.QueryMiss
		if len(out) > 0 {
			kind = string(out[0].Kind)
		}
		e.metrics.RecordQuery(kind, time.Since(start).Seconds())
	}
	return out
}

// ForceFlush persists every pending alias before returning.
func (e *Engine) ForceFlush(ctx context.Context) error {
	_, err := e.queue.ForceFlush(ctx)
	if e.metrics != nil {
		e.metrics.SetPending(e.queue.Len())
	}
	return err
}

// ReloadMaster picks up a Master edited outside this process: the cache
// file is rebuilt and new records are merged into memory. A Master this
// process wrote itself is skipped. It reports whether a reload happened.
func (e *Engine) ReloadMaster(ctx context.Context) (bool, error) {
	m, err := e.store.ReadMaster(ctx)
	if err != nil {
		e.recordReload(metrics.StatusError)
		return false, err
	}
	if m.Version == e.store.LastWrittenVersion() {
		return false, nil
	}
	if err := e.store.RebuildCache(ctx, m); err != nil {
		e.recordCacheRebuild(metrics.StatusError)
		GetLogger().Warn("cache rebuild after external edit failed", logger.Error(err))
	} else {
		e.recordCacheRebuild(metrics.StatusSuccess)
	}
	added := e.cache.Merge(m.ToIndex(e.enricher))
	e.recordReload(metrics.StatusSuccess)
	e.updateIndexGauges()
	GetLogger().Info("externally edited master merged",
		logger.Int("version", int(m.Version)),
		logger.Int("added", added))
	return true, nil
}

func (e *Engine) recordReload(status string) {
	if e.metrics != nil {
		e.metrics.RecordMasterReload(status)
	}
}

func (e *Engine) recordCacheRebuild(status string) {
	if e.metrics != nil {
		e.metrics.RecordCacheRebuild(status)
	}
}

func (e *Engine) onFlush(r writebehind.FlushResult) {
	if e.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if r.Err != nil {
		status = metrics.StatusError
	}
	e.metrics.RecordFlush(status, r.BatchSize, r.Duration.Seconds())
	e.metrics.SetPending(r.Remaining)
}

func (e *Engine) updateIndexGauges() {
	if e.metrics != nil {
		e.metrics.SetIndexSize(e.cache.Len(), e.cache.Generation())
	}
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	last := e.lastLoad
	e.mu.Unlock()
	hits, misses := e.matcher.MemoStats()
	return Stats{
		Records:      e.cache.Len(),
		Pending:      e.queue.Len(),
		Generation:   e.cache.Generation(),
		Loaded:       e.cache.Loaded(),
		Origin:       last.Origin,
		Outcome:      last.Outcome,
		FlushRunning: e.queue.Running(),
		MemoHits:     hits,
		MemoMisses:   misses,
	}
}

// Snapshot returns a copy of the in-memory index.
func (e *Engine) Snapshot() *alias.Index {
	return e.cache.Snapshot()
}

// Store returns the underlying store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Close flushes pending aliases and stops accepting new ones. It is safe
// to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.queue.Close(ctx)
	if e.metrics != nil {
		e.metrics.SetPending(e.queue.Len())
	}
	return err
}
