// Package writebehind batches taught aliases in memory and persists them
// off the caller's path, either when enough have accumulated or after a
// quiet period.
package writebehind

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

const (
	DefaultSizeThreshold = 5
	DefaultTimeThreshold = 30 * time.Second
	DefaultFlushTimeout  = 30 * time.Second

	// forceFlushRounds bounds how often ForceFlush retries to catch
	// entries added while a flush was running.
	forceFlushRounds = 3
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.NewStd("write-behind queue is closed")

// Persister durably stores a batch and returns how many aliases were new.
// *store.Store implements it.
type Persister interface {
	Persist(ctx context.Context, pending []alias.PendingAlias) (int, error)
}

// Config holds the flush thresholds. Zero values select the defaults.
type Config struct {
	SizeThreshold int
	TimeThreshold time.Duration
	FlushTimeout  time.Duration
}

// FlushResult describes one executed flush.
type FlushResult struct {
	BatchID   string
	BatchSize int
	Added     int
	Remaining int
	Duration  time.Duration
	Err       error
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithFlushObserver registers a callback invoked after every flush.
func WithFlushObserver(fn func(FlushResult)) Option {
	return func(q *Queue) { q.observer = fn }
}

// Queue coalesces pending aliases by species and normalized text.
// Exactly one flush runs at a time.
type Queue struct {
	persister Persister
	cfg       Config
	clock     Clock
	observer  func(FlushResult)

	mu       sync.Mutex
	pending  map[string]alias.PendingAlias
	timer    Timer
	timerSeq uint64
	closed   bool

	group   singleflight.Group
	running atomic.Bool
	wg      sync.WaitGroup
}

// New returns a Queue persisting through p.
func New(p Persister, cfg Config, opts ...Option) *Queue {
	if cfg.SizeThreshold <= 0 {
		cfg.SizeThreshold = DefaultSizeThreshold
	}
	if cfg.TimeThreshold <= 0 {
		cfg.TimeThreshold = DefaultTimeThreshold
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultFlushTimeout
	}
	q := &Queue{
		persister: p,
		cfg:       cfg,
		clock:     RealClock(),
		pending:   make(map[string]alias.PendingAlias),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add buffers p. Reaching the size threshold starts a flush in the
// background; otherwise the time threshold timer is armed if it is not
// already. A later Add for the same key replaces the earlier one.
func (q *Queue) Add(p alias.PendingAlias) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = q.clock.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending[p.Key()] = p
	n := len(q.pending)
	if n >= q.cfg.SizeThreshold {
		q.stopTimerLocked()
		q.mu.Unlock()
		GetLogger().Debug("size threshold reached", logger.Int("pending", n))
		q.flushAsync()
		return nil
	}
	if q.timer == nil {
		q.armTimerLocked()
	}
	q.mu.Unlock()
	return nil
}

// Discard drops buffered aliases by key (see alias.PendingAlias.Key) and
// returns how many were removed. An entry already handed to a running
// flush is still persisted by it.
func (q *Queue) Discard(keys ...string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, key := range keys {
		if _, ok := q.pending[key]; ok {
			delete(q.pending, key)
			n++
		}
	}
	if len(q.pending) == 0 {
		q.stopTimerLocked()
	}
	return n
}

// Len returns the number of buffered aliases.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns the buffered aliases ordered by timestamp.
func (q *Queue) Pending() []alias.PendingAlias {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Running reports whether a flush is executing.
func (q *Queue) Running() bool {
	return q.running.Load()
}

// Scheduled reports whether the time threshold timer is armed.
func (q *Queue) Scheduled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timer != nil
}

func (q *Queue) snapshotLocked() []alias.PendingAlias {
	out := make([]alias.PendingAlias, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b alias.PendingAlias) int {
		return cmp.Or(a.Timestamp.Compare(b.Timestamp), cmp.Compare(a.Key(), b.Key()))
	})
	return out
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// armTimerLocked starts the time threshold timer. Each timer carries a
// sequence number so a callback that lost the race with a reschedule
// leaves the newer timer in place.
func (q *Queue) armTimerLocked() {
	q.timerSeq++
	seq := q.timerSeq
	q.timer = q.clock.AfterFunc(q.cfg.TimeThreshold, func() { q.onTimer(seq) })
}

// rescheduleLocked cancels a pending timer and arms a new one.
func (q *Queue) rescheduleLocked() {
	q.stopTimerLocked()
	if !q.closed && len(q.pending) > 0 {
		q.armTimerLocked()
	}
}

func (q *Queue) onTimer(seq uint64) {
	q.mu.Lock()
	if seq != q.timerSeq || q.timer == nil {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	q.mu.Unlock()
	q.flushAsync()
}

// flushAsync flushes on a tracked goroutine until the buffer is below
// the size threshold.
func (q *Queue) flushAsync() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), q.cfg.FlushTimeout)
			_, err := q.Flush(ctx)
			cancel()
			if err != nil {
				GetLogger().Warn("background flush failed, batch kept for retry", logger.Error(err))
				return
			}
			if q.Len() < q.cfg.SizeThreshold {
				return
			}
		}
	}()
}

// Flush persists the buffered aliases. A flush already executing is
// joined instead of starting a second one. A cancelled ctx stops the
// wait but never aborts the running flush.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	ch := q.group.DoChan("flush", func() (any, error) {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.FlushTimeout)
		defer cancel()
		return q.flushOnce(flushCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		n, _ := res.Val.(int)
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (q *Queue) flushOnce(ctx context.Context) (int, error) {
	q.running.Store(true)
	defer q.running.Store(false)

	q.mu.Lock()
	batch := q.snapshotLocked()
	q.mu.Unlock()
	if len(batch) == 0 {
		return 0, nil
	}

	batchID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, batchID)
	log := GetLogger().WithContext(ctx)
	start := q.clock.Now()

	added, err := q.persister.Persist(ctx, batch)
	result := FlushResult{
		BatchID:   batchID,
		BatchSize: len(batch),
		Added:     added,
		Duration:  q.clock.Now().Sub(start),
	}

	if err != nil {
		q.mu.Lock()
		q.rescheduleLocked()
		result.Remaining = len(q.pending)
		q.mu.Unlock()

		result.Err = errors.New(err).
			Component("writebehind").
			Context("operation", "flush").
			Context("batch_size", len(batch)).
			Build()
		log.Warn("flush failed",
			logger.Int("batch_size", len(batch)),
			logger.Error(err))
		q.notify(result)
		return 0, result.Err
	}

	q.mu.Lock()
	for _, p := range batch {
		key := p.Key()
		// an entry replaced during the flush stays buffered
		if cur, ok := q.pending[key]; ok && cur.Timestamp.Equal(p.Timestamp) {
			delete(q.pending, key)
		}
	}
	result.Remaining = len(q.pending)
	if result.Remaining > 0 && q.timer == nil && !q.closed {
		q.armTimerLocked()
	}
	q.mu.Unlock()

	log.Info("pending aliases flushed",
		logger.Int("batch_size", len(batch)),
		logger.Int("added", added),
		logger.Int("remaining", result.Remaining),
		logger.Duration("elapsed", result.Duration))
	q.notify(result)
	return added, nil
}

func (q *Queue) notify(r FlushResult) {
	if q.observer != nil {
		q.observer(r)
	}
}

// ForceFlush cancels a scheduled flush and persists everything buffered
// before returning. Call it before teardown.
func (q *Queue) ForceFlush(ctx context.Context) (int, error) {
	q.mu.Lock()
	q.stopTimerLocked()
	q.mu.Unlock()

	total := 0
	for range forceFlushRounds {
		n, err := q.Flush(ctx)
		total += n
		if err != nil {
			return total, err
		}
		q.mu.Lock()
		empty := len(q.pending) == 0
		if empty {
			q.stopTimerLocked()
		}
		q.mu.Unlock()
		if empty {
			return total, nil
		}
	}
	GetLogger().Warn("aliases still pending after forced flush", logger.Int("pending", q.Len()))
	return total, nil
}

// Close flushes synchronously, refuses further additions and waits for
// background flushes to finish.
func (q *Queue) Close(ctx context.Context) error {
	_, err := q.ForceFlush(ctx)

	q.mu.Lock()
	q.closed = true
	q.stopTimerLocked()
	left := len(q.pending)
	q.mu.Unlock()

	q.wg.Wait()
	if left > 0 {
		GetLogger().Warn("write-behind queue closed with unpersisted aliases", logger.Int("pending", left))
	}
	return err
}
