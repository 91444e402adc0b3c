// Package watcher reloads the alias index when the Master file is edited
// by something other than this process.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
)

// DefaultDebounce is how long the Master must be quiet before a reload.
const DefaultDebounce = 500 * time.Millisecond

const tickInterval = 50 * time.Millisecond

// GetLogger returns the watcher package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("watcher")
}

// Reloader merges an edited Master. It reports false when the change was
// its own write. *engine.Engine implements it.
type Reloader interface {
	ReloadMaster(ctx context.Context) (bool, error)
}

// Stats tracks watcher activity.
type Stats struct {
	Events   int
	Reloads  int
	Skipped  int
	Errors   int
	LastPath string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher watches the storage root for writes to the Master file.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	file     string
	reloader Reloader
	debounce time.Duration

	mu      sync.Mutex
	dirty   time.Time
	running bool
	stats   Stats
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Watcher for masterFile inside dir.
func New(dir, masterFile string, r Reloader, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New(err).
			Component("watcher").
			Category(errors.CategoryFileIO).
			Context("operation", "create_watcher").
			Build()
	}
	w := &Watcher{
		fsw:      fsw,
		dir:      dir,
		file:     filepath.Base(masterFile),
		reloader: r,
		debounce: DefaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// the Master is replaced by rename, so the directory is watched
	if err := w.fsw.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return errors.New(err).
			Component("watcher").
			Category(errors.CategoryFileIO).
			Context("operation", "watch_dir").
			Build()
	}
	GetLogger().Info("watching master file", logger.String("file", w.file))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.fsw.Close(); err != nil {
		GetLogger().Warn("error closing file watcher", logger.Error(err))
	}
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			GetLogger().Warn("file watcher error", logger.Error(err))
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != w.file {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	w.mu.Lock()
	w.dirty = time.Now()
	w.stats.Events++
	w.stats.LastPath = event.Name
	w.mu.Unlock()
	GetLogger().Trace("master file event", logger.String("op", event.Op.String()))
}

func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	if w.dirty.IsZero() || time.Since(w.dirty) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.dirty = time.Time{}
	w.mu.Unlock()

	reloaded, err := w.reloader.ReloadMaster(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case err != nil:
		w.stats.Errors++
		GetLogger().Warn("master reload failed", logger.Error(err))
	case reloaded:
		w.stats.Reloads++
	default:
		w.stats.Skipped++
	}
}
