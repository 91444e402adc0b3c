// Package app assembles the configured runtime shared by the CLI commands:
// logger, telemetry, metrics, storage root, catalog, store and engine.
package app

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/buildinfo"
	"github.com/tphakala/fieldalias/internal/catalog"
	"github.com/tphakala/fieldalias/internal/conf"
	"github.com/tphakala/fieldalias/internal/engine"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/logger"
	"github.com/tphakala/fieldalias/internal/matcher"
	"github.com/tphakala/fieldalias/internal/observability"
	"github.com/tphakala/fieldalias/internal/securefs"
	"github.com/tphakala/fieldalias/internal/signature"
	"github.com/tphakala/fieldalias/internal/store"
	"github.com/tphakala/fieldalias/internal/writebehind"
)

const sentryFlushTimeout = 2 * time.Second

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// Context carries the settings and lazily opened components of one run.
type Context struct {
	ConfigFile string
	Settings   *conf.Settings
	Metrics    *observability.Metrics

	central  *logger.CentralLogger
	sentry   bool
	fs       *securefs.SecureFS
	catalog  catalog.Catalog
	enricher *alias.Enricher
	store    *store.Store
	engine   *engine.Engine

	closeOnce sync.Once
}

// Setup loads the configuration unless Settings is already set, then
// installs the logger, Sentry reporting and the metrics registry.
func (c *Context) Setup() error {
	if c.Settings == nil {
		settings, err := conf.Load(c.ConfigFile)
		if err != nil {
			return err
		}
		c.Settings = settings
	}

	central, err := logger.NewCentralLogger(c.Settings.LoggingConfig())
	if err != nil {
		return err
	}
	c.central = central
	logger.SetGlobal(central)

	if dsn := c.Settings.Telemetry.SentryDSN; dsn != "" {
		reporter, err := errors.InitSentry(dsn, buildinfo.Get().Version)
		if err != nil {
			GetLogger().Warn("error reporting disabled", logger.Error(err))
		} else {
			c.sentry = reporter.IsEnabled()
		}
	}

	if c.Settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		c.Metrics = m
	}
	return nil
}

// Enricher returns the rich or lean enricher selected by index.signatures.
func (c *Context) Enricher() *alias.Enricher {
	if c.enricher == nil {
		idx := c.Settings.Index
		c.enricher = alias.NewEnricher(idx.Signatures, idx.QGram, idx.MinHashSeeds)
	}
	return c.enricher
}

// FS returns the sandboxed storage root.
func (c *Context) FS() (*securefs.SecureFS, error) {
	if c.fs != nil {
		return c.fs, nil
	}
	fs, err := securefs.New(c.Settings.Storage.Root)
	if err != nil {
		return nil, err
	}
	if c.Settings.Storage.MaxFileSize > 0 {
		fs.SetMaxReadFileSize(c.Settings.Storage.MaxFileSize)
	}
	if n := fs.CleanTemp(); n > 0 {
		GetLogger().Info("removed stale temp files", logger.Int("count", n))
	}
	c.fs = fs
	return fs, nil
}

// Catalog opens the configured species catalog; nil for catalog type none.
func (c *Context) Catalog() (catalog.Catalog, error) {
	if c.catalog != nil || c.Settings.Catalog.Type == conf.CatalogNone {
		return c.catalog, nil
	}
	cat, err := catalog.New(c.Settings.Catalog.Type, c.Settings.Catalog.Path)
	if err != nil {
		return nil, err
	}
	c.catalog = cat
	return cat, nil
}

// Store returns the persistent store over the storage root.
func (c *Context) Store() (*store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	fs, err := c.FS()
	if err != nil {
		return nil, err
	}
	cat, err := c.Catalog()
	if err != nil {
		return nil, err
	}
	c.store = store.New(fs, store.Options{
		MasterFile: c.Settings.Storage.MasterFile,
		CacheFile:  c.Settings.Storage.CacheFile,
		Catalog:    cat,
		Enricher:   c.Enricher(),
	})
	return c.store, nil
}

// Engine returns the initialized engine. ErrNoIndex from Initialize is
// returned together with a usable engine so callers may still teach.
func (c *Context) Engine(ctx context.Context) (*engine.Engine, error) {
	if c.engine != nil {
		return c.engine, nil
	}
	st, err := c.Store()
	if err != nil {
		return nil, err
	}

	s := c.Settings
	opts := engine.Options{
		Store:    st,
		Enricher: c.Enricher(),
		Queue: writebehind.Config{
			SizeThreshold: s.WriteBehind.SizeThreshold,
			TimeThreshold: s.WriteBehind.TimeThreshold,
			FlushTimeout:  s.WriteBehind.FlushTimeout,
		},
		Matcher: matcher.Config{
			Limit:             s.Matcher.Limit,
			MinScore:          s.Matcher.MinScore,
			MemoTTL:           s.Matcher.MemoTTL,
			SignatureFallback: s.Matcher.SignatureFallback,
			Signatures:        &signature.Builder{Q: s.Index.QGram, K: s.Index.MinHashSeeds},
		},
	}
	if c.Metrics != nil {
		opts.Metrics = c.Metrics.Alias
	}

	e, err := engine.New(opts)
	if err != nil {
		return nil, err
	}
	c.engine = e
	if c.Metrics != nil && c.catalog != nil {
		if species, err := c.catalog.Species(ctx); err == nil {
			c.Metrics.Alias.SetCatalogSpecies(len(species))
		}
	}
	return e, e.Initialize(ctx)
}

// Close flushes the engine and releases every opened component.
func (c *Context) Close(ctx context.Context) error {
	var errs []error
	c.closeOnce.Do(func() {
		if c.engine != nil {
			if err := c.engine.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if closer, ok := c.catalog.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if c.fs != nil {
			if err := c.fs.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if c.sentry {
			errors.FlushSentry(sentryFlushTimeout)
		}
		if c.central != nil {
			if err := c.central.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
