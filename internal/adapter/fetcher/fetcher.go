// Package fetcher implements the Fetcher (C5): it runs the registered
// scrapers with bounded concurrency, routes each candidate through an
// optional Checker, and lands the survivors in the Pool (spec.md §4.5). The
// concurrent worker-group shape is grounded on the teacher's
// discovery.ModelDiscoveryService.discoverConcurrently, substituting
// scrapers for discovery endpoints.
package fetcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"proxybroker/internal/adapter/scraper"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
	"proxybroker/internal/logger"
)

// Config tunes one fetch run.
type Config struct {
	Sources           []string // source names, or {"*"} for every registered scraper
	ConcurrentWorkers int
	Filter            scraper.PostFilter
}

func DefaultConfig() Config {
	return Config{
		Sources:           []string{"*"},
		ConcurrentWorkers: 4,
	}
}

// Fetcher satisfies ports.Fetcher.
type Fetcher struct {
	cfg      Config
	registry *scraper.Registry
	sessOpts scraper.SessionOptions
	pool     ports.ProxyPool
	checker  ports.Checker // nil disables the check-before-add step
	log      *logger.StyledLogger

	mu        sync.Mutex
	startedAt time.Time
	running   atomic.Bool
}

func New(cfg Config, registry *scraper.Registry, sessOpts scraper.SessionOptions, pool ports.ProxyPool, checker ports.Checker, log *logger.StyledLogger) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		registry: registry,
		sessOpts: sessOpts,
		pool:     pool,
		checker:  checker,
		log:      log,
	}
}

// Ready reports whether a fetch run is not currently in progress.
func (f *Fetcher) Ready() bool {
	return !f.running.Load()
}

// StartedAt returns the start time of the most recently started run.
func (f *Fetcher) StartedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedAt
}

// Run starts one fetch pass across every resolved source. When join is true
// it blocks until the pass completes; otherwise it runs in the background
// and returns immediately, matching the Fetcher contract's two call shapes
// (a synchronous CLI invocation versus the superproxy gateway's periodic
// background refresh).
func (f *Fetcher) Run(ctx context.Context, join bool) error {
	if !f.running.CompareAndSwap(false, true) {
		return fmt.Errorf("fetcher: a run is already in progress")
	}
	f.mu.Lock()
	f.startedAt = time.Now()
	f.mu.Unlock()

	run := func() error {
		defer f.running.Store(false)
		return f.runOnce(ctx)
	}

	if join {
		return run()
	}

	go func() {
		if err := run(); err != nil && f.log != nil {
			f.log.Error("fetcher: run failed", "error", err)
		}
	}()
	return nil
}

func (f *Fetcher) runOnce(ctx context.Context) error {
	names := f.registry.Resolve(f.cfg.Sources)
	if len(names) == 0 {
		return nil
	}

	workers := f.cfg.ConcurrentWorkers
	if workers <= 0 || workers > len(names) {
		workers = len(names)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	var accepted atomic.Int64

	for _, name := range names {
		eg.Go(func() error {
			src, err := f.registry.Create(name, f.sessOpts)
			if err != nil {
				return err
			}
			if err := src.Worker(egCtx, func(p *domain.Proxy) {
				f.handle(egCtx, p, name, &accepted)
			}); err != nil && f.log != nil {
				f.log.WarnWithEndpoint("fetcher: source failed", name, "error", err)
			}
			// One source failing never cancels the others - each listing
			// site is an independent, best-effort input.
			return nil
		})
	}

	err := eg.Wait()
	if f.log != nil {
		f.log.InfoWithCount("fetcher: finished scraping run", int(accepted.Load()))
	}
	return err
}

func (f *Fetcher) handle(ctx context.Context, p *domain.Proxy, source string, accepted *atomic.Int64) {
	if !f.cfg.Filter.Accept(p) {
		return
	}
	p.Meta["source"] = source
	if f.checker != nil {
		if err := f.checker.Check(ctx, p); err != nil {
			return
		}
	}
	if err := f.pool.Proxy(ctx, p, false); err != nil {
		if f.log != nil {
			f.log.Warn("fetcher: failed to add proxy to pool", "proxy", p.Key(), "error", err)
		}
		return
	}
	accepted.Add(1)
}
