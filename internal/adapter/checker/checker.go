// Package checker implements the Checker (C3): a bounded, concurrent
// validator that probes individual proxies against a reference echo
// endpoint and records the outcome directly on the Proxy record, per
// spec.md §4.3. The concurrency shape is grounded on the teacher's
// internal/adapter/health worker pool (bounded by pool_size, one job per
// proxy), substituting a semaphore for the teacher's job channel since the
// Checker is called synchronously per candidate rather than on a fixed
// schedule.
package checker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"proxybroker/internal/adapter/dialer"
	"proxybroker/internal/core/constants"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/logger"
	"proxybroker/internal/util"
	"proxybroker/pkg/pool"
)

// maxProbeBody bounds how much of a probe response we read, since reference
// echo endpoints return small JSON bodies and a misbehaving proxy should
// never be able to force unbounded memory use here.
const maxProbeBody = 64 * 1024

// Checker validates proxies against a configured reference target. It
// satisfies ports.Checker.
type Checker struct {
	cfg        Config
	target     checkTarget
	log        *logger.StyledLogger
	sem        chan struct{}
	inflight   *xsync.Map[string, struct{}]
	active     atomic.Int64
	clientPool *pool.Pool[*http.Client]
}

// New constructs a Checker. log may be nil for tests.
func New(cfg Config, log *logger.StyledLogger) (*Checker, error) {
	target, err := resolveTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("checker: pool_size must be positive, got %d", cfg.PoolSize)
	}

	return &Checker{
		cfg:      cfg,
		target:   target,
		log:      log,
		sem:      make(chan struct{}, cfg.PoolSize),
		inflight: xsync.NewMap[string, struct{}](),
		clientPool: pool.NewLitePool(func() *http.Client {
			return &http.Client{}
		}),
	}, nil
}

// Ready reports whether the Checker has no outstanding probes in flight.
func (c *Checker) Ready() bool {
	return c.active.Load() == 0
}

// Check validates p, bounded by the configured worker pool size and guarded
// by a per-proxy idempotency set: a proxy already being probed is skipped
// rather than queued twice.
func (c *Checker) Check(ctx context.Context, p *domain.Proxy) error {
	key := p.Key()
	if _, loaded := c.inflight.LoadOrStore(key, struct{}{}); loaded {
		return nil
	}
	defer c.inflight.Delete(key)

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	c.active.Add(1)
	defer c.active.Add(-1)

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	return c.probe(probeCtx, p)
}

// probe runs exactly one probe outcome for p, per spec.md §4.3's step (iv).
func (c *Checker) probe(ctx context.Context, p *domain.Proxy) error {
	httpFamilyHTTP := p.HasType(domain.ProxyTypeHTTP)
	socksFamily := p.HasType(domain.ProxyTypeSOCKS4) || p.HasType(domain.ProxyTypeSOCKS5)
	hasHTTPS := p.HasType(domain.ProxyTypeHTTPS)

	wantHTTPS := c.cfg.HTTPSForceCheck || ((hasHTTPS || socksFamily) && c.cfg.HTTPSCheck)

	switch {
	case wantHTTPS:
		ok, speed, code, targetURL, err := c.runProbe(ctx, p, true)
		if httpFamilyHTTP {
			if ok {
				p.AddType(domain.ProxyTypeHTTPS)
			} else {
				p.RemoveType(domain.ProxyTypeHTTPS)
			}
		}
		return c.record(p, ok, speed, code, targetURL, err)
	case c.cfg.HTTPCheck:
		ok, speed, code, targetURL, err := c.runProbe(ctx, p, false)
		return c.record(p, ok, speed, code, targetURL, err)
	default:
		return nil
	}
}

func (c *Checker) runProbe(ctx context.Context, p *domain.Proxy, useHTTPS bool) (ok bool, speedKBs float64, statusCode int, targetURL string, err error) {
	dt := dialType(p)
	targetURL = c.target.HTTPURL
	if useHTTPS {
		targetURL = c.target.HTTPSURL
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			wait := util.CalculateExponentialBackoff(attempt, c.cfg.RetryWait, constants.DefaultMaxBackoffSeconds, 0.2)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return false, 0, statusCode, targetURL, ctx.Err()
			}
		}
		ok, speedKBs, statusCode, lastErr = c.attempt(ctx, p, dt, targetURL)
		if ok {
			return true, speedKBs, statusCode, targetURL, nil
		}
	}
	return false, 0, statusCode, targetURL, lastErr
}

func (c *Checker) attempt(ctx context.Context, p *domain.Proxy, dt domain.ProxyType, targetURL string) (bool, float64, int, error) {
	tr, err := dialer.Build(p, dt, dialer.Options{DialTimeout: c.cfg.Timeout})
	if err != nil {
		return false, 0, 0, err
	}

	client := c.clientPool.Get()
	defer c.clientPool.Put(client)
	client.Jar = nil // cookie-forgetting, per spec.md §4.3
	client.Transport = tr
	client.Timeout = c.cfg.Timeout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, http.NoBody)
	if err != nil {
		return false, 0, 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return false, 0, 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return false, 0, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, 0, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if !c.target.marker(body) {
		return false, 0, resp.StatusCode, fmt.Errorf("response missing expected marker")
	}

	speed := 0.0
	if elapsed > 0 {
		speed = (float64(len(body)) / 1024) / elapsed.Seconds()
	}
	return true, speed, resp.StatusCode, nil
}

func (c *Checker) record(p *domain.Proxy, ok bool, speed float64, statusCode int, targetURL string, probeErr error) error {
	p.CheckedAt = time.Now()

	if ok {
		p.ConsecFail = 0
		p.Speed = speed
		p.RecordOutcome("success", 0, statusCode)
		if c.log != nil {
			c.log.InfoHealthStatus("Checked proxy", p.Key(), domain.StatusHealthy)
		}
		return nil
	}

	p.ConsecFail++
	p.RecordOutcome("fail", 0, statusCode)
	if c.log != nil {
		c.log.InfoHealthStatus("Checked proxy", p.Key(), domain.StatusUnhealthy)
	}
	return domain.NewCheckError(p.Key(), targetURL, statusCode, 0, probeErr)
}

// dialType defers to the dialer package so the Checker and the brokered
// Session always agree on which protocol to dial a given proxy through.
func dialType(p *domain.Proxy) domain.ProxyType {
	return dialer.PreferredType(p)
}
