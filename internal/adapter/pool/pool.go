// Package pool implements the ProxyPool: the registry of known proxies,
// their health/rest/blacklist/in-use state, selection and snapshot I/O.
package pool

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"proxybroker/internal/core/constants"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
	"proxybroker/internal/util"
	"proxybroker/pkg/eventbus"
)

// Config tunes the lifecycle thresholds named in spec.md §4.2.
type Config struct {
	MaxSimultaneous  int
	MaxFail          int
	UpdateInterval   time.Duration
	RecheckTimeout   time.Duration
	PoolManagerIdle  time.Duration
	BlacklistTimeout time.Duration
	MinActiveSize    int
	HistoryEnabled   bool
}

// DefaultConfig mirrors the constants package defaults.
func DefaultConfig() Config {
	return Config{
		MaxSimultaneous:  constants.DefaultMaxSimultaneous,
		MaxFail:          constants.DefaultMaxFail,
		UpdateInterval:   constants.DefaultUpdateTimeout,
		RecheckTimeout:   constants.DefaultRecheckTimeout,
		PoolManagerIdle:  constants.DefaultPoolManagerIdle,
		BlacklistTimeout: constants.DefaultBlacklistTimeout,
		MinActiveSize:    constants.DefaultMinActiveSize,
		HistoryEnabled:   true,
	}
}

// waiting is kept for observability/fairness debugging per spec.md §3; it
// plays no role in correctness.
type waiting struct {
	since        time.Time
	requestIdent string
	params       ports.GetOptions
}

// Pool is the ProxyPool adapter. A single mutex serialises every state
// transition (spec.md §9 "single mutex... short critical sections"); the
// eventbus stands in for the condition-variable the spec's "proxy
// available" notification describes.
type Pool struct {
	cfg Config

	mu          sync.Mutex
	active      map[string]*domain.Proxy
	blacklisted map[string]*domain.Proxy
	waitingSet  map[string]waiting
	connPools   map[string]*http.Transport // proxy_pool_manager, keyed by proxy URL
	rest        restHeap

	bus *eventbus.EventBus[struct{}]

	startedAt  time.Time
	updatedAt  time.Time
	lastUpdate time.Time

	fetcher     ports.Fetcher
	checker     ports.Checker
	needUpdateP func() bool

	stopCh chan struct{}
}

// New constructs a Pool and starts its rest-timer scheduler goroutine.
func New(cfg Config) *Pool {
	p := &Pool{
		cfg:         cfg,
		active:      make(map[string]*domain.Proxy),
		blacklisted: make(map[string]*domain.Proxy),
		waitingSet:  make(map[string]waiting),
		connPools:   make(map[string]*http.Transport),
		bus:         eventbus.New[struct{}](),
		startedAt:   time.Now(),
		stopCh:      make(chan struct{}),
	}
	heap.Init(&p.rest)
	go p.restScheduler()
	return p
}

// SetFetcher wires the Fetcher this pool drives maybe_update/need_update
// decisions through. Kept as a post-construction setter to avoid an import
// cycle between pool and fetcher.
func (p *Pool) SetFetcher(f ports.Fetcher) {
	p.mu.Lock()
	p.fetcher = f
	p.mu.Unlock()
}

// SetChecker wires the Checker periodic maintenance uses to refresh proxies
// whose CheckedAt has gone stale (spec.md §4.2 maybe_update (ii)). Optional:
// a nil Checker (the default) simply disables periodic rechecking, leaving
// the manual `/action recheck` admin path as the only way to probe a proxy.
func (p *Pool) SetChecker(c ports.Checker) {
	p.mu.Lock()
	p.checker = c
	p.mu.Unlock()
}

// Close stops the rest-timer scheduler and the eventbus's background
// workers.
func (p *Pool) Close() {
	close(p.stopCh)
	p.bus.Shutdown()
}

// notifyAvailable wakes every blocked Get waiter to re-check eligibility.
// Non-blocking: PublishAsync never stalls the caller's critical section.
func (p *Pool) notifyAvailable() {
	p.bus.PublishAsync(struct{}{})
}

// Proxy ingests a candidate proxy per the ordered rules in spec.md §4.2.
func (p *Pool) Proxy(ctx context.Context, candidate *domain.Proxy, load bool) error {
	if candidate == nil {
		return nil
	}
	key := candidate.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.blacklisted[key]; ok {
		if err := existing.MergeMeta(candidate); err != nil {
			return err
		}
		// Rule (i): un-blacklist only if the incoming candidate itself shows
		// a later success than fail, per spec.md §4.2 - the stored record's
		// own cumulative counters play no part in this decision.
		if !candidate.SuccessAt().IsZero() && candidate.SuccessAt().After(candidate.FailAt()) {
			delete(p.blacklisted, key)
			p.active[key] = existing
			existing.ConsecFail = 0
			p.notifyAvailable()
		}
		return nil
	}

	if load && candidate.ConsecFail >= p.cfg.MaxFail {
		p.blacklistLocked(candidate, true)
		return nil
	}

	// Rule (iii): a non-load candidate whose most recent failure postdates
	// its most recent success is blacklisted as a failed check.
	if !load && candidate.FailAt().After(candidate.SuccessAt()) {
		p.blacklistLocked(candidate, false)
		return nil
	}

	if existing, ok := p.active[key]; ok {
		return existing.MergeMeta(candidate)
	}

	p.active[key] = candidate
	p.updatedAt = time.Now()
	p.notifyAvailable()
	return nil
}

// Fail records a failed use (spec.md §4.2 fail).
func (p *Pool) Fail(proxy *domain.Proxy, timeout time.Duration, err error, resp *http.Response, ident string) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	proxy.ConsecFail++
	proxy.DecrInUse()
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if p.cfg.HistoryEnabled {
		proxy.RecordOutcome("fail", 0, statusCode)
	}

	if proxy.ConsecFail >= p.cfg.MaxFail {
		p.blacklistLocked(proxy, false)
		return
	}
	if timeout > 0 {
		escalated := util.CalculateEndpointBackoff(timeout, proxy.ConsecFail)
		proxy.RestTill = laterOf(proxy.RestTill, time.Now().Add(escalated))
		p.scheduleRest(proxy)
		return
	}
	p.notifyAvailable()
}

// Success records a successful use (spec.md §4.2 success).
func (p *Pool) Success(proxy *domain.Proxy, timeout time.Duration, resp *http.Response, ident string) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	proxy.ConsecFail = 0
	proxy.DecrInUse()
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if p.cfg.HistoryEnabled {
		proxy.RecordOutcome("success", 0, statusCode)
	}
	if timeout > 0 {
		proxy.RestTill = laterOf(proxy.RestTill, time.Now().Add(timeout))
		p.scheduleRest(proxy)
	}
	p.notifyAvailable()
}

// Rest treats the use as a success but forces a rest period, used for
// rate-limited responses (spec.md §4.2 rest).
func (p *Pool) Rest(proxy *domain.Proxy, timeout time.Duration, resp *http.Response, ident string) error {
	if timeout <= 0 {
		return fmt.Errorf("pool: rest timeout must be positive")
	}
	if proxy == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	proxy.ConsecFail = 0
	proxy.DecrInUse()
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	if p.cfg.HistoryEnabled {
		proxy.RecordOutcome("rest", 0, statusCode)
	}
	proxy.RestTill = laterOf(proxy.RestTill, time.Now().Add(timeout))
	p.scheduleRest(proxy)
	return nil
}

// Blacklist moves proxy from active to blacklist, clearing any shared
// connection pool entry (spec.md §4.2 blacklist).
func (p *Pool) Blacklist(proxy *domain.Proxy, load bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blacklistLocked(proxy, load)
}

func (p *Pool) blacklistLocked(proxy *domain.Proxy, load bool) {
	key := proxy.Key()
	delete(p.active, key)
	p.blacklisted[key] = proxy
	delete(p.connPools, proxy.URL(firstType(proxy)).String())
	if !load {
		p.updatedAt = time.Now()
	}
}

// ClearPoolManager evicts proxy's cached transport from the connection pool
// manager without otherwise touching its active/blacklisted membership,
// backing the admin `clear_pool_manager` action (spec.md §4.7). Blacklisting
// already does this as a side effect of moving a proxy out of active, but a
// proxy that stays active still needs an explicit way to force a fresh
// transport on its next use.
func (p *Pool) ClearPoolManager(proxy *domain.Proxy) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.connPools, proxy.URL(firstType(proxy)).String())
}

// ResetRestTill clears proxy's rest deadline under the pool lock, backing
// the admin `reset_rest_till` action (spec.md §4.7). Routing this through
// the Pool keeps the mutation serialised against concurrent Get/readyLocked
// reads of RestTill, per spec.md §5.
func (p *Pool) ResetRestTill(proxy *domain.Proxy) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	proxy.RestTill = time.Time{}
	p.notifyAvailable()
}

// Recheck runs check against proxy with the pool lock held, so the admin
// `recheck` action can never race a concurrent Get's read of proxy's fields
// (spec.md §5, "only the Pool serialises state"). This serialises recheck
// against every other pool operation for the duration of the probe. Both the
// admin `recheck` action and the periodic recheck in maybeUpdateLocked go
// through here.
func (p *Pool) Recheck(ctx context.Context, proxy *domain.Proxy, check func(context.Context, *domain.Proxy) error) error {
	if proxy == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return check(ctx, proxy)
}

// Unblacklist reinstates a proxy into the active set.
func (p *Pool) Unblacklist(proxy *domain.Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := proxy.Key()
	delete(p.blacklisted, key)
	p.active[key] = proxy
	proxy.ConsecFail = 0
	p.updatedAt = time.Now()
	p.notifyAvailable()
}

// ForgetBlacklisted drops stale blacklisted records, backing the admin
// `forget_blacklist` action (spec.md §6 S6). Records with no UsedAt are
// never dropped (spec.md §9 OQ-d).
func (p *Pool) ForgetBlacklisted(olderThan time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	dropped := 0
	for addr, proxy := range p.blacklisted {
		used := proxy.UsedAt()
		if used.IsZero() {
			continue
		}
		if olderThan <= 0 || used.Before(cutoff) {
			delete(p.blacklisted, addr)
			dropped++
		}
	}
	return dropped
}

// GetByAddr looks up a proxy by "host:port" across active+blacklist.
func (p *Pool) GetByAddr(addr string) (*domain.Proxy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if proxy, ok := p.active[addr]; ok {
		return proxy, true
	}
	if proxy, ok := p.blacklisted[addr]; ok {
		return proxy, true
	}
	return nil, false
}

// Release decrements in_use without otherwise touching proxy state. The
// brokered Session never needs this on the classified paths (success/fail/
// rest already decrement), but it exists for callers that abandon a
// selected proxy before classification, e.g. on context cancellation.
func (p *Pool) Release(proxy *domain.Proxy) {
	if proxy == nil {
		return
	}
	p.mu.Lock()
	proxy.DecrInUse()
	p.mu.Unlock()
	p.notifyAvailable()
}

// Get is the core selection entry point (spec.md §4.2 "Selection algorithm
// get").
func (p *Pool) Get(ctx context.Context, opts ports.GetOptions) (*domain.Proxy, error) {
	waiterID := ""
	deadline := time.Time{}

	for {
		p.mu.Lock()
		if len(p.active) == 0 && p.fetcher == nil {
			p.mu.Unlock()
			return nil, &domain.InsufficientProxiesError{Requested: 1, Available: 0, Strategy: opts.Strategy}
		}
		p.maybeUpdateLocked()

		ready := p.readyLocked(opts)
		if len(ready) > 0 {
			chosen := chooseLocked(ready, opts)
			chosen.IncrInUse()
			if waiterID != "" {
				delete(p.waitingSet, waiterID)
			}
			p.mu.Unlock()
			return chosen, nil
		}

		fetcherIdle := p.fetcher == nil || (p.fetcher.Ready())
		totalInUse := p.totalInUseLocked()
		// A resting proxy becomes eligible again when its rest timer fires,
		// so it is worth waiting for even with nothing in use.
		resting := false
		for _, proxy := range p.active {
			if proxy.IsResting(time.Now()) {
				resting = true
				break
			}
		}
		if opts.Wait <= 0 || (fetcherIdle && totalInUse == 0 && !resting) {
			if waiterID != "" {
				delete(p.waitingSet, waiterID)
			}
			p.mu.Unlock()
			return nil, &domain.InsufficientProxiesError{Requested: 1, Available: 0, Strategy: opts.Strategy}
		}

		if waiterID == "" {
			waiterID = uuid.NewString()
			deadline = time.Now().Add(opts.Wait)
			p.waitingSet[waiterID] = waiting{since: time.Now(), requestIdent: opts.RequestIdent, params: opts}
		}
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Lock()
			delete(p.waitingSet, waiterID)
			p.mu.Unlock()
			return nil, &domain.InsufficientProxiesError{Requested: 1, Available: 0, Strategy: opts.Strategy}
		}

		ch, cleanup := p.bus.Subscribe(ctx)
		select {
		case <-ctx.Done():
			cleanup()
			p.mu.Lock()
			delete(p.waitingSet, waiterID)
			p.mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(remaining):
			cleanup()
			p.mu.Lock()
			delete(p.waitingSet, waiterID)
			p.mu.Unlock()
			return nil, &domain.InsufficientProxiesError{Requested: 1, Available: 0, Strategy: opts.Strategy}
		case <-ch:
			cleanup()
			// loop: re-check eligibility
		}
	}
}

func (p *Pool) readyLocked(opts ports.GetOptions) []*domain.Proxy {
	now := time.Now()
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, a := range opts.Exclude {
		excluded[a] = struct{}{}
	}

	ready := make([]*domain.Proxy, 0, len(p.active))
	for addr, proxy := range p.active {
		if _, ok := excluded[addr]; ok {
			continue
		}
		if proxy.InUse() >= int32(p.cfg.MaxSimultaneous) {
			continue
		}
		if proxy.IsResting(now) {
			continue
		}
		if !matchesFilters(proxy, opts.Filters) {
			continue
		}
		ready = append(ready, proxy)
	}
	return ready
}

func matchesFilters(proxy *domain.Proxy, f ports.GetFilters) bool {
	if len(f.Countries) > 0 && !containsStr(f.Countries, proxy.Country) {
		return false
	}
	if len(f.CountriesExclude) > 0 && containsStr(f.CountriesExclude, proxy.Country) {
		return false
	}
	if f.MinSpeed > 0 && proxy.Speed < f.MinSpeed {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if proxy.HasType(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsStr(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// chooseLocked applies persist-then-strategy selection over an already
// filtered ready set.
func chooseLocked(ready []*domain.Proxy, opts ports.GetOptions) *domain.Proxy {
	if opts.Persist != "" {
		for _, proxy := range ready {
			if proxy.Key() == opts.Persist {
				return proxy
			}
		}
	}
	switch opts.Strategy {
	case constants.StrategyFastest:
		best := ready[0]
		bestScore := best.Speed / float64(best.InUse()+1)
		for _, proxy := range ready[1:] {
			score := proxy.Speed / float64(proxy.InUse()+1)
			if score > bestScore {
				best = proxy
				bestScore = score
			}
		}
		return best
	default: // RANDOM
		return ready[rand.Intn(len(ready))]
	}
}

func (p *Pool) totalInUseLocked() int {
	total := 0
	for _, proxy := range p.active {
		total += int(proxy.InUse())
	}
	return total
}

// maybeUpdateLocked is the debounced maintenance pass (spec.md §4.2
// maybe_update). Called with p.mu held.
func (p *Pool) maybeUpdateLocked() {
	now := time.Now()
	if now.Sub(p.lastUpdate) < p.cfg.UpdateInterval {
		return
	}
	p.lastUpdate = now

	if p.fetcher != nil && p.fetcher.Ready() && p.needUpdateLocked() {
		go func() {
			_ = p.fetcher.Run(context.Background(), false)
		}()
	}

	var stale []*domain.Proxy
	for _, proxy := range p.active {
		if proxy.InUse() > 0 {
			continue
		}
		if now.Sub(proxy.UsedAt()) > p.cfg.PoolManagerIdle {
			delete(p.connPools, proxy.URL(firstType(proxy)).String())
		}
		if p.checker != nil && now.Sub(proxy.CheckedAt) > p.cfg.RecheckTimeout {
			stale = append(stale, proxy)
		}
	}
	// Rechecks run in their own goroutines rather than inline here: Recheck
	// takes p.mu itself, which is already held at this point. Each Recheck
	// still holds p.mu for the whole probe, so Get and every other pool
	// operation wait while a periodic recheck is in flight.
	for _, proxy := range stale {
		go func(proxy *domain.Proxy) {
			_ = p.Recheck(context.Background(), proxy, p.checker.Check)
		}(proxy)
	}

	for addr, proxy := range p.blacklisted {
		if now.Sub(proxy.UsedAt()) > p.cfg.BlacklistTimeout && now.Sub(proxy.AddedAt) > p.cfg.BlacklistTimeout {
			delete(p.blacklisted, addr)
		}
	}
}

func (p *Pool) needUpdateLocked() bool {
	if len(p.active) < p.cfg.MinActiveSize {
		return true
	}
	if p.needUpdateP != nil {
		return p.needUpdateP()
	}
	return false
}

func firstType(proxy *domain.Proxy) domain.ProxyType {
	for t := range proxy.Types {
		return t
	}
	return domain.ProxyTypeHTTP
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// scheduleRest pushes proxy's rest deadline onto the scheduler heap. Called
// with p.mu held; the scheduler goroutine takes its own turn acquiring the
// lock to pop due entries.
func (p *Pool) scheduleRest(proxy *domain.Proxy) {
	heap.Push(&p.rest, &restEntry{proxy: proxy, dueTime: proxy.RestTill})
}

// restScheduler is the single internal task that fires "proxy available"
// whenever the smallest scheduled rest_till elapses, grounded on the
// teacher's heap-scheduled health check timer (checkHeap/scheduledCheck).
func (p *Pool) restScheduler() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.mu.Lock()
			fired := false
			for p.rest.Len() > 0 {
				next := p.rest[0]
				if now.Before(next.dueTime) {
					break
				}
				heap.Pop(&p.rest)
				fired = true
			}
			p.mu.Unlock()
			if fired {
				p.notifyAvailable()
			}
		}
	}
}

// Snapshot builds the observability view backing the admin JSON endpoints.
func (p *Pool) Snapshot() ports.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := make([]*domain.Proxy, 0, len(p.active))
	for _, proxy := range p.active {
		active = append(active, proxy)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Key() < active[j].Key() })

	blacklisted := make([]*domain.Proxy, 0, len(p.blacklisted))
	for _, proxy := range p.blacklisted {
		blacklisted = append(blacklisted, proxy)
	}
	sort.Slice(blacklisted, func(i, j int) bool { return blacklisted[i].Key() < blacklisted[j].Key() })

	waitingCopy := make(map[string]ports.WaitEntry, len(p.waitingSet))
	for id, w := range p.waitingSet {
		waitingCopy[id] = ports.WaitEntry{Since: w.since, RequestIdent: w.requestIdent}
	}

	return ports.Snapshot{
		Active:      active,
		Blacklisted: blacklisted,
		Waiting:     waitingCopy,
		InUse:       p.totalInUseLocked(),
		StartedAt:   p.startedAt,
		UpdatedAt:   p.updatedAt,
		NeedUpdate:  p.needUpdateLocked(),
	}
}

// snapshotRecord is the flat, JSON-serialisable form of a Proxy used for
// Load/Save, per spec.md §6 "Snapshot format".
type snapshotRecord struct {
	Addr       string   `json:"addr"`
	Types      []string `json:"types"`
	Anonymity  string   `json:"anonymity"`
	Country    string   `json:"country,omitempty"`
	Speed      float64  `json:"speed,omitempty"`
	ConsecFail int      `json:"fail"`
	Blacklist  bool     `json:"blacklist"`
	AddedAt    string   `json:"added_at"`
	CheckedAt  string   `json:"checked_at,omitempty"`
	RestTill   string   `json:"rest_till,omitempty"`
	SuccessAt  string   `json:"success_at,omitempty"`
	FailAt     string   `json:"fail_at,omitempty"`
}

const snapshotTimeLayout = "2006-01-02T15:04:05Z"

func toSnapshotRecord(proxy *domain.Proxy, blacklisted bool) snapshotRecord {
	types := make([]string, 0, len(proxy.Types))
	for t := range proxy.Types {
		types = append(types, string(t))
	}
	sort.Strings(types)
	rec := snapshotRecord{
		Addr:       proxy.Key(),
		Types:      types,
		Anonymity:  string(proxy.Anonymity),
		Country:    proxy.Country,
		Speed:      proxy.Speed,
		ConsecFail: proxy.ConsecFail,
		Blacklist:  blacklisted,
		AddedAt:    proxy.AddedAt.UTC().Format(snapshotTimeLayout),
	}
	if !proxy.CheckedAt.IsZero() {
		rec.CheckedAt = proxy.CheckedAt.UTC().Format(snapshotTimeLayout)
	}
	if !proxy.RestTill.IsZero() {
		rec.RestTill = proxy.RestTill.UTC().Format(snapshotTimeLayout)
	}
	if t := proxy.SuccessAt(); !t.IsZero() {
		rec.SuccessAt = t.UTC().Format(snapshotTimeLayout)
	}
	if t := proxy.FailAt(); !t.IsZero() {
		rec.FailAt = t.UTC().Format(snapshotTimeLayout)
	}
	return rec
}

func fromSnapshotRecord(rec snapshotRecord) (*domain.Proxy, error) {
	host, port, err := splitAddr(rec.Addr)
	if err != nil {
		return nil, err
	}
	if len(rec.Types) == 0 {
		return nil, fmt.Errorf("pool: snapshot record %s has no types", rec.Addr)
	}
	proxy := domain.NewProxy(host, port, domain.ProxyType(rec.Types[0]), domain.Anonymity(rec.Anonymity))
	for _, t := range rec.Types[1:] {
		proxy.AddType(domain.ProxyType(t))
	}
	proxy.Country = rec.Country
	proxy.Speed = rec.Speed
	proxy.ConsecFail = rec.ConsecFail
	if rec.AddedAt != "" {
		if t, err := time.Parse(snapshotTimeLayout, rec.AddedAt); err == nil {
			proxy.AddedAt = t
		}
	}
	if rec.CheckedAt != "" {
		if t, err := time.Parse(snapshotTimeLayout, rec.CheckedAt); err == nil {
			proxy.CheckedAt = t
		}
	}
	if rec.RestTill != "" {
		if t, err := time.Parse(snapshotTimeLayout, rec.RestTill); err == nil {
			proxy.RestTill = t
		}
	}
	if rec.SuccessAt != "" {
		if t, err := time.Parse(snapshotTimeLayout, rec.SuccessAt); err == nil {
			proxy.SetSuccessAt(t)
		}
	}
	if rec.FailAt != "" {
		if t, err := time.Parse(snapshotTimeLayout, rec.FailAt); err == nil {
			proxy.SetFailAt(t)
		}
	}
	return proxy, nil
}

func splitAddr(addr string) (string, int, error) {
	var host string
	var port int
	if _, err := fmt.Sscanf(addr, "%[^:]:%d", &host, &port); err != nil {
		return "", 0, fmt.Errorf("pool: malformed addr %q: %w", addr, err)
	}
	return host, port, nil
}

// Save writes the active+blacklisted proxy records as a JSON array.
// `waiting` and the connection-pool map are process-local observability
// state and are never persisted (spec.md §9, OQ7).
func (p *Pool) Save(path string) error {
	p.mu.Lock()
	records := make([]snapshotRecord, 0, len(p.active)+len(p.blacklisted))
	for _, proxy := range p.active {
		records = append(records, toSnapshotRecord(proxy, false))
	}
	for _, proxy := range p.blacklisted {
		records = append(records, toSnapshotRecord(proxy, true))
	}
	p.mu.Unlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("pool: marshal snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load restores proxy records from a snapshot written by Save, feeding each
// through Proxy(..., load=true) so invariants are re-established.
func (p *Pool) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pool: read snapshot: %w", err)
	}
	var records []snapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("pool: unmarshal snapshot: %w", err)
	}
	ctx := context.Background()
	for _, rec := range records {
		proxy, err := fromSnapshotRecord(rec)
		if err != nil {
			continue
		}
		if rec.Blacklist {
			proxy.ConsecFail = p.cfg.MaxFail
		}
		if err := p.Proxy(ctx, proxy, true); err != nil {
			continue
		}
	}
	return nil
}
