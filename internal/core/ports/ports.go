// Package ports declares the interfaces the adapter packages implement and
// the higher-level components depend on, following the teacher's own
// core/ports split between domain types and the contracts around them.
package ports

import (
	"context"
	"net/http"
	"time"

	"proxybroker/internal/core/domain"
)

// GetFilters narrows ProxyPool.Get's selection to a subset of active
// proxies, matching the filter clauses named in spec.md §4.2.
type GetFilters struct {
	Countries        []string
	CountriesExclude []string
	MinSpeed         float64
	Types            []domain.ProxyType
}

// GetOptions configures a single ProxyPool.Get call.
type GetOptions struct {
	Strategy      string
	Persist       string // sticky addr, or "" for none
	Wait          time.Duration
	RequestIdent  string
	Exclude       []string
	Filters       GetFilters
}

// ProxyPool is the registry of known proxies: health, rest, blacklist and
// in-use state, plus selection and snapshot I/O (spec.md §4.2).
type ProxyPool interface {
	Proxy(ctx context.Context, p *domain.Proxy, load bool) error
	Fail(p *domain.Proxy, timeout time.Duration, err error, resp *http.Response, ident string)
	Success(p *domain.Proxy, timeout time.Duration, resp *http.Response, ident string)
	Rest(p *domain.Proxy, timeout time.Duration, resp *http.Response, ident string) error
	Blacklist(p *domain.Proxy, load bool)
	Unblacklist(p *domain.Proxy)
	Get(ctx context.Context, opts GetOptions) (*domain.Proxy, error)
	GetByAddr(addr string) (*domain.Proxy, bool)
	Release(p *domain.Proxy)
	Load(path string) error
	Save(path string) error
	Snapshot() Snapshot
	// ForgetBlacklisted drops blacklisted records whose UsedAt is older
	// than olderThan (0 means "drop all blacklisted records"); records
	// with no UsedAt are left in place (spec.md §9 OQ-d). It reports how
	// many records were dropped.
	ForgetBlacklisted(olderThan time.Duration) int
	// ClearPoolManager evicts p's cached transport from the connection
	// pool manager without touching its active/blacklisted membership,
	// per spec.md §4.7's clear_pool_manager admin action.
	ClearPoolManager(p *domain.Proxy)
	// ResetRestTill clears p's rest deadline under the pool lock, per
	// spec.md §4.7's reset_rest_till admin action.
	ResetRestTill(p *domain.Proxy)
	// Recheck runs check against p with the pool lock held, so a manual
	// admin recheck can never race a concurrent Get's read of p's fields
	// (spec.md §5, "only the Pool serialises state").
	Recheck(ctx context.Context, p *domain.Proxy, check func(context.Context, *domain.Proxy) error) error
}

// Snapshot is the observability view backing the admin JSON endpoints
// (spec.md §6): counters, proxy listings and the waiting map.
type Snapshot struct {
	Active       []*domain.Proxy
	Blacklisted  []*domain.Proxy
	Waiting      map[string]WaitEntry
	InUse        int
	StartedAt    time.Time
	UpdatedAt    time.Time
	NeedUpdate   bool
}

// WaitEntry records one blocked selection waiter for the `/waiting` admin
// endpoint.
type WaitEntry struct {
	Since        time.Time
	RequestIdent string
}

// Checker validates individual proxies against reference endpoints
// (spec.md §4.3).
type Checker interface {
	Check(ctx context.Context, p *domain.Proxy) error
	Ready() bool
}

// Scraper parses one external listing source into a stream of candidate
// proxies (spec.md §4.4). Implementations are external collaborators; the
// framework only depends on this contract.
type Scraper interface {
	Name() string
	Worker(ctx context.Context, emit func(*domain.Proxy)) error
}

// Fetcher runs registered scrapers with bounded concurrency and funnels
// output through an optional Checker into the Pool (spec.md §4.5).
type Fetcher interface {
	Run(ctx context.Context, join bool) error
	Ready() bool
	StartedAt() time.Time
}

// Session is the client-side brokered request loop (spec.md §4.6).
type Session interface {
	Do(ctx context.Context, req *http.Request, opts SessionOptions) (*http.Response, *domain.Proxy, CallStats, error)
}

// CallStats reports how many retry-loop attempts a single Session.Do call
// spent on fail/rest outcomes before it returned, per spec.md §4.6 step 4 and
// §7: the fail_count/rest_count the gateway headers and
// MaxRetriesExceededError report are scoped to this one call, never to the
// winning (or exhausted) proxy's lifetime totals.
type CallStats struct {
	FailCount int
	RestCount int
}

// SessionOptions carries the per-request policy knobs the gateway decodes
// from `X-Superproxy-*` headers.
type SessionOptions struct {
	Strategy       string
	MaxRetries     int
	Timeout        time.Duration
	Wait           time.Duration // how long to block waiting for an available proxy; 0 falls back to Timeout
	AllowNoProxy   bool
	Persist        string
	Exclude        []string
	RequestIdent   string
	Filters        GetFilters

	SuccessResponse *domain.Matcher
	FailResponse    *domain.Matcher
	RestResponse    *domain.Matcher
	SuccessTimeout  time.Duration
	FailTimeout     time.Duration
	RestTimeout     time.Duration
}
