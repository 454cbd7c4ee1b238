package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
)

// fakePool is a minimal ports.ProxyPool stub that hands out a pre-configured
// sequence of proxies and records the outcomes reported back, letting the
// Session's retry loop be exercised without a real ProxyPool.
type fakePool struct {
	queue   []*domain.Proxy
	fails   []string
	rests   []string
	success []string
}

func (f *fakePool) Get(ctx context.Context, opts ports.GetOptions) (*domain.Proxy, error) {
	if len(f.queue) == 0 {
		return nil, &domain.InsufficientProxiesError{Strategy: opts.Strategy}
	}
	p := f.queue[0]
	f.queue = f.queue[1:]
	p.IncrInUse()
	return p, nil
}

func (f *fakePool) Fail(p *domain.Proxy, timeout time.Duration, err error, resp *http.Response, ident string) {
	f.fails = append(f.fails, p.Key())
	p.DecrInUse()
}

func (f *fakePool) Success(p *domain.Proxy, timeout time.Duration, resp *http.Response, ident string) {
	f.success = append(f.success, p.Key())
	p.DecrInUse()
}

func (f *fakePool) Rest(p *domain.Proxy, timeout time.Duration, resp *http.Response, ident string) error {
	f.rests = append(f.rests, p.Key())
	p.DecrInUse()
	return nil
}

func (f *fakePool) Blacklist(p *domain.Proxy, load bool)                   {}
func (f *fakePool) Unblacklist(p *domain.Proxy)                            {}
func (f *fakePool) GetByAddr(addr string) (*domain.Proxy, bool)            { return nil, false }
func (f *fakePool) Release(p *domain.Proxy)                                { p.DecrInUse() }
func (f *fakePool) Proxy(ctx context.Context, p *domain.Proxy, load bool) error { return nil }
func (f *fakePool) Load(path string) error                                { return nil }
func (f *fakePool) Save(path string) error                                { return nil }
func (f *fakePool) Snapshot() ports.Snapshot                              { return ports.Snapshot{} }
func (f *fakePool) ForgetBlacklisted(olderThan time.Duration) int         { return 0 }
func (f *fakePool) ClearPoolManager(p *domain.Proxy)                      {}
func (f *fakePool) ResetRestTill(p *domain.Proxy)                         {}
func (f *fakePool) Recheck(ctx context.Context, p *domain.Proxy, check func(context.Context, *domain.Proxy) error) error {
	return check(ctx, p)
}

func proxyForServer(t *testing.T, srv *httptest.Server) *domain.Proxy {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := splitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return domain.NewProxy(host, port, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
}

func splitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return hostport, "", nil
	}
	return hostport[:idx], hostport[idx+1:], nil
}

func TestSession_SuccessReportsOutcomeAndReturnsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer upstream.Close()

	pool := &fakePool{queue: []*domain.Proxy{proxyForServer(t, upstream)}}
	sess := New(pool, DefaultOptions())

	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	resp, proxy, stats, err := sess.Do(context.Background(), req, ports.SessionOptions{MaxRetries: 1})
	require.NoError(t, err)
	require.NotNil(t, proxy)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, pool.success, 1)
	assert.Empty(t, pool.fails)
	assert.Equal(t, 0, stats.FailCount)
	assert.Equal(t, 0, stats.RestCount)
}

func TestSession_RotatesToNextProxyOnFailResponse(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	succeeding := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer succeeding.Close()

	pool := &fakePool{queue: []*domain.Proxy{
		proxyForServer(t, failing),
		proxyForServer(t, failing),
		proxyForServer(t, succeeding),
	}}
	sess := New(pool, DefaultOptions())

	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	resp, _, stats, err := sess.Do(context.Background(), req, ports.SessionOptions{
		MaxRetries:   3,
		FailResponse: &domain.Matcher{Status: []int{503}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, pool.fails, 2, "the two 503 responses must each be reported as a fail")
	assert.Len(t, pool.success, 1)
	assert.Equal(t, 2, stats.FailCount)
}

func TestSession_RestResponseTakesPrecedenceOverFail(t *testing.T) {
	rateLimited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer rateLimited.Close()

	pool := &fakePool{queue: []*domain.Proxy{proxyForServer(t, rateLimited)}}
	sess := New(pool, DefaultOptions())

	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	_, _, stats, err := sess.Do(context.Background(), req, ports.SessionOptions{
		MaxRetries:   1,
		FailResponse: &domain.Matcher{Status: []int{429}},
		RestResponse: &domain.Matcher{Status: []int{429}},
		RestTimeout:  time.Minute,
	})
	require.Error(t, err, "a single attempt with no further proxies must exhaust retries")
	assert.Len(t, pool.rests, 1)
	assert.Empty(t, pool.fails, "rest must be classified in preference to fail for the same response")
	assert.Equal(t, 1, stats.RestCount)
}

func TestSession_ExhaustsRetriesAndReportsMaxRetriesExceeded(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	pool := &fakePool{queue: []*domain.Proxy{
		proxyForServer(t, failing),
		proxyForServer(t, failing),
	}}
	sess := New(pool, DefaultOptions())

	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	_, _, stats, err := sess.Do(context.Background(), req, ports.SessionOptions{
		MaxRetries:   2,
		FailResponse: &domain.Matcher{Status: []int{503}},
	})
	require.Error(t, err)
	var maxRetries *domain.MaxRetriesExceededError
	require.ErrorAs(t, err, &maxRetries)
	assert.Equal(t, 2, maxRetries.Attempts)
	assert.Equal(t, 2, maxRetries.FailCount)
	assert.Len(t, pool.fails, 2)
	assert.Equal(t, 2, stats.FailCount)
}

func TestSession_AllowNoProxyFallsThroughDirect(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pool := &fakePool{} // no proxies queued: Get always fails
	sess := New(pool, DefaultOptions())

	req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
	require.NoError(t, err)

	resp, proxy, _, err := sess.Do(context.Background(), req, ports.SessionOptions{
		MaxRetries:   1,
		AllowNoProxy: true,
	})
	require.NoError(t, err)
	assert.Nil(t, proxy, "a direct fallback attempt has no associated proxy")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
