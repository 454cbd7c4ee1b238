package checker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxybroker/internal/core/domain"
)

func newTestProxy(t *testing.T, server *httptest.Server) *domain.Proxy {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return domain.NewProxy(host, port, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
}

func registerTestTarget(name string, marker func([]byte) bool) func() {
	targets[name] = checkTarget{
		HTTPURL:  "http://example.test/get",
		HTTPSURL: "https://example.test/get",
		marker:   marker,
	}
	return func() { delete(targets, name) }
}

func TestChecker_SuccessMarksProxyHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"origin":"203.0.113.5"}`))
	}))
	defer server.Close()

	cleanup := registerTestTarget("_test_success", httpbinMarker)
	defer cleanup()

	cfg := DefaultConfig()
	cfg.Target = "_test_success"
	cfg.HTTPSCheck = false
	cfg.HTTPSForceCheck = false
	cfg.RetryCount = 0
	cfg.PoolSize = 2

	c, err := New(cfg, nil)
	require.NoError(t, err)

	p := newTestProxy(t, server)

	require.NoError(t, c.Check(context.Background(), p))

	assert.True(t, p.IsChecked(), "expected proxy to be marked checked")
	assert.EqualValues(t, 1, p.SuccessCount())
	assert.Equal(t, 0, p.ConsecFail, "expected ConsecFail reset to 0")
	assert.Greater(t, p.Speed, 0.0, "expected positive speed on success")
}

func TestChecker_FailureIncrementsConsecFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cleanup := registerTestTarget("_test_fail", httpbinMarker)
	defer cleanup()

	cfg := DefaultConfig()
	cfg.Target = "_test_fail"
	cfg.HTTPSCheck = false
	cfg.HTTPSForceCheck = false
	cfg.RetryCount = 0
	cfg.PoolSize = 2

	c, err := New(cfg, nil)
	require.NoError(t, err)

	p := newTestProxy(t, server)

	assert.Error(t, c.Check(context.Background(), p), "expected error for failed probe")
	assert.EqualValues(t, 1, p.FailCount())
	assert.Equal(t, 1, p.ConsecFail)
}

func TestChecker_MissingMarkerIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"unexpected":"field"}`))
	}))
	defer server.Close()

	cleanup := registerTestTarget("_test_marker", httpbinMarker)
	defer cleanup()

	cfg := DefaultConfig()
	cfg.Target = "_test_marker"
	cfg.HTTPSCheck = false
	cfg.HTTPSForceCheck = false
	cfg.RetryCount = 0
	cfg.PoolSize = 1

	c, err := New(cfg, nil)
	require.NoError(t, err)

	p := newTestProxy(t, server)
	assert.Error(t, c.Check(context.Background(), p), "expected error when marker is missing")
}

func TestChecker_IdempotencySkipsConcurrentDuplicate(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		_, _ = w.Write([]byte(`{"origin":"203.0.113.6"}`))
	}))
	defer server.Close()

	cleanup := registerTestTarget("_test_idempotent", httpbinMarker)
	defer cleanup()

	cfg := DefaultConfig()
	cfg.Target = "_test_idempotent"
	cfg.HTTPSCheck = false
	cfg.HTTPSForceCheck = false
	cfg.RetryCount = 0
	cfg.PoolSize = 2

	c, err := New(cfg, nil)
	require.NoError(t, err)
	p := newTestProxy(t, server)

	done := make(chan error, 1)
	go func() { done <- c.Check(context.Background(), p) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first check never reached the server")
	}

	assert.NoError(t, c.Check(context.Background(), p), "duplicate Check should return nil")

	close(release)
	assert.NoError(t, <-done)
}

func TestDialType(t *testing.T) {
	httpOnly := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	assert.Equal(t, domain.ProxyTypeHTTP, dialType(httpOnly))

	httpOnly.AddType(domain.ProxyTypeHTTPS)
	assert.Equal(t, domain.ProxyTypeHTTPS, dialType(httpOnly), "expected HTTPS preferred")

	socks := domain.NewProxy("1.2.3.4", 1080, domain.ProxyTypeSOCKS4, domain.AnonymityHigh)
	assert.Equal(t, domain.ProxyTypeSOCKS4, dialType(socks))

	socks.AddType(domain.ProxyTypeSOCKS5)
	assert.Equal(t, domain.ProxyTypeSOCKS5, dialType(socks), "expected SOCKS5 preferred")
}
