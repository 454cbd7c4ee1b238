package pool

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxybroker/internal/core/constants"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxSimultaneous = 2
	cfg.MaxFail = 3
	cfg.UpdateInterval = time.Hour // keep maybeUpdate from firing mid-test
	return cfg
}

func TestProxy_InsertThenReselect(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))

	got, err := p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4:8080", got.Key())
	assert.EqualValues(t, 1, got.InUse())
}

func TestGet_RespectsMaxSimultaneous(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))

	for i := 0; i < 2; i++ {
		_, err := p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: time.Second})
		require.NoError(t, err)
	}

	_, err := p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: 50 * time.Millisecond})
	assert.Error(t, err, "expected InsufficientProxies once max_simultaneous is exhausted")
	var insufficient *domain.InsufficientProxiesError
	assert.ErrorAs(t, err, &insufficient)
}

func TestFail_BlacklistsAfterMaxFail(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))

	proxy, err := p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: time.Second})
	require.NoError(t, err)

	p.Fail(proxy, 0, assertErr(), nil, "")
	p.Fail(proxy, 0, assertErr(), nil, "")
	p.Fail(proxy, 0, assertErr(), nil, "")

	_, ok := p.GetByAddr("1.2.3.4:8080")
	require.True(t, ok)

	snap := p.Snapshot()
	assert.Empty(t, snap.Active, "expected proxy to leave the active set")
	assert.Len(t, snap.Blacklisted, 1, "expected proxy to land in the blacklist")
}

func TestRest_ForcesIneligibilityUntilTimeout(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))

	proxy, err := p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: time.Second})
	require.NoError(t, err)

	require.NoError(t, p.Rest(proxy, 200*time.Millisecond, nil, ""))

	_, err = p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: 20 * time.Millisecond})
	assert.Error(t, err, "expected InsufficientProxies while resting")

	proxy2, err := p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: time.Second})
	require.NoError(t, err, "expected selection to succeed once the rest timer fires")
	assert.Equal(t, proxy.Key(), proxy2.Key())
}

func TestBlacklistUnblacklistRoundTrip(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))

	proxy, ok := p.GetByAddr("1.2.3.4:8080")
	require.True(t, ok)

	p.Blacklist(proxy, false)
	snap := p.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Len(t, snap.Blacklisted, 1)

	p.Unblacklist(proxy)
	snap = p.Snapshot()
	assert.Len(t, snap.Active, 1)
	assert.Empty(t, snap.Blacklisted)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/snapshot.json"

	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	active := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	active.Country = "UA"
	require.NoError(t, p.Proxy(ctx, active, false))

	blacklisted := domain.NewProxy("5.6.7.8", 3128, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, blacklisted, false))
	p.Blacklist(blacklisted, false)

	require.NoError(t, p.Save(path))

	p2 := New(testConfig())
	defer p2.Close()
	require.NoError(t, p2.Load(path))

	snap := p2.Snapshot()
	assert.Len(t, snap.Active, 1)
	assert.Len(t, snap.Blacklisted, 1)
	assert.Equal(t, "UA", snap.Active[0].Country)
}

func TestForgetBlacklisted_LeavesUnusedRecordsAlone(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))
	p.Blacklist(candidate, false)

	dropped := p.ForgetBlacklisted(24 * time.Hour)
	assert.Zero(t, dropped, "a record with no UsedAt must never be swept")

	candidate.MarkUsed()
	dropped = p.ForgetBlacklisted(0)
	assert.Equal(t, 1, dropped)
}

func TestProxy_UnblacklistsOnlyWhenCandidateShowsLaterSuccessThanFail(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))
	p.Blacklist(candidate, false)

	// A rediscovery with no success/fail recorded yet must stay blacklisted.
	rediscovered := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, rediscovered, false))
	snap := p.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Len(t, snap.Blacklisted, 1)

	// A rediscovery whose own record shows a fail after its success must
	// also stay blacklisted.
	failedLater := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	failedLater.RecordOutcome("success", 0, 200)
	failedLater.RecordOutcome("fail", 0, 503)
	require.NoError(t, p.Proxy(ctx, failedLater, false))
	snap = p.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Len(t, snap.Blacklisted, 1)

	// A rediscovery whose own record shows a success after its fail must
	// un-blacklist the stored record.
	succeededLater := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	succeededLater.RecordOutcome("fail", 0, 503)
	succeededLater.RecordOutcome("success", 0, 200)
	require.NoError(t, p.Proxy(ctx, succeededLater, false))
	snap = p.Snapshot()
	assert.Len(t, snap.Active, 1)
	assert.Empty(t, snap.Blacklisted)
}

func TestResetRestTill_ClearsRestDeadlineUnderLock(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))

	proxy, err := p.Get(ctx, ports.GetOptions{Strategy: constants.StrategyRandom, Wait: time.Second})
	require.NoError(t, err)
	require.NoError(t, p.Rest(proxy, time.Hour, nil, ""))

	p.ResetRestTill(proxy)
	assert.False(t, proxy.IsResting(time.Now()))
}

func TestRecheck_RunsCheckFnUnderPoolLock(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))
	proxy, ok := p.GetByAddr("1.2.3.4:8080")
	require.True(t, ok)

	called := false
	err := p.Recheck(ctx, proxy, func(ctx context.Context, proxy *domain.Proxy) error {
		called = true
		proxy.Speed = 42
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, float64(42), proxy.Speed)
}

func TestClearPoolManager_EvictsCachedTransportWithoutChangingMembership(t *testing.T) {
	p := New(testConfig())
	defer p.Close()
	ctx := context.Background()

	candidate := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	require.NoError(t, p.Proxy(ctx, candidate, false))
	proxy, ok := p.GetByAddr("1.2.3.4:8080")
	require.True(t, ok)

	p.mu.Lock()
	p.connPools[proxy.URL(domain.ProxyTypeHTTP).String()] = &http.Transport{}
	p.mu.Unlock()

	p.ClearPoolManager(proxy)

	p.mu.Lock()
	_, stillCached := p.connPools[proxy.URL(domain.ProxyTypeHTTP).String()]
	p.mu.Unlock()
	assert.False(t, stillCached)

	snap := p.Snapshot()
	assert.Len(t, snap.Active, 1, "clear_pool_manager must never change active/blacklist membership")
}

func assertErr() error { return context.DeadlineExceeded }
