package superproxy

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"proxybroker/internal/core/constants"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
)

func TestDecodePolicy_BasicKnobs(t *testing.T) {
	h := http.Header{}
	h.Set(constants.HeaderTimeout, "5")
	h.Set(constants.HeaderAllowNoProxy, "1")
	h.Set(constants.HeaderProxyStrategy, "fastest")
	h.Set(constants.HeaderProxyMaxRetries, "7")
	h.Set(constants.HeaderProxyPersist, "1.2.3.4:8080")
	h.Set(constants.HeaderProxyExclude, "1.1.1.1:80, 2.2.2.2:80")
	h.Set(constants.HeaderProxyCountries, "US,DE")
	h.Set(constants.HeaderProxyCountriesExcl, "RU")
	h.Set(constants.HeaderProxyMinSpeed, "12.5")
	h.Set(constants.HeaderProxyRequestIdent, "req-1")

	opts := decodePolicy(h)

	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.True(t, opts.AllowNoProxy)
	assert.Equal(t, "FASTEST", opts.Strategy)
	assert.Equal(t, 7, opts.MaxRetries)
	assert.Equal(t, "1.2.3.4:8080", opts.Persist)
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80"}, opts.Exclude)
	assert.Equal(t, []string{"US", "DE"}, opts.Filters.Countries)
	assert.Equal(t, []string{"RU"}, opts.Filters.CountriesExclude)
	assert.Equal(t, 12.5, opts.Filters.MinSpeed)
	assert.Equal(t, "req-1", opts.RequestIdent)
}

func TestDecodeProxyWait_ThreeWayShape(t *testing.T) {
	cases := []struct {
		raw      string
		fallback time.Duration
		want     time.Duration
	}{
		{"", 5 * time.Second, 5 * time.Second},
		{"t", 5 * time.Second, 5 * time.Second},
		{"true", 5 * time.Second, 5 * time.Second},
		{"f", 5 * time.Second, 0},
		{"false", 5 * time.Second, 0},
		{"30", 5 * time.Second, 30 * time.Second},
		{"garbage", 5 * time.Second, 5 * time.Second},
	}
	for _, c := range cases {
		h := http.Header{}
		if c.raw != "" {
			h.Set(constants.HeaderProxyWait, c.raw)
		}
		got := decodeProxyWait(h, c.fallback)
		assert.Equal(t, c.want, got, "raw=%q", c.raw)
	}
}

func TestDecodeMatcher_ParsesURLEncodedJSON(t *testing.T) {
	raw := `{"status":[429],"text":["slow down"]}`
	encoded := url.QueryEscape(raw)

	m := decodeMatcher(encoded)
	if assert.NotNil(t, m) {
		assert.Equal(t, []int{429}, m.Status)
		assert.Equal(t, []string{"slow down"}, m.Text)
	}
}

func TestDecodeMatcher_EmptyOrMalformedYieldsNil(t *testing.T) {
	assert.Nil(t, decodeMatcher(""))
	assert.Nil(t, decodeMatcher("not json at all {{{"))
}

func TestIsHopByHop(t *testing.T) {
	assert.True(t, isHopByHop("Connection"))
	assert.True(t, isHopByHop("proxy-authorization"))
	assert.False(t, isHopByHop("Content-Type"))
}

func TestCopyUpstreamHeaders_StripsHopByHopAndPolicyHeaders(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set(constants.HeaderProxyStrategy, "RANDOM")
	src.Set("Accept", "text/html")

	dst := http.Header{}
	copyUpstreamHeaders(dst, src)

	assert.Empty(t, dst.Get("Connection"))
	assert.Empty(t, dst.Get(constants.HeaderProxyStrategy))
	assert.Equal(t, "text/html", dst.Get("Accept"))
}

func TestSetProxyResponseHeaders_NilProxyIsNoop(t *testing.T) {
	h := http.Header{}
	setProxyResponseHeaders(h, nil, ports.CallStats{})
	assert.Empty(t, h)
}

func TestSetProxyResponseHeaders_UsesCallLocalCounts(t *testing.T) {
	p := domain.NewProxy("1.2.3.4", 8080, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	// Give the proxy lifetime counters that differ from this call's stats,
	// so a regression back to p.FailCount()/p.RestCount() would be caught.
	p.RecordOutcome("fail", 0, 503)
	p.RecordOutcome("fail", 0, 503)
	p.RecordOutcome("fail", 0, 503)

	h := http.Header{}
	setProxyResponseHeaders(h, p, ports.CallStats{FailCount: 2, RestCount: 0})

	assert.Equal(t, p.Key(), h.Get(constants.HeaderAddr))
	assert.Equal(t, "2", h.Get(constants.HeaderFailCount))
	assert.Equal(t, "0", h.Get(constants.HeaderRestCount))
}
