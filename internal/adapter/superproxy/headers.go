package superproxy

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"proxybroker/internal/core/constants"
	"proxybroker/internal/core/domain"
	"proxybroker/internal/core/ports"
)

// hopByHopHeaders are stripped in both directions per RFC 2616 §13.5.1,
// grounded on the teacher's proxy/core.isHopByHopHeader table.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// copyUpstreamHeaders copies headers from src onto an outbound request,
// skipping hop-by-hop headers and anything already under our own
// X-Superproxy-* namespace - policy headers are decoded, not forwarded.
func copyUpstreamHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) || strings.HasPrefix(http.CanonicalHeaderKey(name), constants.HeaderPrefix) {
			continue
		}
		dst[name] = values
	}
}

// copyResponseHeaders mirrors the upstream response headers onto w, hop-by-hop
// stripped; Content-Length is left for net/http to recompute from the body
// actually written rather than trusted from upstream.
func copyResponseHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) || strings.EqualFold(name, "Content-Length") {
			continue
		}
		dst[name] = values
	}
}

// decodePolicy turns the request's X-Superproxy-* headers into
// ports.SessionOptions, per spec.md §6's decoder table.
func decodePolicy(h http.Header) ports.SessionOptions {
	var opts ports.SessionOptions

	if v := h.Get(constants.HeaderTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Timeout = time.Duration(n) * time.Second
		}
	}
	opts.AllowNoProxy = parseBoolFlag(h.Get(constants.HeaderAllowNoProxy))
	opts.Strategy = strings.ToUpper(strings.TrimSpace(h.Get(constants.HeaderProxyStrategy)))
	if v := h.Get(constants.HeaderProxyMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.MaxRetries = n
		}
	}
	opts.Wait = decodeProxyWait(h, opts.Timeout)
	opts.Persist = h.Get(constants.HeaderProxyPersist)
	if v := h.Get(constants.HeaderProxyExclude); v != "" {
		opts.Exclude = splitCSV(v)
	}
	opts.RequestIdent = h.Get(constants.HeaderProxyRequestIdent)

	opts.Filters.Countries = splitCSV(h.Get(constants.HeaderProxyCountries))
	opts.Filters.CountriesExclude = splitCSV(h.Get(constants.HeaderProxyCountriesExcl))
	if v := h.Get(constants.HeaderProxyMinSpeed); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			opts.Filters.MinSpeed = f
		}
	}

	opts.SuccessResponse = decodeMatcher(h.Get(constants.HeaderProxySuccessResp))
	opts.FailResponse = decodeMatcher(h.Get(constants.HeaderProxyFailResp))
	opts.RestResponse = decodeMatcher(h.Get(constants.HeaderProxyRestResp))

	opts.SuccessTimeout = parseSeconds(h.Get(constants.HeaderProxySuccessTO))
	opts.FailTimeout = parseSeconds(h.Get(constants.HeaderProxyFailTO))
	opts.RestTimeout = parseSeconds(h.Get(constants.HeaderProxyRestTO))

	return opts
}

// decodeProxyWait resolves the `Proxy-Wait` header's three-way shape
// (boolean-ish "t"/"f" or an integer second count) into the wait budget the
// Pool's Get call blocks for.
func decodeProxyWait(h http.Header, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get(constants.HeaderProxyWait))
	switch strings.ToLower(v) {
	case "":
		return fallback
	case "t", "true", "1":
		return fallback
	case "f", "false", "0":
		return 0
	default:
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		return fallback
	}
}

func parseBoolFlag(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "t")
}

func parseSeconds(v string) time.Duration {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeMatcher decodes a URL-encoded JSON domain.Matcher, per spec.md §6's
// matcher JSON shape. An empty or malformed header yields nil, which
// domain.Matcher treats as vacuously unconfigured.
func decodeMatcher(v string) *domain.Matcher {
	if v == "" {
		return nil
	}
	decoded, err := url.QueryUnescape(v)
	if err != nil {
		decoded = v
	}
	var m domain.Matcher
	if err := json.Unmarshal([]byte(decoded), &m); err != nil {
		return nil
	}
	return &m
}

// setProxyResponseHeaders appends the gateway's own observability headers
// once a brokered attempt completes, successfully or not. The fail/rest
// counts are scoped to this one Session.Do call (ports.CallStats), not the
// winning proxy's lifetime totals - spec.md §6/§7.
func setProxyResponseHeaders(h http.Header, p *domain.Proxy, stats ports.CallStats) {
	if p == nil {
		return
	}
	h.Set(constants.HeaderAddr, p.Key())
	h.Set(constants.HeaderRestCount, strconv.Itoa(stats.RestCount))
	h.Set(constants.HeaderFailCount, strconv.Itoa(stats.FailCount))
}
