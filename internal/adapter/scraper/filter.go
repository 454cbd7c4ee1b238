package scraper

import (
	"time"

	"proxybroker/internal/core/domain"
	"proxybroker/internal/util/pattern"
)

// PostFilter narrows scraped candidates before they reach the Fetcher's
// Checker/Pool stage, per spec.md §4.4's country/anonymity/type/freshness
// clauses. domain.FilterConfig carries the include/exclude glob patterns but
// has no predicate of its own, so this bridges it to
// internal/util/pattern.MatchesGlob.
type PostFilter struct {
	Countries   domain.FilterConfig
	Anonymities domain.FilterConfig
	Types       []domain.ProxyType
	MaxAge      time.Duration // 0 disables the freshness check
}

// Accept reports whether p survives every configured clause. All clauses
// are ANDed together; an empty/zero-value clause always passes.
func (f PostFilter) Accept(p *domain.Proxy) bool {
	if !matchesFilterConfig(f.Countries, p.Country) {
		return false
	}
	if !matchesFilterConfig(f.Anonymities, string(p.Anonymity)) {
		return false
	}
	if len(f.Types) > 0 && !hasAnyType(p, f.Types) {
		return false
	}
	if f.MaxAge > 0 && time.Since(p.AddedAt) > f.MaxAge {
		return false
	}
	return true
}

func hasAnyType(p *domain.Proxy, types []domain.ProxyType) bool {
	for _, t := range types {
		if p.HasType(t) {
			return true
		}
	}
	return false
}

// matchesFilterConfig applies fc's include/exclude glob patterns to a single
// value: exclude always wins, include defaults to "match everything" when
// empty or containing "*".
func matchesFilterConfig(fc domain.FilterConfig, value string) bool {
	for _, ex := range fc.Exclude {
		if pattern.MatchesGlob(value, ex) {
			return false
		}
	}
	if fc.HasIncludeAll() {
		return true
	}
	for _, inc := range fc.Include {
		if pattern.MatchesGlob(value, inc) {
			return true
		}
	}
	return false
}
