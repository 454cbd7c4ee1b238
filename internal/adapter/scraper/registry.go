// Package scraper implements the Scraper framework (C4): a construction
// registry plus a handful of concrete listing parsers, grounded on the
// teacher's internal/adapter/balancer.Factory Register/Create pattern.
package scraper

import (
	"fmt"
	"sort"
	"sync"

	"proxybroker/internal/core/ports"
)

// Creator builds one Scraper instance from shared session options. Concrete
// scrapers register a Creator under their lowercase name.
type Creator func(opts SessionOptions) ports.Scraper

// Registry is the construction registry for named scrapers.
type Registry struct {
	mu       sync.RWMutex
	creators map[string]Creator
}

func NewRegistry() *Registry {
	return &Registry{creators: make(map[string]Creator)}
}

func (r *Registry) Register(name string, creator Creator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creators[name] = creator
}

func (r *Registry) Create(name string, opts SessionOptions) (ports.Scraper, error) {
	r.mu.RLock()
	creator, ok := r.creators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scraper: unknown source %q", name)
	}
	return creator(opts), nil
}

// Names returns every registered scraper name, sorted for stable iteration.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.creators))
	for name := range r.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve expands the configured source list: "*" (or an empty list) means
// every registered scraper, matching spec.md §4.5's `sources` semantics.
func (r *Registry) Resolve(sources []string) []string {
	for _, s := range sources {
		if s == "*" {
			return r.Names()
		}
	}
	if len(sources) == 0 {
		return r.Names()
	}
	return sources
}

// NewDefaultRegistry returns a Registry with every shipped scraper
// registered under its source name.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameFreeProxyList, newFreeProxyListScraper)
	r.Register(NameSpysOne, newSpysOneScraper)
	r.Register(NameHideMyName, newHideMyNameScraper)
	r.Register(NameSocksProxyNet, newSocksProxyNetScraper)
	return r
}
