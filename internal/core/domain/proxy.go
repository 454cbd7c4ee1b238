package domain

import (
	"fmt"
	"net/url"
	"sync/atomic"
	"time"
)

// ProxyType identifies the wire protocol family a Proxy speaks. Families are
// never mixed: a Proxy can gain additional types only within the same family
// (e.g. HTTP + HTTPS), never across it.
type ProxyType string

const (
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeHTTPS  ProxyType = "https"
	ProxyTypeSOCKS4 ProxyType = "socks4"
	ProxyTypeSOCKS5 ProxyType = "socks5"
)

// IsHTTPFamily reports whether t belongs to the HTTP/HTTPS family.
func (t ProxyType) IsHTTPFamily() bool {
	return t == ProxyTypeHTTP || t == ProxyTypeHTTPS
}

// IsSOCKSFamily reports whether t belongs to the SOCKS4/SOCKS5 family.
func (t ProxyType) IsSOCKSFamily() bool {
	return t == ProxyTypeSOCKS4 || t == ProxyTypeSOCKS5
}

// Anonymity classifies how much of the client's identity a proxy leaks
// upstream. SOCKS proxies never leak the client IP or reveal themselves via
// headers, so they are always forced to AnonymityHigh regardless of what a
// scraper claims.
type Anonymity string

const (
	AnonymityTransparent Anonymity = "transparent"
	AnonymityAnonymous   Anonymity = "anonymous"
	AnonymityHigh        Anonymity = "elite"
)

// HistoryEntry records the outcome of a single request routed through a
// Proxy, used for the bounded ring buffer kept per-proxy.
type HistoryEntry struct {
	At       time.Time
	Outcome  string // "success", "fail", "rest"
	Latency  time.Duration
	HTTPCode int
}

const historyCapacity = 20

// Proxy is a single proxy endpoint tracked by a ProxyPool. All mutation goes
// through ProxyPool methods, which hold the pool's own lock, so Proxy itself
// needs no internal lock - only the lock-free counters below, which are read
// by status/admin endpoints without taking the pool lock.
type Proxy struct {
	Host      string
	Port      int
	Types     map[ProxyType]struct{}
	Anonymity Anonymity
	Meta      map[string]string

	AddedAt    time.Time
	CheckedAt  time.Time
	RestTill   time.Time
	Speed      float64 // kB/s on last successful check, 0 if unknown
	Country    string  // ISO-3166 alpha-2, "" if unknown
	ConsecFail int     // consecutive failures, reset to 0 on success; mutated only by ProxyPool
	usedAt     atomic.Int64 // unix nano, 0 if never used
	successAt  atomic.Int64 // unix nano of most recent successful use, 0 if never
	failAt     atomic.Int64 // unix nano of most recent failed use, 0 if never
	successCnt atomic.Uint64
	failCnt    atomic.Uint64
	restCnt    atomic.Uint64
	inUse      atomic.Int32

	history    [historyCapacity]HistoryEntry
	historyLen int
	historyPos int
}

// NewProxy constructs a Proxy for the given host:port speaking the given
// protocol family. Anonymity defaults to AnonymityHigh for any non-HTTP
// family, matching the spec's invariant that SOCKS proxies can't be
// transparent or merely anonymous.
func NewProxy(host string, port int, t ProxyType, anonymity Anonymity) *Proxy {
	if t.IsSOCKSFamily() {
		anonymity = AnonymityHigh
	}
	return &Proxy{
		Host:      host,
		Port:      port,
		Types:     map[ProxyType]struct{}{t: {}},
		Anonymity: anonymity,
		Meta:      make(map[string]string),
		AddedAt:   time.Now(),
	}
}

// Key returns the identity this proxy is tracked under ("host:port"),
// independent of protocol - the same socket can only ever be one Proxy
// record.
func (p *Proxy) Key() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// URL returns the dial URL for the given type, which must be one p.Types
// already contains.
func (p *Proxy) URL(t ProxyType) *url.URL {
	return &url.URL{
		Scheme: string(t),
		Host:   p.Key(),
	}
}

// HasType reports whether the proxy is known to speak t.
func (p *Proxy) HasType(t ProxyType) bool {
	_, ok := p.Types[t]
	return ok
}

// AddType records an additional protocol within the same family as the
// proxy's existing types. Callers must not cross families; ProxyPool.Merge
// enforces that before calling this.
func (p *Proxy) AddType(t ProxyType) {
	p.Types[t] = struct{}{}
}

// RemoveType drops a protocol from the proxy's known types, used by the
// Checker to retract HTTPS support once a probe against it stops
// succeeding. Never removes the last remaining type.
func (p *Proxy) RemoveType(t ProxyType) {
	if len(p.Types) <= 1 {
		return
	}
	delete(p.Types, t)
}

// UsedAt returns the last time this proxy was handed out by Get, or the
// zero Time if it has never been used.
func (p *Proxy) UsedAt() time.Time {
	ns := p.usedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// MarkUsed stamps the proxy as just having been handed out.
func (p *Proxy) MarkUsed() {
	p.usedAt.Store(time.Now().UnixNano())
}

// IsResting reports whether the proxy is currently serving a rest penalty.
func (p *Proxy) IsResting(now time.Time) bool {
	return now.Before(p.RestTill)
}

// IsChecked reports whether the proxy has ever passed a health probe.
func (p *Proxy) IsChecked() bool {
	return !p.CheckedAt.IsZero()
}

// SuccessAt and FailAt report the timestamp of this proxy's most recent
// successful/failed use, or the zero Time if that outcome never occurred -
// spec.md §3's `success_at`/`fail_at`, used by ProxyPool.Proxy's un-blacklist
// and blacklist-on-load rules.
func (p *Proxy) SuccessAt() time.Time { return unixNanoOrZero(p.successAt.Load()) }
func (p *Proxy) FailAt() time.Time    { return unixNanoOrZero(p.failAt.Load()) }

// SetSuccessAt and SetFailAt restore success_at/fail_at from a snapshot
// record, bypassing RecordOutcome's counter/history bookkeeping since a
// reload is not itself a new outcome.
func (p *Proxy) SetSuccessAt(t time.Time) {
	if !t.IsZero() {
		p.successAt.Store(t.UnixNano())
	}
}

func (p *Proxy) SetFailAt(t time.Time) {
	if !t.IsZero() {
		p.failAt.Store(t.UnixNano())
	}
}

func unixNanoOrZero(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// SuccessCount, FailCount and RestCount expose the lock-free outcome
// counters for admin/status reporting and the gateway's per-response
// `X-Superproxy-*` headers, without needing the pool's lock.
func (p *Proxy) SuccessCount() uint64 { return p.successCnt.Load() }
func (p *Proxy) FailCount() uint64    { return p.failCnt.Load() }
func (p *Proxy) RestCount() uint64    { return p.restCnt.Load() }

// InUse returns the number of ongoing brokered requests currently holding
// this proxy. Mutated only by ProxyPool, under its own lock, per the
// locking discipline that only the Pool serialises proxy state.
func (p *Proxy) InUse() int32 { return p.inUse.Load() }

// IncrInUse and DecrInUse must only be called by ProxyPool, under its lock.
func (p *Proxy) IncrInUse() { p.inUse.Add(1) }
func (p *Proxy) DecrInUse() {
	if p.inUse.Load() > 0 {
		p.inUse.Add(-1)
	}
}

// RecordOutcome appends an entry to the bounded history ring and bumps the
// relevant lock-free counter. Called by ProxyPool under its own lock.
func (p *Proxy) RecordOutcome(outcome string, latency time.Duration, httpCode int) {
	now := time.Now()
	p.history[p.historyPos] = HistoryEntry{
		At:       now,
		Outcome:  outcome,
		Latency:  latency,
		HTTPCode: httpCode,
	}
	p.historyPos = (p.historyPos + 1) % historyCapacity
	if p.historyLen < historyCapacity {
		p.historyLen++
	}
	switch outcome {
	case "success":
		p.successCnt.Add(1)
		p.successAt.Store(now.UnixNano())
	case "fail":
		p.failCnt.Add(1)
		p.failAt.Store(now.UnixNano())
	case "rest":
		// rest is treated as a success that forces a rest period (spec.md §3).
		p.restCnt.Add(1)
		p.successAt.Store(now.UnixNano())
	}
}

// History returns the recorded entries, oldest first.
func (p *Proxy) History() []HistoryEntry {
	out := make([]HistoryEntry, 0, p.historyLen)
	start := p.historyPos - p.historyLen
	for i := 0; i < p.historyLen; i++ {
		idx := (start + i + historyCapacity) % historyCapacity
		out = append(out, p.history[idx])
	}
	return out
}

// MergeMeta unions the sets of types and metadata of two records describing
// the same host:port, but only when they belong to the same protocol
// family - a proxy seen speaking HTTP and one seen speaking SOCKS5 at the
// same address are never merged into one record. Scalar fields (country,
// anonymity, speed) are filled in only where currently absent on the
// receiver - a later observation never overwrites an already-known value.
// The type set, and any field or Meta key that only one of the two records
// knows, come out the same in either call order; where both records hold
// different values, the receiver's value is kept, so the result then
// depends on which record is merged into which.
func (p *Proxy) MergeMeta(other *Proxy) error {
	if !sameFamily(p.Types, other.Types) {
		return fmt.Errorf("proxy %s: cannot merge %v into %v, different protocol family", p.Key(), other.Types, p.Types)
	}
	for t := range other.Types {
		p.Types[t] = struct{}{}
	}
	for k, v := range other.Meta {
		if _, ok := p.Meta[k]; !ok {
			p.Meta[k] = v
		}
	}
	if p.Country == "" {
		p.Country = other.Country
	}
	if p.Anonymity == "" {
		p.Anonymity = other.Anonymity
	}
	if p.Speed == 0 {
		p.Speed = other.Speed
	}
	return nil
}

func sameFamily(a, b map[ProxyType]struct{}) bool {
	aHTTP, aSOCKS := false, false
	for t := range a {
		if t.IsHTTPFamily() {
			aHTTP = true
		}
		if t.IsSOCKSFamily() {
			aSOCKS = true
		}
	}
	for t := range b {
		if t.IsHTTPFamily() && aSOCKS {
			return false
		}
		if t.IsSOCKSFamily() && aHTTP {
			return false
		}
	}
	return true
}
