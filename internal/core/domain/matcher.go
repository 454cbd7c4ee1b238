package domain

import (
	"net/http"
	"strconv"
	"strings"
)

// Matcher is the small declarative predicate carried across the wire as the
// `Proxy-Success-Response` / `Proxy-Fail-Response` / `Proxy-Rest-Response`
// headers. It is evaluated by Match, never executed as code.
type Matcher struct {
	Status    []int      `json:"status,omitempty"`
	StatusNot []int      `json:"status_not,omitempty"`
	Text      []string   `json:"text,omitempty"`
	TextNot   []string   `json:"text_not,omitempty"`
	Header    [][]string `json:"header,omitempty"`
	HeaderNot [][]string `json:"header_not,omitempty"`
}

// IsZero reports whether the matcher has no clauses configured at all.
func (m *Matcher) IsZero() bool {
	if m == nil {
		return true
	}
	return len(m.Status) == 0 && len(m.StatusNot) == 0 && len(m.Text) == 0 &&
		len(m.TextNot) == 0 && len(m.Header) == 0 && len(m.HeaderNot) == 0
}

// Match reports whether resp (with the already-read body) satisfies every
// configured clause of m. An unconfigured clause is vacuously satisfied.
func (m *Matcher) Match(statusCode int, header http.Header, body []byte) bool {
	if m == nil {
		return false
	}
	if len(m.Status) > 0 && !containsInt(m.Status, statusCode) {
		return false
	}
	if len(m.StatusNot) > 0 && containsInt(m.StatusNot, statusCode) {
		return false
	}
	if len(m.Text) > 0 {
		for _, t := range m.Text {
			if !strings.Contains(string(body), t) {
				return false
			}
		}
	}
	if len(m.TextNot) > 0 {
		for _, t := range m.TextNot {
			if strings.Contains(string(body), t) {
				return false
			}
		}
	}
	if len(m.Header) > 0 {
		for _, clause := range m.Header {
			if !headerMatches(header, clause) {
				return false
			}
		}
	}
	if len(m.HeaderNot) > 0 {
		for _, clause := range m.HeaderNot {
			if headerMatches(header, clause) {
				return false
			}
		}
	}
	return true
}

// headerMatches evaluates a single [name, substr?] clause: present (any
// value) when substr is omitted, substring match otherwise.
func headerMatches(header http.Header, clause []string) bool {
	if len(clause) == 0 {
		return false
	}
	name := clause[0]
	values := header.Values(name)
	if len(clause) == 1 {
		return len(values) > 0
	}
	substr := clause[1]
	for _, v := range values {
		if strings.Contains(v, substr) {
			return true
		}
	}
	return false
}

func containsInt(haystack []int, needle int) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// ParseIntList decodes a comma-separated list of ints, used for header
// decoding where the wire value is a simple CSV rather than JSON.
func ParseIntList(csv string) []int {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}
