package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRelativeAge(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"42 seconds ago", 42 * time.Second, true},
		{"1 second ago", time.Second, true},
		{"3 minutes ago", 3 * time.Minute, true},
		{"15 minutes", 15 * time.Minute, true},
		{"1 h. 20 min.", time.Hour + 20*time.Minute, true},
		{"n/a", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := parseRelativeAge(c.in)
		assert.Equal(t, c.ok, ok, "in=%q", c.in)
		if c.ok {
			assert.Equal(t, c.want, got, "in=%q", c.in)
		}
	}
}
