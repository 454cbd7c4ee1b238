package scraper

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Listing sites report how long ago a proxy last succeeded as free text
// rather than a timestamp ("42 seconds ago", "3 minutes", "1 h. 20 min.").
// These patterns cover every shape seen across the four sources.
var (
	reSecondsAgo = regexp.MustCompile(`(\d+)\s*seconds?\s*ago`)
	reMinutesAgo = regexp.MustCompile(`(\d+)\s*minutes?\s*ago`)
	reMinutes    = regexp.MustCompile(`^(\d+)\s*minutes?$`)
	reHoursMins  = regexp.MustCompile(`(\d+)\s*h\.\s*(\d+)\s*min\.`)
)

// parseRelativeAge converts one of the supported "ago" phrases into a
// duration elapsed since that report, or false if nothing matched.
func parseRelativeAge(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)

	if m := reHoursMins.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		return time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute, true
	}
	if m := reSecondsAgo.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Duration(n) * time.Second, true
	}
	if m := reMinutesAgo.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Duration(n) * time.Minute, true
	}
	if m := reMinutes.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Duration(n) * time.Minute, true
	}
	return 0, false
}
