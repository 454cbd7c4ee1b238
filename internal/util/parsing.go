package util

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// reLooseDuration matches admin-action duration strings like "1 day",
// "2 days", "3 hours", "30 minutes" - the free-text shape spec.md §6's
// `used_at_before` field is given in, as opposed to Go's own "24h" syntax.
var reLooseDuration = regexp.MustCompile(`^(\d+)\s*(day|hour|hr|minute|min|second|sec)s?$`)

// ParseLooseDuration parses a duration given either in Go's native syntax
// ("24h", "90m") or the "<N> <unit>" English shape admin callers send
// ("1 day", "2 hours"). It never returns an error for a duration Go itself
// already understands.
func ParseLooseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if m := reLooseDuration.FindStringSubmatch(strings.ToLower(s)); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "day":
			return time.Duration(n) * 24 * time.Hour, nil
		case "hour", "hr":
			return time.Duration(n) * time.Hour, nil
		case "minute", "min":
			return time.Duration(n) * time.Minute, nil
		case "second", "sec":
			return time.Duration(n) * time.Second, nil
		}
	}
	return time.ParseDuration(s)
}

func GetString(m map[string]interface{}, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func GetFloat64(m map[string]interface{}, key string) (int64, bool) {
	if val, ok := m[key]; ok {
		if f, ok := val.(float64); ok {
			return int64(f), true
		}
	}
	return 0, false
}

func GetStringArray(m map[string]interface{}, key string) []string {
	if val, ok := m[key]; ok {
		if arr, ok := val.([]interface{}); ok {
			result := make([]string, 0, len(arr))
			for _, item := range arr {
				if str, ok := item.(string); ok && str != "" {
					result = append(result, str)
				}
			}
			return result
		}
	}
	return nil
}

func ParseTime(m map[string]interface{}, key string) *time.Time {
	if val, ok := m[key]; ok {
		if timeStr, ok := val.(string); ok && timeStr != "" {
			// Try RFC3339 format first (standard ISO format)
			if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
				return &t
			}
			// Try RFC3339Nano for higher precision
			if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
				return &t
			}
		}
	}
	return nil
}
