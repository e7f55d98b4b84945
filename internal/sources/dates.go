package sources

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var relativeDateRe = regexp.MustCompile(`(\d+)\s*(second|sec|minute|min|hour|hr|day|week|month|year)s?\s+ago`)

// ParseDate turns a provider date string into a time. It understands
// relative forms such as "3 days ago" (resolved against now) and anything
// dateparse recognizes. ok is false when the string cannot be interpreted.
func ParseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	lower := strings.ToLower(s)

	if m := relativeDateRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return now.Add(-time.Duration(n) * relativeUnit(m[2])), true
	}
	switch lower {
	case "just now", "now":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	case "today":
		return now, true
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func relativeUnit(unit string) time.Duration {
	switch unit {
	case "second", "sec":
		return time.Second
	case "minute", "min":
		return time.Minute
	case "hour", "hr":
		return time.Hour
	case "day":
		return 24 * time.Hour
	case "week":
		return 7 * 24 * time.Hour
	case "month":
		return 30 * 24 * time.Hour
	case "year":
		return 365 * 24 * time.Hour
	}
	return 0
}

// dateOr parses s and falls back to def when it cannot be interpreted.
func dateOr(s string, now, def time.Time) time.Time {
	if t, ok := ParseDate(s, now); ok {
		return t
	}
	return def
}
