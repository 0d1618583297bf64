package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses duration strings from configuration, including custom
// units Go's time package does not know about.
// Supports: y (years), mo (months), w (weeks), d (days), h (hours), m (minutes), s (seconds)
func ParseDuration(duration string) (time.Duration, error) {
	if duration == "" || duration == "now" {
		return 0, nil
	}

	re := regexp.MustCompile(`^(\d+)([a-zA-Z]+)$`)
	matches := re.FindStringSubmatch(strings.TrimSpace(duration))

	if len(matches) != 3 {
		// Try parsing as standard Go duration
		return time.ParseDuration(duration)
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	unit := strings.ToLower(matches[2])

	switch unit {
	case "y", "year", "years":
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	case "mo", "month", "months":
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case "w", "week", "weeks":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case "d", "day", "days":
		return time.Duration(value) * 24 * time.Hour, nil
	case "h", "hour", "hours":
		return time.Duration(value) * time.Hour, nil
	case "m", "min", "minute", "minutes":
		return time.Duration(value) * time.Minute, nil
	case "s", "sec", "second", "seconds":
		return time.Duration(value) * time.Second, nil
	default:
		return 0, fmt.Errorf("unknown duration unit: %s", unit)
	}
}

// ParseISO parses an ISO-8601 / RFC3339 timestamp, tolerating a missing
// timezone suffix (Shopify always sends one, checkpoint files should too,
// but hand-edited state files have turned up without it).
func ParseISO(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", value)
}

// MaxISO returns the later of two ISO-8601 timestamps. If b cannot be
// parsed, a wins unchanged; if a cannot be parsed but b can, b wins.
func MaxISO(a, b string) string {
	ta, errA := ParseISO(a)
	tb, errB := ParseISO(b)
	switch {
	case errB != nil:
		return a
	case errA != nil:
		return b
	case tb.After(ta):
		return b
	default:
		return a
	}
}

// SubtractISO shifts an ISO-8601 timestamp back by d. An unparseable
// input is returned as-is rather than failing the caller.
func SubtractISO(iso string, d time.Duration) string {
	t, err := ParseISO(iso)
	if err != nil {
		return iso
	}
	return t.Add(-d).UTC().Format(time.RFC3339)
}
