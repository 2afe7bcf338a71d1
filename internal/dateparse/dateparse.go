// Package dateparse turns the date strings typed on site into inspection
// dates. Inspections happen today or in the recent past, so relative forms
// count backwards.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse parses an inspection date relative to the current time.
//
// Supported formats:
//   - Exact dates: "2026-03-01"
//   - Timestamps: "2026-03-01T09:30:00Z"
//   - Keywords: "today", "yesterday"
//   - Days or weeks ago: "-3d", "-1w"
//   - Day names: "monday", "tuesday", etc. (most recent, today included)
func Parse(input string) (time.Time, error) {
	return ParseFrom(input, time.Now())
}

// ParseFrom parses input relative to now. Results other than full
// timestamps are midnight UTC of the calendar day in now's location.
func ParseFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}

	if t, err := time.Parse("2006-01-02", input); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(input)); err == nil {
		return t.UTC(), nil
	}

	switch input {
	case "today":
		return day(now), nil
	case "yesterday":
		return day(now.AddDate(0, 0, -1)), nil
	}

	if strings.HasPrefix(input, "-") && len(input) >= 3 {
		suffix := input[len(input)-1]
		n, err := strconv.Atoi(input[1 : len(input)-1])
		if err == nil && n >= 0 {
			switch suffix {
			case 'd':
				return day(now.AddDate(0, 0, -n)), nil
			case 'w':
				return day(now.AddDate(0, 0, -7*n)), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use d or w)", string(suffix), input)
			}
		}
	}

	dayMap := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	if target, ok := dayMap[input]; ok {
		daysBack := (int(now.Weekday()) - int(target) + 7) % 7
		return day(now.AddDate(0, 0, -daysBack)), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", input)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
