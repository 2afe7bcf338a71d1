package dateparse

import (
	"testing"
	"time"
)

// Fixed reference time: Wednesday, 2026-02-18 12:00:00 UTC
var testNow = time.Date(2026, 2, 18, 12, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParse_ExactDate(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2026-03-01", date(2026, 3, 1)},
		{"2025-12-31", date(2025, 12, 31)},
		{"  2026-01-01 ", date(2026, 1, 1)},
	}
	for _, tt := range tests {
		got, err := ParseFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseFrom(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParse_Timestamp(t *testing.T) {
	got, err := ParseFrom("2026-02-17T09:30:00+02:00", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 2, 17, 7, 30, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("got %v, want %v in UTC", got, want)
	}
}

func TestParse_Keywords(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"today", date(2026, 2, 18)},
		{"TODAY", date(2026, 2, 18)},
		{"yesterday", date(2026, 2, 17)},
	}
	for _, tt := range tests {
		got, err := ParseFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseFrom(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParse_Relative(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"-0d", date(2026, 2, 18)},
		{"-1d", date(2026, 2, 17)},
		{"-18d", date(2026, 1, 31)},
		{"-1w", date(2026, 2, 11)},
		{"-3w", date(2026, 1, 28)},
	}
	for _, tt := range tests {
		got, err := ParseFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseFrom(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParse_DayNames(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"wednesday", date(2026, 2, 18)}, // today counts
		{"tuesday", date(2026, 2, 17)},
		{"monday", date(2026, 2, 16)},
		{"thursday", date(2026, 2, 12)},
		{"sunday", date(2026, 2, 15)},
	}
	for _, tt := range tests {
		got, err := ParseFrom(tt.input, testNow)
		if err != nil {
			t.Errorf("ParseFrom(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseFrom(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"", "   ", "next-week", "-3y", "-xd", "+1d", "2026-13-01", "someday"} {
		if _, err := ParseFrom(input, testNow); err == nil {
			t.Errorf("ParseFrom(%q): expected error", input)
		}
	}
}
