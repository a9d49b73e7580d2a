package cron

import (
	"testing"
	"time"
)

// TestParse_SweepSchedules verifies the expressions a sweep deployment
// would realistically configure all compile.
func TestParse_SweepSchedules(t *testing.T) {
	exprs := []struct {
		name string
		expr string
	}{
		{"default every 5 minutes", "*/5 * * * *"},
		{"every minute", "* * * * *"},
		{"hourly", "0 * * * *"},
		{"nightly", "30 2 * * *"},
		{"weekdays only", "0 9-17 * * 1-5"},
	}

	p := NewParser()
	for _, tc := range exprs {
		t.Run(tc.name, func(t *testing.T) {
			sched, err := p.Parse(tc.expr, "UTC")
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.expr, err)
			}
			if sched == nil {
				t.Fatalf("Parse(%q) returned nil schedule", tc.expr)
			}
		})
	}
}

// TestParse_RejectsBadInput verifies malformed expressions and unknown
// timezones fail at parse time, not at the first sweep.
func TestParse_RejectsBadInput(t *testing.T) {
	p := NewParser()

	badExprs := []struct {
		name string
		expr string
	}{
		{"four fields", "* * * *"},
		{"six fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"non-numeric", "soon * * * *"},
		{"empty", ""},
	}
	for _, tc := range badExprs {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.Parse(tc.expr, "UTC"); err == nil {
				t.Errorf("Parse(%q) accepted a malformed expression", tc.expr)
			}
		})
	}

	t.Run("unknown timezone", func(t *testing.T) {
		if _, err := p.Parse("*/5 * * * *", "Mars/Olympus"); err == nil {
			t.Error("expected error for unknown timezone")
		}
	})
}

// TestNext_EvaluatesInScheduleTimezone verifies firing times follow the
// configured zone: a 03:00 sweep in New York and one in Tokyo land on
// different UTC instants, Tokyo first.
func TestNext_EvaluatesInScheduleTimezone(t *testing.T) {
	p := NewParser()

	ny, err := p.Parse("0 3 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("Parse New York: %v", err)
	}
	tokyo, err := p.Parse("0 3 * * *", "Asia/Tokyo")
	if err != nil {
		t.Fatalf("Parse Tokyo: %v", err)
	}

	ref := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	nextNY := ny.Next(ref)
	nextTokyo := tokyo.Next(ref)

	if nextNY.Equal(nextTokyo) {
		t.Fatal("schedules in different zones fired at the same UTC instant")
	}
	if !nextTokyo.Before(nextNY) {
		t.Errorf("Tokyo 03:00 (%v) should precede New York 03:00 (%v) in UTC",
			nextTokyo.UTC(), nextNY.UTC())
	}
}

// TestNext_Progression verifies successive firings for a daily schedule.
func TestNext_Progression(t *testing.T) {
	p := NewParser()

	sched, err := p.Parse("0 10 * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	before := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	first := sched.Next(before)
	if want := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC); !first.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", before, first, want)
	}

	second := sched.Next(first)
	if want := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC); !second.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", first, second, want)
	}
}
