package model

import (
	"testing"
	"time"
)

func TestHourOfWeek(t *testing.T) {
	cases := []struct {
		ts   time.Time
		want int
	}{
		// Monday 00:00 is bucket 0.
		{time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), 9},
		// Sunday 23:00 is the last bucket.
		{time.Date(2026, 3, 8, 23, 59, 0, 0, time.UTC), 167},
		{time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC), 2*24 + 15},
	}
	for _, tc := range cases {
		if got := HourOfWeek(tc.ts, time.UTC); got != tc.want {
			t.Errorf("HourOfWeek(%v) = %d, want %d", tc.ts, got, tc.want)
		}
	}
}

func TestHourOfWeekLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// Monday 22:00 UTC is Tuesday 03:00 local.
	ts := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	if got := HourOfWeek(ts, loc); got != 24+3 {
		t.Fatalf("HourOfWeek local = %d, want 27", got)
	}
	if got := HourOfWeek(ts, nil); got != 22 {
		t.Fatalf("HourOfWeek nil loc = %d, want 22", got)
	}
}

func TestDenyRate(t *testing.T) {
	if got := DenyRate(3, 12); got != 0.25 {
		t.Fatalf("DenyRate(3, 12) = %v", got)
	}
	// An hour with no events has a zero rate, not NaN.
	if got := DenyRate(0, 0); got != 0 {
		t.Fatalf("DenyRate(0, 0) = %v", got)
	}
}
