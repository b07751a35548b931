package baseline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gatesight/internal/config"
	"gatesight/internal/model"
)

type fakeHours struct {
	rows        []model.HourRollup
	lastFrom    time.Time
	lastTo      time.Time
	block       chan struct{}
	blockTenant string
}

func (f *fakeHours) HourRange(tenantID string, from, to time.Time) []model.HourRollup {
	f.lastFrom, f.lastTo = from, to
	if f.block != nil && tenantID == f.blockTenant {
		<-f.block
	}
	out := make([]model.HourRollup, 0, len(f.rows))
	for _, r := range f.rows {
		if r.TenantID != tenantID {
			continue
		}
		if r.Hour.Before(from) || !r.Hour.Before(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func hourRow(tenant, site, door string, hour time.Time, total, denies int64) model.HourRollup {
	return model.HourRollup{
		TenantID: tenant,
		SiteID:   site,
		DoorID:   door,
		Hour:     hour,
		Total:    total,
		Grants:   total - denies,
		Denies:   denies,
		DenyRate: model.DenyRate(denies, total),
	}
}

func testCalculator(hours *fakeHours, now time.Time) (*Calculator, *Store) {
	store := NewStore()
	cfg := config.DefaultConfig().Baseline
	c := NewCalculator(hours, store, nil, cfg, time.UTC, nil, nil)
	c.now = func() time.Time { return now }
	return c, store
}

func TestComputeStats(t *testing.T) {
	// Two Mondays, 09:00 UTC, same door: hour-of-week bucket 9.
	mon1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mon2 := mon1.AddDate(0, 0, 7)
	now := mon2.Add(26 * time.Hour)
	hours := &fakeHours{rows: []model.HourRollup{
		hourRow("acme", "hq", "door-1", mon1, 10, 2),
		hourRow("acme", "hq", "door-1", mon2, 20, 4),
	}}
	c, store := testCalculator(hours, now)

	n, err := c.Compute(context.Background(), "acme")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	// One door bucket plus one site bucket.
	if n != 2 {
		t.Fatalf("buckets = %d, want 2", n)
	}
	b, ok := store.Lookup("acme", "hq", "door-1", 9)
	if !ok {
		t.Fatalf("door bucket missing")
	}
	if b.AvgTotal != 15 || b.AvgDenies != 3 {
		t.Fatalf("means = %v / %v", b.AvgTotal, b.AvgDenies)
	}
	// Population stddev of {10, 20} is 5.
	if math.Abs(b.StddevTotal-5) > 1e-9 {
		t.Fatalf("stddev total = %v, want 5", b.StddevTotal)
	}
	if b.SampleCount != 2 {
		t.Fatalf("sample count = %d", b.SampleCount)
	}
	if _, ok := store.Lookup("acme", "hq", "", 9); !ok {
		t.Fatalf("site bucket missing")
	}
}

func TestMinSampleCountDropsSparseBuckets(t *testing.T) {
	mon := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := mon.Add(48 * time.Hour)
	hours := &fakeHours{rows: []model.HourRollup{
		hourRow("acme", "hq", "door-1", mon, 10, 1),
	}}
	c, store := testCalculator(hours, now)
	n, err := c.Compute(context.Background(), "acme")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if n != 0 || store.Count("acme") != 0 {
		t.Fatalf("single-sample bucket survived: n=%d count=%d", n, store.Count("acme"))
	}
}

func TestWindowExcludesPartialHour(t *testing.T) {
	now := time.Date(2026, 3, 30, 10, 37, 0, 0, time.UTC)
	hours := &fakeHours{}
	c, _ := testCalculator(hours, now)
	if _, err := c.Compute(context.Background(), "acme"); err != nil {
		t.Fatalf("compute: %v", err)
	}
	wantEnd := time.Date(2026, 3, 30, 10, 0, 0, 0, time.UTC)
	if !hours.lastTo.Equal(wantEnd) {
		t.Fatalf("window end = %v, want %v", hours.lastTo, wantEnd)
	}
	if !hours.lastFrom.Equal(wantEnd.AddDate(0, 0, -28)) {
		t.Fatalf("window start = %v", hours.lastFrom)
	}
}

func TestReplaceIsAtomic(t *testing.T) {
	mon := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := mon.AddDate(0, 0, 10)
	hours := &fakeHours{rows: []model.HourRollup{
		hourRow("acme", "hq", "door-1", mon, 10, 1),
		hourRow("acme", "hq", "door-1", mon.Add(time.Hour), 10, 1),
	}}
	c, store := testCalculator(hours, now)
	if _, err := c.Compute(context.Background(), "acme"); err != nil {
		t.Fatalf("first compute: %v", err)
	}

	// Rewrite history onto a different door; the old door's buckets must
	// vanish in the same swap that installs the new ones.
	hours.rows = []model.HourRollup{
		hourRow("acme", "hq", "door-2", mon, 5, 0),
		hourRow("acme", "hq", "door-2", mon.Add(time.Hour), 5, 0),
	}
	if _, err := c.Compute(context.Background(), "acme"); err != nil {
		t.Fatalf("second compute: %v", err)
	}
	for _, b := range store.All("acme") {
		if b.DoorID == "door-1" {
			t.Fatalf("stale door-1 bucket after replace")
		}
	}
	if _, ok := store.Lookup("acme", "hq", "door-2", 9); !ok {
		t.Fatalf("new door-2 bucket missing")
	}
}

func TestRecomputeInProgress(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	hours := &fakeHours{block: make(chan struct{}), blockTenant: "acme"}
	c, _ := testCalculator(hours, now)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := c.Compute(context.Background(), "acme")
		done <- err
	}()
	<-started
	// Give the first run time to take the per-tenant slot.
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Compute(context.Background(), "acme"); !errors.Is(err, ErrRecomputeInProgress) {
		t.Fatalf("overlapping run: err = %v, want ErrRecomputeInProgress", err)
	}
	// A different tenant is not blocked.
	if _, err := c.Compute(context.Background(), "buildright"); err != nil {
		t.Fatalf("other tenant blocked: %v", err)
	}

	close(hours.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}
