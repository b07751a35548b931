package eventstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gatesight/internal/model"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "gatesight.db")
	store, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func storedEvent(id, tenant string, ts time.Time) model.AccessEvent {
	return model.AccessEvent{
		EventID:   id,
		TenantID:  tenant,
		EventTime: ts,
		SiteID:    "hq",
		DoorID:    "door-1",
		BadgeID:   "b1",
		Result:    model.ResultDeny,
	}
}

func TestAppendAndReadBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var events []model.AccessEvent
	for i := 0; i < 5; i++ {
		events = append(events, storedEvent(fmt.Sprintf("e%d", i), "acme", base.Add(time.Duration(i)*time.Second)))
	}
	events = append(events, storedEvent("other-1", "buildright", base))
	if err := store.AppendEvents(ctx, events); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, lastSeq, err := store.ReadBatch(ctx, "acme", 0, 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 || got[0].EventID != "e0" || got[2].EventID != "e2" {
		t.Fatalf("first batch = %+v", got)
	}
	if got[0].TenantID != "acme" || !got[0].EventTime.Equal(base) {
		t.Fatalf("row roundtrip = %+v", got[0])
	}

	rest, _, err := store.ReadBatch(ctx, "acme", lastSeq, 10)
	if err != nil {
		t.Fatalf("read rest: %v", err)
	}
	if len(rest) != 2 || rest[0].EventID != "e3" {
		t.Fatalf("second batch = %+v", rest)
	}
	for _, ev := range append(got, rest...) {
		if ev.TenantID != "acme" {
			t.Fatalf("cross-tenant row in batch: %+v", ev)
		}
	}
}

func TestWatermarkRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	wm, err := store.Watermark(ctx, "acme")
	if err != nil || wm != 0 {
		t.Fatalf("fresh watermark = %d, %v", wm, err)
	}
	if err := store.SetWatermark(ctx, "acme", 17); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetWatermark(ctx, "acme", 42); err != nil {
		t.Fatalf("update: %v", err)
	}
	wm, err = store.Watermark(ctx, "acme")
	if err != nil || wm != 42 {
		t.Fatalf("watermark = %d, %v", wm, err)
	}
	// Other tenants are untouched.
	if wm, _ := store.Watermark(ctx, "buildright"); wm != 0 {
		t.Fatalf("foreign watermark = %d", wm)
	}
}

func TestLatestAndCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if _, ok, err := store.LatestEventTime(ctx, "acme"); err != nil || ok {
		t.Fatalf("empty store reported events: ok=%v err=%v", ok, err)
	}

	store.AppendEvents(ctx, []model.AccessEvent{
		storedEvent("e1", "acme", base),
		storedEvent("e2", "acme", base.Add(10*time.Minute)),
		storedEvent("e3", "acme", base.Add(4*time.Minute)),
	})
	latest, ok, err := store.LatestEventTime(ctx, "acme")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if !latest.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("latest = %v", latest)
	}
	count, err := store.CountEventsSince(ctx, "acme", base.Add(5*time.Minute))
	if err != nil || count != 1 {
		t.Fatalf("count = %d, %v", count, err)
	}
}

func TestSaveBaselinesReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	row := func(door string, how int) model.Baseline {
		return model.Baseline{
			TenantID:    "acme",
			SiteID:      "hq",
			DoorID:      door,
			HourOfWeek:  how,
			AvgDenies:   2.5,
			SampleCount: 4,
			ComputedAt:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		}
	}
	if err := store.SaveBaselines(ctx, "acme", []model.Baseline{row("door-1", 9), row("door-1", 10)}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// The second save is a full replace, not an accumulate.
	if err := store.SaveBaselines(ctx, "acme", []model.Baseline{row("door-2", 9)}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	sq, ok := store.(*sqliteStore)
	if !ok {
		t.Fatalf("unexpected store type %T", store)
	}
	var n int
	if err := sq.db.QueryRowContext(ctx, `SELECT count(*) FROM baselines WHERE tenant_id = ?`, "acme").Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if n != 1 {
		t.Fatalf("baseline rows = %d, want 1 after replace", n)
	}
}
