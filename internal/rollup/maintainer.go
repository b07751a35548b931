package rollup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gatesight/internal/config"
	"gatesight/internal/metrics"
	"gatesight/internal/model"
)

// EventSource is the read side of the external event store: a tenant-scoped
// batch read ordered by insertion sequence, plus a durable per-tenant
// watermark that the maintainer advances only after a successful apply.
type EventSource interface {
	ReadBatch(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]model.AccessEvent, int64, error)
	Watermark(ctx context.Context, tenantID string) (int64, error)
	SetWatermark(ctx context.Context, tenantID string, seq int64) error
}

type BatchResult struct {
	Applied    int
	Duplicates int
	Malformed  int
	TooLate    int
}

// Maintainer folds access events into the rollup store. It can be fed by a
// channel (subscription mode) or drive itself over an EventSource watermark
// (polling mode); both paths go through ApplyBatch.
type Maintainer struct {
	store   *Store
	logger  *slog.Logger
	metrics *metrics.Pipeline
	applied *appliedLog

	horizon   time.Duration
	dedupeTTL time.Duration

	mu            sync.Mutex
	lastProcessed map[string]time.Time

	now func() time.Time
}

func NewMaintainer(store *Store, cfg config.RollupConfig, logger *slog.Logger, m *metrics.Pipeline) *Maintainer {
	return &Maintainer{
		store:         store,
		logger:        logger,
		metrics:       m,
		applied:       newAppliedLog(0),
		horizon:       cfg.LatenessHorizon,
		dedupeTTL:     cfg.DedupeTTL,
		lastProcessed: make(map[string]time.Time),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ApplyBatch folds one batch of events into the store. The store mutation is
// a single call, so concurrent batches touching the same key commute; event
// ids are recorded only after the merge, which makes re-running the same
// batch a no-op.
func (m *Maintainer) ApplyBatch(events []model.AccessEvent) BatchResult {
	var res BatchResult
	if len(events) == 0 {
		return res
	}
	now := m.now()
	deltas := make([]Delta, 0, len(events))
	ids := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	latest := make(map[string]time.Time)

	for _, ev := range events {
		if ev.TenantID == "" || ev.DoorID == "" || ev.EventTime.IsZero() {
			res.Malformed++
			if m.metrics != nil {
				m.metrics.EventsMalformed.Inc()
			}
			continue
		}
		if m.horizon > 0 && now.Sub(ev.EventTime) > m.horizon {
			res.TooLate++
			if m.metrics != nil {
				m.metrics.LatenessRejections.WithLabelValues(ev.TenantID).Inc()
			}
			if m.logger != nil {
				m.logger.Debug("event beyond lateness horizon",
					"tenant_id", ev.TenantID,
					"door_id", ev.DoorID,
					"event_time", ev.EventTime,
				)
			}
			continue
		}
		if ev.EventID != "" {
			if _, dup := seen[ev.EventID]; dup || m.applied.Contains(ev.EventID) {
				res.Duplicates++
				if m.metrics != nil {
					m.metrics.EventsDeduplicated.WithLabelValues(ev.TenantID).Inc()
				}
				continue
			}
			seen[ev.EventID] = struct{}{}
			ids = append(ids, ev.EventID)
		}

		d := Delta{
			TenantID: ev.TenantID,
			SiteID:   ev.SiteID,
			DoorID:   ev.DoorID,
			Minute:   ev.EventTime,
			Total:    1,
		}
		switch ev.Result {
		case model.ResultDeny:
			d.Denies = 1
		default:
			d.Grants = 1
		}
		if ev.SuspiciousFlag {
			d.Suspicious = 1
		}
		if ev.BadgeID != "" {
			d.Badges = []string{ev.BadgeID}
		}
		deltas = append(deltas, d)
		res.Applied++
		if ev.EventTime.After(latest[ev.TenantID]) {
			latest[ev.TenantID] = ev.EventTime
		}
	}

	m.store.Apply(deltas)
	m.applied.MarkAll(ids, now, m.dedupeTTL)
	m.advance(latest)
	if m.metrics != nil && res.Applied > 0 {
		m.metrics.BatchesApplied.Inc()
	}
	return res
}

func (m *Maintainer) advance(latest map[string]time.Time) {
	if len(latest) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for tenant, ts := range latest {
		if ts.After(m.lastProcessed[tenant]) {
			m.lastProcessed[tenant] = ts
		}
	}
}

// LastProcessed reports the newest event time folded in for a tenant. The
// second return is false for tenants that never contributed an event.
func (m *Maintainer) LastProcessed(tenantID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.lastProcessed[tenantID]
	return ts, ok
}

// Run consumes events from a channel, flushing buffered batches every
// flushInterval or as soon as batchSize events are buffered.
func (m *Maintainer) Run(ctx context.Context, in <-chan model.AccessEvent, flushInterval time.Duration, batchSize int) {
	if flushInterval <= 0 {
		flushInterval = 4 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	buf := make([]model.AccessEvent, 0, batchSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		res := m.ApplyBatch(buf)
		if m.logger != nil {
			m.logger.Debug("rollup batch applied",
				"applied", res.Applied,
				"duplicates", res.Duplicates,
				"malformed", res.Malformed,
				"too_late", res.TooLate,
			)
		}
		buf = buf[:0]
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-in:
			buf = append(buf, ev)
			if len(buf) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

// PollOnce reads one bounded batch past the tenant's durable watermark,
// applies it, and only then advances the watermark. A failed watermark write
// leaves the batch to be re-read; the applied-id log makes the replay safe.
func (m *Maintainer) PollOnce(ctx context.Context, src EventSource, tenantID string, batchSize int) (int, error) {
	seq, err := src.Watermark(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	events, lastSeq, err := src.ReadBatch(ctx, tenantID, seq, batchSize)
	if err != nil {
		if m.metrics != nil {
			m.metrics.BatchFailures.Inc()
		}
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	m.ApplyBatch(events)
	if err := src.SetWatermark(ctx, tenantID, lastSeq); err != nil {
		if m.metrics != nil {
			m.metrics.BatchFailures.Inc()
		}
		return len(events), err
	}
	return len(events), nil
}

// RunPolling drives PollOnce for every configured tenant on a fixed cadence.
func (m *Maintainer) RunPolling(ctx context.Context, src EventSource, tenants []string, interval time.Duration, batchSize int) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, tenant := range tenants {
				for {
					n, err := m.PollOnce(ctx, src, tenant, batchSize)
					if err != nil {
						if m.logger != nil {
							m.logger.Warn("poll failed", "tenant_id", tenant, "err", err)
						}
						break
					}
					if n < batchSize {
						break
					}
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunSweeper deletes rollup buckets older than the retention horizon.
func (m *Maintainer) RunSweeper(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := m.store.Sweep(m.now().Add(-retention))
			if removed > 0 && m.logger != nil {
				m.logger.Info("retention sweep", "buckets_removed", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}
