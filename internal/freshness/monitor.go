package freshness

import (
	"context"
	"time"

	"gatesight/internal/model"
)

// EventReader is the slice of the event store the monitor needs. Optional;
// without a durable store the monitor falls back to live rollup state.
type EventReader interface {
	LatestEventTime(ctx context.Context, tenantID string) (time.Time, bool, error)
	CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int64, error)
}

type MinuteSource interface {
	MinuteRange(tenantID string, from, to time.Time) []model.MinuteRollup
}

type WatermarkSource interface {
	LastProcessed(tenantID string) (time.Time, bool)
}

// Monitor reports ingestion staleness per tenant: the age of the newest
// event and the event count over the last five minutes. Pure reads, no
// side effects.
type Monitor struct {
	events     EventReader
	minutes    MinuteSource
	maintainer WatermarkSource

	now func() time.Time
}

func NewMonitor(events EventReader, minutes MinuteSource, maintainer WatermarkSource) *Monitor {
	return &Monitor{
		events:     events,
		minutes:    minutes,
		maintainer: maintainer,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

const recentWindow = 5 * time.Minute

// Report computes the freshness view for one tenant. A tenant with no events
// at all reports HasEvents=false and no age, which callers must not confuse
// with a stale-but-present pipeline.
func (m *Monitor) Report(ctx context.Context, tenantID string) (model.FreshnessReport, error) {
	now := m.now()
	report := model.FreshnessReport{TenantID: tenantID}

	if m.maintainer != nil {
		if wm, ok := m.maintainer.LastProcessed(tenantID); ok {
			t := wm
			report.Watermark = &t
		}
	}

	if m.events != nil {
		latest, ok, err := m.events.LatestEventTime(ctx, tenantID)
		if err != nil {
			return model.FreshnessReport{}, err
		}
		if ok {
			report.HasEvents = true
			t := latest
			report.LatestEvent = &t
			report.AgeSeconds = now.Sub(latest).Seconds()
		}
		count, err := m.events.CountEventsSince(ctx, tenantID, now.Add(-recentWindow))
		if err != nil {
			return model.FreshnessReport{}, err
		}
		report.EventsLast5m = count
		return report, nil
	}

	// No durable event store: the maintainer watermark stands in for the
	// newest event and the minute rollups supply the recent count.
	if report.Watermark != nil {
		report.HasEvents = true
		report.LatestEvent = report.Watermark
		report.AgeSeconds = now.Sub(*report.Watermark).Seconds()
	}
	if m.minutes != nil {
		for _, r := range m.minutes.MinuteRange(tenantID, now.Add(-recentWindow), now.Truncate(time.Minute).Add(time.Minute)) {
			report.EventsLast5m += r.Total
		}
	}
	return report, nil
}
