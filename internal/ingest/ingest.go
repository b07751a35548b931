package ingest

import (
	"context"
	"log/slog"
	"time"

	"gatesight/internal/metrics"
	"gatesight/internal/model"
)

// SendNonBlocking delivers an event to the pipeline channel without ever
// stalling the transport reader. A full channel drops the event and counts
// the drop.
func SendNonBlocking(ctx context.Context, out chan<- model.AccessEvent, ev model.AccessEvent, logger *slog.Logger, m *metrics.Pipeline) bool {
	select {
	case out <- ev:
		if m != nil {
			m.EventsIngested.WithLabelValues(ev.TenantID, ev.Source).Inc()
		}
		return true
	case <-ctx.Done():
		return false
	default:
		if m != nil {
			m.EventsDropped.Inc()
		}
		if logger != nil {
			logger.Warn("event channel full, dropping event",
				"tenant_id", ev.TenantID,
				"door_id", ev.DoorID,
				"event_time", ev.EventTime,
			)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
