package baseline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"gatesight/internal/config"
	"gatesight/internal/metrics"
	"gatesight/internal/model"
)

// ErrRecomputeInProgress is returned when a tenant's baseline is already
// being recomputed. Retryable.
var ErrRecomputeInProgress = errors.New("baseline recompute already in progress")

// HourSource supplies hour rollups for the trailing history window. The live
// rollup store satisfies it.
type HourSource interface {
	HourRange(tenantID string, from, to time.Time) []model.HourRollup
}

// Sink receives the finished baseline set for durable persistence. Optional;
// the event store satisfies it with a transactional replace.
type Sink interface {
	SaveBaselines(ctx context.Context, tenantID string, rows []model.Baseline) error
}

type accum struct {
	n           int
	sumTotal    float64
	sumSqTotal  float64
	sumGrants   float64
	sumDenies   float64
	sumSqDenies float64
	sumDenyRate float64
	sumSusp     float64
}

func (a *accum) add(r model.HourRollup) {
	a.n++
	a.sumTotal += float64(r.Total)
	a.sumSqTotal += float64(r.Total) * float64(r.Total)
	a.sumGrants += float64(r.Grants)
	a.sumDenies += float64(r.Denies)
	a.sumSqDenies += float64(r.Denies) * float64(r.Denies)
	a.sumDenyRate += r.DenyRate
	a.sumSusp += float64(r.Suspicious)
}

// Calculator recomputes baselines per tenant from the trailing hour-rollup
// window. Runs for one tenant are serialized; different tenants may run
// concurrently.
type Calculator struct {
	hours   HourSource
	store   *Store
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Pipeline

	windowDays int
	minSamples int
	loc        *time.Location

	mu      sync.Mutex
	running map[string]bool

	now func() time.Time
}

func NewCalculator(hours HourSource, store *Store, sink Sink, cfg config.BaselineConfig, loc *time.Location, logger *slog.Logger, m *metrics.Pipeline) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		hours:      hours,
		store:      store,
		sink:       sink,
		logger:     logger,
		metrics:    m,
		windowDays: cfg.WindowDays,
		minSamples: cfg.MinSampleCount,
		loc:        loc,
		running:    make(map[string]bool),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *Calculator) begin(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[tenantID] {
		return false
	}
	c.running[tenantID] = true
	return true
}

func (c *Calculator) end(tenantID string) {
	c.mu.Lock()
	delete(c.running, tenantID)
	c.mu.Unlock()
}

// Compute rebuilds the baseline set for one tenant and atomically replaces
// the previous set. The window ends at the last fully-completed hour; the
// current partial hour never contributes. Buckets with fewer than
// minSamples qualifying hours are dropped entirely.
func (c *Calculator) Compute(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, errors.New("tenant id required")
	}
	if !c.begin(tenantID) {
		return 0, ErrRecomputeInProgress
	}
	defer c.end(tenantID)

	now := c.now()
	windowEnd := now.Truncate(time.Hour)
	windowStart := windowEnd.AddDate(0, 0, -c.windowDays)

	history := c.hours.HourRange(tenantID, windowStart, windowEnd)

	doors := make(map[key]*accum)
	sites := make(map[key]*accum)
	for _, r := range history {
		how := model.HourOfWeek(r.Hour, c.loc)
		dk := key{SiteID: r.SiteID, DoorID: r.DoorID, HourOfWeek: how}
		if doors[dk] == nil {
			doors[dk] = &accum{}
		}
		doors[dk].add(r)
		sk := key{SiteID: r.SiteID, DoorID: "", HourOfWeek: how}
		if sites[sk] == nil {
			sites[sk] = &accum{}
		}
		sites[sk].add(r)
	}

	rows := make([]model.Baseline, 0, len(doors)+len(sites))
	for k, a := range doors {
		if a.n >= c.minSamples {
			rows = append(rows, c.finish(tenantID, k, a, now))
		}
	}
	for k, a := range sites {
		if a.n >= c.minSamples {
			rows = append(rows, c.finish(tenantID, k, a, now))
		}
	}

	c.store.Replace(tenantID, rows)
	if c.metrics != nil {
		c.metrics.BaselineBuckets.WithLabelValues(tenantID).Set(float64(len(rows)))
	}

	if c.sink != nil {
		if err := c.sink.SaveBaselines(ctx, tenantID, rows); err != nil {
			if c.metrics != nil {
				c.metrics.BaselineRuns.WithLabelValues(tenantID, "persist_error").Inc()
			}
			return len(rows), err
		}
	}
	if c.metrics != nil {
		c.metrics.BaselineRuns.WithLabelValues(tenantID, "ok").Inc()
	}
	if c.logger != nil {
		c.logger.Info("baseline recomputed",
			"tenant_id", tenantID,
			"buckets", len(rows),
			"window_start", windowStart,
			"window_end", windowEnd,
		)
	}
	return len(rows), nil
}

func (c *Calculator) finish(tenantID string, k key, a *accum, computedAt time.Time) model.Baseline {
	n := float64(a.n)
	meanTotal := a.sumTotal / n
	meanDenies := a.sumDenies / n
	return model.Baseline{
		TenantID:      tenantID,
		SiteID:        k.SiteID,
		DoorID:        k.DoorID,
		HourOfWeek:    k.HourOfWeek,
		AvgTotal:      meanTotal,
		AvgGrants:     a.sumGrants / n,
		AvgDenies:     meanDenies,
		AvgDenyRate:   a.sumDenyRate / n,
		AvgSuspicious: a.sumSusp / n,
		StddevTotal:   popStddev(a.sumSqTotal, meanTotal, n),
		StddevDenies:  popStddev(a.sumSqDenies, meanDenies, n),
		SampleCount:   a.n,
		ComputedAt:    computedAt,
	}
}

// popStddev is the population standard deviation from running sums; float
// rounding can push the variance a hair below zero, which clamps to 0.
func popStddev(sumSq, mean, n float64) float64 {
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// RunScheduler recomputes every configured tenant on a fixed cadence.
// Tenants run in parallel with each other; the per-tenant guard in Compute
// keeps overlapping runs for one tenant from racing.
func (c *Calculator) RunScheduler(ctx context.Context, tenants []string, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			var wg sync.WaitGroup
			for _, tenant := range tenants {
				wg.Add(1)
				go func(t string) {
					defer wg.Done()
					if _, err := c.Compute(ctx, t); err != nil && !errors.Is(err, ErrRecomputeInProgress) {
						if c.logger != nil {
							c.logger.Warn("baseline run failed", "tenant_id", t, "err", err)
						}
					}
				}(tenant)
			}
			wg.Wait()
		case <-ctx.Done():
			return
		}
	}
}
