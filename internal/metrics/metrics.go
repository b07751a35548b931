package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pipeline carries the operational counters the aggregate pipeline is
// required to surface: malformed-input and lateness rejections are metrics,
// never errors returned to callers.
type Pipeline struct {
	EventsIngested     *prometheus.CounterVec
	EventsMalformed    prometheus.Counter
	EventsDropped      prometheus.Counter
	EventsDeduplicated *prometheus.CounterVec
	LatenessRejections *prometheus.CounterVec
	BatchesApplied     prometheus.Counter
	BatchFailures      prometheus.Counter
	BaselineRuns       *prometheus.CounterVec
	BaselineBuckets    *prometheus.GaugeVec
}

func NewPipeline() *Pipeline {
	return NewPipelineWith(prometheus.DefaultRegisterer)
}

func NewPipelineWith(reg prometheus.Registerer) *Pipeline {
	m := &Pipeline{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatesight_events_ingested_total",
			Help: "Access events accepted by ingestion, by tenant and source.",
		}, []string{"tenant", "source"}),
		EventsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatesight_events_malformed_total",
			Help: "Events rejected at ingestion for missing tenant, door or time.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatesight_events_dropped_total",
			Help: "Events dropped because the ingest channel was full.",
		}),
		EventsDeduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatesight_events_deduplicated_total",
			Help: "Events skipped because their event_id was already applied.",
		}, []string{"tenant"}),
		LatenessRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatesight_lateness_rejections_total",
			Help: "Events rejected for arriving beyond the lateness horizon.",
		}, []string{"tenant"}),
		BatchesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatesight_rollup_batches_applied_total",
			Help: "Event batches successfully folded into rollups.",
		}),
		BatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatesight_rollup_batch_failures_total",
			Help: "Event batches that failed to apply and will be retried.",
		}),
		BaselineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatesight_baseline_runs_total",
			Help: "Baseline computation runs, by tenant and outcome.",
		}, []string{"tenant", "status"}),
		BaselineBuckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatesight_baseline_buckets",
			Help: "Baseline buckets active after the latest run, by tenant.",
		}, []string{"tenant"}),
	}

	reg.MustRegister(
		m.EventsIngested,
		m.EventsMalformed,
		m.EventsDropped,
		m.EventsDeduplicated,
		m.LatenessRejections,
		m.BatchesApplied,
		m.BatchFailures,
		m.BaselineRuns,
		m.BaselineBuckets,
	)

	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}
