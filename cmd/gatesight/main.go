package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatesight/internal/anomaly"
	"gatesight/internal/api"
	"gatesight/internal/baseline"
	"gatesight/internal/config"
	"gatesight/internal/eventstore"
	"gatesight/internal/freshness"
	"gatesight/internal/ingest"
	"gatesight/internal/logging"
	"gatesight/internal/metrics"
	"gatesight/internal/model"
	"gatesight/internal/rollup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "gatesight.yaml", "path to config file")
	flag.Parse()

	mgr, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("gatesight starting", "version", version, "config", mgr.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipelineMetrics := metrics.NewPipeline()

	store, err := eventstore.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("open event store", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("init event store", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	rollups := rollup.NewStore()
	maintainer := rollup.NewMaintainer(rollups, cfg.Rollup, logging.Component(logger, "rollup"), pipelineMetrics)

	baselines := baseline.NewStore()
	var sink baseline.Sink
	if store != nil {
		sink = store
	}
	calculator := baseline.NewCalculator(rollups, baselines, sink, cfg.Baseline, cfg.Location(), logging.Component(logger, "baseline"), pipelineMetrics)

	detector := anomaly.NewDetector(rollups, baselines, cfg.Location())

	var events freshness.EventReader
	if store != nil {
		events = store
	}
	monitor := freshness.NewMonitor(events, rollups, maintainer)

	eventCh := make(chan model.AccessEvent, cfg.Ingest.ChannelBuffer)
	ingest.StartKafka(ctx, mgr, eventCh, logging.Component(logger, "ingest"), pipelineMetrics)
	ingest.StartREST(ctx, mgr, eventCh, logging.Component(logger, "ingest"), pipelineMetrics)

	if store != nil {
		// Durable path: persist events, then fold them in by polling the
		// watermark so a restart resumes where the rollups left off.
		go persistLoop(ctx, store, eventCh, cfg.Rollup, logging.Component(logger, "persist"))
		go maintainer.RunPolling(ctx, store, cfg.Tenants, cfg.Rollup.PollInterval, cfg.Rollup.BatchSize)
	} else {
		go maintainer.Run(ctx, eventCh, cfg.Rollup.FlushInterval, cfg.Rollup.BatchSize)
	}
	go maintainer.RunSweeper(ctx, cfg.Rollup.Retention, time.Hour)
	go calculator.RunScheduler(ctx, cfg.Tenants, cfg.Baseline.RunInterval)

	api.Start(ctx, mgr, rollups, baselines, detector, monitor, logging.Component(logger, "api"), version)

	go mgr.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "path", mgr.Path())
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	<-ctx.Done()
	logger.Info("gatesight stopping")
}

// persistLoop appends ingested events to the durable store in small batches.
// The polling maintainer picks them up from the watermark afterwards. A
// failed append keeps the buffer, so events are retried rather than lost.
func persistLoop(ctx context.Context, store eventstore.Store, in <-chan model.AccessEvent, cfg config.RollupConfig, logger *slog.Logger) {
	buf := make([]model.AccessEvent, 0, cfg.BatchSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := store.AppendEvents(ctx, buf); err != nil {
			if logger != nil {
				logger.Warn("append events failed", "err", err)
			}
			return
		}
		buf = buf[:0]
	}
	ticker := time.NewTicker(cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-in:
			buf = append(buf, ev)
			if len(buf) >= cfg.BatchSize {
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
