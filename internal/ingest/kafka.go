package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"gatesight/internal/config"
	"gatesight/internal/metrics"
	"gatesight/internal/model"
	"gatesight/internal/normalize"
)

// StartKafka consumes the access-event topic (typically fed by a CDC
// connector) and feeds normalized events into the pipeline channel.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.AccessEvent, logger *slog.Logger, m *metrics.Pipeline) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		loc := cfg.Get().Location()
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			fields, err := ParseJSONBytes(msg.Value)
			if err != nil {
				if m != nil {
					m.EventsMalformed.Inc()
				}
				if logger != nil {
					logger.Warn("kafka decode error", "err", err)
				}
				continue
			}
			if fields == nil {
				continue
			}
			fields.Source = "kafka"
			ev, err := normalize.Normalize(*fields, loc)
			if err != nil {
				if m != nil {
					m.EventsMalformed.Inc()
				}
				if logger != nil {
					logger.Warn("kafka normalize error", "err", err)
				}
				continue
			}
			SendNonBlocking(ctx, out, ev, logger, m)
		}
	}()
}
