package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"gatesight/internal/config"
	"gatesight/internal/model"
)

// Store is the durable side of the pipeline: the append-only event log with
// per-tenant watermarks, plus persisted baseline sets. Every method is
// scoped to a single tenant.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	AppendEvents(ctx context.Context, events []model.AccessEvent) error
	ReadBatch(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]model.AccessEvent, int64, error)
	Watermark(ctx context.Context, tenantID string) (int64, error)
	SetWatermark(ctx context.Context, tenantID string, seq int64) error
	LatestEventTime(ctx context.Context, tenantID string) (time.Time, bool, error)
	CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int64, error)
	SaveBaselines(ctx context.Context, tenantID string, rows []model.Baseline) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseStoredTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
