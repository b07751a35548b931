package eventstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gatesight/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/gatesight?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS access_events (
			seq BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			site_id TEXT NOT NULL,
			door_id TEXT NOT NULL,
			badge_id TEXT,
			person_id TEXT,
			direction TEXT,
			result TEXT NOT NULL,
			event_type TEXT,
			deny_reason TEXT,
			deny_code TEXT,
			suspicious_reason TEXT,
			suspicious_flag INTEGER NOT NULL DEFAULT 0,
			suspicious_score DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_seq ON access_events(tenant_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON access_events(tenant_id, event_time)`,
		`CREATE TABLE IF NOT EXISTS watermarks (
			tenant_id TEXT PRIMARY KEY,
			seq BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			tenant_id TEXT NOT NULL,
			site_id TEXT NOT NULL,
			door_id TEXT NOT NULL,
			hour_of_week INTEGER NOT NULL,
			avg_total DOUBLE PRECISION NOT NULL,
			avg_grants DOUBLE PRECISION NOT NULL,
			avg_denies DOUBLE PRECISION NOT NULL,
			avg_deny_rate DOUBLE PRECISION NOT NULL,
			avg_suspicious DOUBLE PRECISION NOT NULL,
			stddev_total DOUBLE PRECISION NOT NULL,
			stddev_denies DOUBLE PRECISION NOT NULL,
			sample_count INTEGER NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, site_id, door_id, hour_of_week)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) AppendEvents(ctx context.Context, events []model.AccessEvent) error {
	if s.db == nil || len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO access_events (event_id, tenant_id, event_time, site_id, door_id, badge_id, person_id, direction, result, event_type, deny_reason, deny_code, suspicious_reason, suspicious_flag, suspicious_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.EventID,
			ev.TenantID,
			ev.EventTime.UTC(),
			ev.SiteID,
			ev.DoorID,
			ev.BadgeID,
			ev.PersonID,
			ev.Direction,
			string(ev.Result),
			ev.EventType,
			ev.DenyReason,
			ev.DenyCode,
			ev.SuspiciousReason,
			boolToInt(ev.SuspiciousFlag),
			ev.SuspiciousScore,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *postgresStore) ReadBatch(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]model.AccessEvent, int64, error) {
	if s.db == nil || tenantID == "" {
		return nil, afterSeq, nil
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_id, tenant_id, event_time, site_id, door_id, badge_id, person_id, direction, result, event_type, deny_reason, deny_code, suspicious_reason, suspicious_flag, suspicious_score
		FROM access_events WHERE tenant_id = $1 AND seq > $2 ORDER BY seq LIMIT $3`,
		tenantID, afterSeq, limit)
	if err != nil {
		return nil, afterSeq, err
	}
	defer rows.Close()

	out := make([]model.AccessEvent, 0, limit)
	lastSeq := afterSeq
	for rows.Next() {
		var (
			seq       int64
			ev        model.AccessEvent
			eventTime time.Time
			result    string
			suspFlag  int
		)
		if err := rows.Scan(&seq, &ev.EventID, &ev.TenantID, &eventTime, &ev.SiteID, &ev.DoorID,
			&ev.BadgeID, &ev.PersonID, &ev.Direction, &result, &ev.EventType,
			&ev.DenyReason, &ev.DenyCode, &ev.SuspiciousReason, &suspFlag, &ev.SuspiciousScore); err != nil {
			return nil, afterSeq, err
		}
		ev.EventTime = eventTime.UTC()
		ev.Result = model.Result(result)
		ev.SuspiciousFlag = suspFlag != 0
		out = append(out, ev)
		lastSeq = seq
	}
	return out, lastSeq, rows.Err()
}

func (s *postgresStore) Watermark(ctx context.Context, tenantID string) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM watermarks WHERE tenant_id = $1`, tenantID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *postgresStore) SetWatermark(ctx context.Context, tenantID string, seq int64) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (tenant_id, seq) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET seq = EXCLUDED.seq`,
		tenantID, seq)
	return err
}

func (s *postgresStore) LatestEventTime(ctx context.Context, tenantID string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, nil
	}
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT max(event_time) FROM access_events WHERE tenant_id = $1`, tenantID).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

func (s *postgresStore) CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM access_events WHERE tenant_id = $1 AND event_time >= $2`,
		tenantID, since.UTC()).Scan(&count)
	return count, err
}

func (s *postgresStore) SaveBaselines(ctx context.Context, tenantID string, rows []model.Baseline) error {
	if s.db == nil || tenantID == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM baselines WHERE tenant_id = $1`, tenantID); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO baselines (tenant_id, site_id, door_id, hour_of_week, avg_total, avg_grants, avg_denies, avg_deny_rate, avg_suspicious, stddev_total, stddev_denies, sample_count, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, row := range rows {
		if row.TenantID != tenantID {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			row.TenantID,
			row.SiteID,
			row.DoorID,
			row.HourOfWeek,
			row.AvgTotal,
			row.AvgGrants,
			row.AvgDenies,
			row.AvgDenyRate,
			row.AvgSuspicious,
			row.StddevTotal,
			row.StddevDenies,
			row.SampleCount,
			row.ComputedAt.UTC(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
