package eventstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gatesight/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:gatesight.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS access_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			event_time TEXT NOT NULL,
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
			suspicious_score REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_seq ON access_events(tenant_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON access_events(tenant_id, event_time)`,
		`CREATE TABLE IF NOT EXISTS watermarks (
			tenant_id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS baselines (
			tenant_id TEXT NOT NULL,
			site_id TEXT NOT NULL,
			door_id TEXT NOT NULL,
			hour_of_week INTEGER NOT NULL,
			avg_total REAL NOT NULL,
			avg_grants REAL NOT NULL,
			avg_denies REAL NOT NULL,
			avg_deny_rate REAL NOT NULL,
			avg_suspicious REAL NOT NULL,
			stddev_total REAL NOT NULL,
			stddev_denies REAL NOT NULL,
			sample_count INTEGER NOT NULL,
			computed_at TEXT NOT NULL,
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

func (s *sqliteStore) AppendEvents(ctx context.Context, events []model.AccessEvent) error {
	if s.db == nil || len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO access_events (event_id, tenant_id, event_time, site_id, door_id, badge_id, person_id, direction, result, event_type, deny_reason, deny_code, suspicious_reason, suspicious_flag, suspicious_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			ev.EventID,
			ev.TenantID,
			ev.EventTime.UTC().Format(time.RFC3339Nano),
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

func (s *sqliteStore) ReadBatch(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]model.AccessEvent, int64, error) {
	if s.db == nil || tenantID == "" {
		return nil, afterSeq, nil
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, event_id, tenant_id, event_time, site_id, door_id, badge_id, person_id, direction, result, event_type, deny_reason, deny_code, suspicious_reason, suspicious_flag, suspicious_score
		FROM access_events WHERE tenant_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
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
			eventTime string
			result    string
			suspFlag  int
		)
		if err := rows.Scan(&seq, &ev.EventID, &ev.TenantID, &eventTime, &ev.SiteID, &ev.DoorID,
			&ev.BadgeID, &ev.PersonID, &ev.Direction, &result, &ev.EventType,
			&ev.DenyReason, &ev.DenyCode, &ev.SuspiciousReason, &suspFlag, &ev.SuspiciousScore); err != nil {
			return nil, afterSeq, err
		}
		ts, err := parseStoredTime(eventTime)
		if err != nil {
			return nil, afterSeq, err
		}
		ev.EventTime = ts
		ev.Result = model.Result(result)
		ev.SuspiciousFlag = suspFlag != 0
		out = append(out, ev)
		lastSeq = seq
	}
	return out, lastSeq, rows.Err()
}

func (s *sqliteStore) Watermark(ctx context.Context, tenantID string) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM watermarks WHERE tenant_id = ?`, tenantID).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *sqliteStore) SetWatermark(ctx context.Context, tenantID string, seq int64) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (tenant_id, seq) VALUES (?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET seq = excluded.seq`,
		tenantID, seq)
	return err
}

func (s *sqliteStore) LatestEventTime(ctx context.Context, tenantID string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, nil
	}
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT max(event_time) FROM access_events WHERE tenant_id = ?`, tenantID).Scan(&latest)
	if err != nil {
		return time.Time{}, false, err
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}
	ts, err := parseStoredTime(latest.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (s *sqliteStore) CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM access_events WHERE tenant_id = ? AND event_time >= ?`,
		tenantID, since.UTC().Format(time.RFC3339Nano)).Scan(&count)
	return count, err
}

func (s *sqliteStore) SaveBaselines(ctx context.Context, tenantID string, rows []model.Baseline) error {
	if s.db == nil || tenantID == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM baselines WHERE tenant_id = ?`, tenantID); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO baselines (tenant_id, site_id, door_id, hour_of_week, avg_total, avg_grants, avg_denies, avg_deny_rate, avg_suspicious, stddev_total, stddev_denies, sample_count, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
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
			row.ComputedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
