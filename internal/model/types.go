package model

import "time"

type Result string

const (
	ResultGrant Result = "grant"
	ResultDeny  Result = "deny"
)

type AccessEvent struct {
	EventID          string    `json:"event_id"`
	TenantID         string    `json:"tenant_id"`
	EventTime        time.Time `json:"event_time"`
	SiteID           string    `json:"site_id"`
	DoorID           string    `json:"door_id"`
	BadgeID          string    `json:"badge_id,omitempty"`
	PersonID         string    `json:"person_id,omitempty"`
	Direction        string    `json:"direction,omitempty"`
	Result           Result    `json:"result"`
	EventType        string    `json:"event_type,omitempty"`
	DenyReason       string    `json:"deny_reason,omitempty"`
	DenyCode         string    `json:"deny_code,omitempty"`
	SuspiciousFlag   bool      `json:"suspicious_flag,omitempty"`
	SuspiciousReason string    `json:"suspicious_reason,omitempty"`
	SuspiciousScore  float64   `json:"suspicious_score,omitempty"`
	Source           string    `json:"source,omitempty"`
}

type MinuteRollup struct {
	TenantID       string    `json:"tenant_id"`
	SiteID         string    `json:"site_id"`
	DoorID         string    `json:"door_id"`
	Minute         time.Time `json:"minute"`
	Total          int64     `json:"total"`
	Grants         int64     `json:"grants"`
	Denies         int64     `json:"denies"`
	Suspicious     int64     `json:"suspicious"`
	DistinctBadges int       `json:"distinct_badges"`
}

type HourRollup struct {
	TenantID   string    `json:"tenant_id"`
	SiteID     string    `json:"site_id"`
	DoorID     string    `json:"door_id"`
	Hour       time.Time `json:"hour"`
	Total      int64     `json:"total"`
	Grants     int64     `json:"grants"`
	Denies     int64     `json:"denies"`
	Suspicious int64     `json:"suspicious"`
	DenyRate   float64   `json:"deny_rate"`
}

// Baseline holds per-hour-of-week history statistics for one door, or for a
// whole site when DoorID is empty.
type Baseline struct {
	TenantID      string    `json:"tenant_id"`
	SiteID        string    `json:"site_id"`
	DoorID        string    `json:"door_id"`
	HourOfWeek    int       `json:"hour_of_week"`
	AvgTotal      float64   `json:"avg_total"`
	AvgGrants     float64   `json:"avg_grants"`
	AvgDenies     float64   `json:"avg_denies"`
	AvgDenyRate   float64   `json:"avg_deny_rate"`
	AvgSuspicious float64   `json:"avg_suspicious"`
	StddevTotal   float64   `json:"stddev_total"`
	StddevDenies  float64   `json:"stddev_denies"`
	SampleCount   int       `json:"sample_count"`
	ComputedAt    time.Time `json:"computed_at"`
}

type AnomalyCandidate struct {
	TenantID      string  `json:"tenant_id"`
	SiteID        string  `json:"site_id"`
	DoorID        string  `json:"door_id"`
	Metric        string  `json:"metric"`
	CurrentValue  float64 `json:"current_value"`
	BaselineValue float64 `json:"baseline_value"`
	HasBaseline   bool    `json:"has_baseline"`
	SpikeRatio    float64 `json:"spike_ratio"`
	Rank          int     `json:"rank"`
}

type FreshnessReport struct {
	TenantID     string     `json:"tenant_id"`
	HasEvents    bool       `json:"has_events"`
	AgeSeconds   float64    `json:"age_seconds,omitempty"`
	LatestEvent  *time.Time `json:"latest_event,omitempty"`
	EventsLast5m int64      `json:"events_last_5m"`
	Watermark    *time.Time `json:"watermark,omitempty"`
}

func DenyRate(denies, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(denies) / float64(total)
}

// HourOfWeek maps a timestamp to an integer in [0,167], Monday 00:00 being 0
// and Sunday 23:00 being 167. All pipeline stages must use the same location.
func HourOfWeek(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	day := (int(local.Weekday()) + 6) % 7
	return day*24 + local.Hour()
}
