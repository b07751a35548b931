package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatesight/internal/model"
)

// EventFields is the loosely-typed shape of an inbound access event before
// validation. All values are strings as read off the wire.
type EventFields struct {
	EventID          string
	TenantID         string
	Timestamp        string
	SiteID           string
	DoorID           string
	BadgeID          string
	PersonID         string
	Direction        string
	Result           string
	EventType        string
	DenyReason       string
	DenyCode         string
	SuspiciousFlag   string
	SuspiciousReason string
	SuspiciousScore  string
	Source           string
	Extras           map[string]string
}

var (
	ErrMissingTenant = errors.New("missing tenant_id")
	ErrMissingDoor   = errors.New("missing door_id")
	ErrMissingTime   = errors.New("missing event_time")
)

// Normalize validates and converts raw fields into an AccessEvent. Events
// without a tenant, door, or parseable event time are malformed and
// rejected; they must be counted by the caller, never aggregated.
func Normalize(fields EventFields, loc *time.Location) (model.AccessEvent, error) {
	tenant := strings.TrimSpace(fields.TenantID)
	if tenant == "" {
		return model.AccessEvent{}, ErrMissingTenant
	}
	door := strings.TrimSpace(fields.DoorID)
	if door == "" {
		return model.AccessEvent{}, ErrMissingDoor
	}
	if strings.TrimSpace(fields.Timestamp) == "" {
		return model.AccessEvent{}, ErrMissingTime
	}
	ts, err := ParseTimestamp(fields.Timestamp, loc)
	if err != nil {
		return model.AccessEvent{}, fmt.Errorf("parse event_time: %w", err)
	}

	id := strings.TrimSpace(fields.EventID)
	if id == "" {
		id = uuid.NewString()
	}

	ev := model.AccessEvent{
		EventID:    id,
		TenantID:   tenant,
		EventTime:  ts.UTC(),
		SiteID:     strings.TrimSpace(fields.SiteID),
		DoorID:     door,
		BadgeID:    strings.TrimSpace(fields.BadgeID),
		PersonID:   strings.TrimSpace(fields.PersonID),
		Direction:  strings.ToLower(strings.TrimSpace(fields.Direction)),
		Result:     ParseResult(fields.Result, fields.DenyReason, fields.DenyCode),
		EventType:  strings.TrimSpace(fields.EventType),
		DenyReason: strings.TrimSpace(fields.DenyReason),
		DenyCode:   strings.TrimSpace(fields.DenyCode),
		Source:     fields.Source,
	}
	ev.SuspiciousFlag = parseBool(fields.SuspiciousFlag)
	ev.SuspiciousReason = strings.TrimSpace(fields.SuspiciousReason)
	if score, err := strconv.ParseFloat(strings.TrimSpace(fields.SuspiciousScore), 64); err == nil {
		ev.SuspiciousScore = score
	}
	return ev, nil
}

func ParseResult(result, denyReason, denyCode string) model.Result {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "grant", "granted", "allow", "allowed", "ok", "success", "pass":
		return model.ResultGrant
	case "deny", "denied", "reject", "rejected", "fail", "failure":
		return model.ResultDeny
	}
	if strings.TrimSpace(denyReason) != "" || strings.TrimSpace(denyCode) != "" {
		return model.ResultDeny
	}
	return model.ResultGrant
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
