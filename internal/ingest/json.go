package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"gatesight/internal/normalize"
)

// ParseJSONBytes decodes one inbound JSON object into loose event fields.
// Debezium-style change records are unwrapped: delete operations return nil
// (skip), and "__"-prefixed CDC metadata keys are stripped.
func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	extras := map[string]string{}
	var op string
	for key, val := range obj {
		lower := strings.ToLower(key)
		if lower == "__op" || lower == "op" {
			op = strings.ToLower(fmt.Sprint(val))
			continue
		}
		if strings.HasPrefix(lower, "__") {
			continue
		}
		extras[lower] = fmt.Sprint(val)
	}
	// Only creates, updates and snapshot reads flow into rollups.
	if op != "" && op != "c" && op != "u" && op != "r" {
		return nil
	}

	fields := &normalize.EventFields{Extras: extras}
	fields.EventID = firstNonEmpty(extras, "event_id", "id", "pacs_event_id")
	fields.TenantID = firstNonEmpty(extras, "tenant_id", "tenant")
	fields.Timestamp = firstNonEmpty(extras, "event_time", "timestamp", "time", "ts")
	fields.SiteID = firstNonEmpty(extras, "site_id", "site")
	fields.DoorID = firstNonEmpty(extras, "door_id", "location_id", "door", "reader_id")
	fields.BadgeID = firstNonEmpty(extras, "badge_id", "badge", "card_id", "card")
	fields.PersonID = firstNonEmpty(extras, "person_id", "person")
	fields.Direction = firstNonEmpty(extras, "direction")
	fields.Result = firstNonEmpty(extras, "result", "status", "outcome")
	fields.EventType = firstNonEmpty(extras, "event_type", "type")
	fields.DenyReason = firstNonEmpty(extras, "deny_reason")
	fields.DenyCode = firstNonEmpty(extras, "deny_code")
	fields.SuspiciousFlag = firstNonEmpty(extras, "suspicious_flag")
	fields.SuspiciousReason = firstNonEmpty(extras, "suspicious_reason")
	fields.SuspiciousScore = firstNonEmpty(extras, "suspicious_score")
	return fields
}

func firstNonEmpty(extras map[string]string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(extras[key]); v != "" && v != "<nil>" {
			return v
		}
	}
	return ""
}
