package ingest

import (
	"testing"
)

func TestParseJSONBytesFieldMapping(t *testing.T) {
	raw := []byte(`{
		"pacs_event_id": "ev-1",
		"tenant_id": "acme",
		"event_time": "2026-03-02T10:00:00Z",
		"site_id": "hq",
		"location_id": "door-7",
		"badge_id": "b-42",
		"result": "deny",
		"deny_reason": "no_entitlement",
		"deny_code": "D-3"
	}`)
	fields, err := ParseJSONBytes(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields.EventID != "ev-1" || fields.TenantID != "acme" || fields.DoorID != "door-7" {
		t.Fatalf("fields = %+v", fields)
	}
	if fields.BadgeID != "b-42" || fields.Result != "deny" || fields.DenyReason != "no_entitlement" {
		t.Fatalf("fields = %+v", fields)
	}
}

func TestParseJSONBytesChangeRecord(t *testing.T) {
	// CDC metadata keys are stripped; creates flow through.
	raw := []byte(`{
		"__op": "c",
		"__source_ts_ms": 1772446530000,
		"__table": "access_events",
		"tenant_id": "acme",
		"door_id": "door-1",
		"event_time": "2026-03-02T10:00:00Z"
	}`)
	fields, err := ParseJSONBytes(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fields == nil {
		t.Fatalf("create record skipped")
	}
	if _, ok := fields.Extras["__source_ts_ms"]; ok {
		t.Fatalf("CDC metadata leaked into extras")
	}

	// Deletes are skipped entirely.
	raw = []byte(`{"__op": "d", "tenant_id": "acme", "door_id": "door-1"}`)
	fields, err = ParseJSONBytes(raw)
	if err != nil {
		t.Fatalf("parse delete: %v", err)
	}
	if fields != nil {
		t.Fatalf("delete record not skipped: %+v", fields)
	}
}

func TestParseJSONBytesMalformed(t *testing.T) {
	if _, err := ParseJSONBytes([]byte(`{not json`)); err == nil {
		t.Fatalf("malformed payload accepted")
	}
}

func TestParseJSONMapSynonymPriority(t *testing.T) {
	fields := ParseJSONMap(map[string]interface{}{
		"door_id":     "primary",
		"location_id": "fallback",
		"tenant":      "acme",
		"ts":          "1772446530",
		"card":        "c-9",
	})
	if fields.DoorID != "primary" {
		t.Fatalf("door = %q, want primary key to win", fields.DoorID)
	}
	if fields.TenantID != "acme" || fields.Timestamp != "1772446530" || fields.BadgeID != "c-9" {
		t.Fatalf("fields = %+v", fields)
	}
}

func TestParseJSONMapNullValues(t *testing.T) {
	fields := ParseJSONMap(map[string]interface{}{
		"tenant_id": "acme",
		"door_id":   "door-1",
		"badge_id":  nil,
	})
	if fields.BadgeID != "" {
		t.Fatalf("nil value surfaced as %q", fields.BadgeID)
	}
}
