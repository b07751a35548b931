package normalize

import (
	"errors"
	"testing"
	"time"

	"gatesight/internal/model"
)

func TestNormalizeRequiredFields(t *testing.T) {
	base := EventFields{
		TenantID:  "acme",
		DoorID:    "door-1",
		Timestamp: "2026-03-02T10:00:00Z",
	}

	cases := []struct {
		name   string
		mutate func(*EventFields)
		want   error
	}{
		{"missing tenant", func(f *EventFields) { f.TenantID = "  " }, ErrMissingTenant},
		{"missing door", func(f *EventFields) { f.DoorID = "" }, ErrMissingDoor},
		{"missing time", func(f *EventFields) { f.Timestamp = "" }, ErrMissingTime},
	}
	for _, tc := range cases {
		fields := base
		tc.mutate(&fields)
		if _, err := Normalize(fields, time.UTC); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	ev, err := Normalize(base, time.UTC)
	if err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	if ev.EventID == "" {
		t.Fatalf("event id not generated")
	}
	if !ev.EventTime.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("event time = %v", ev.EventTime)
	}
}

func TestParseResult(t *testing.T) {
	cases := []struct {
		result, reason, code string
		want                 model.Result
	}{
		{"granted", "", "", model.ResultGrant},
		{"ALLOW", "", "", model.ResultGrant},
		{"denied", "", "", model.ResultDeny},
		{"reject", "", "", model.ResultDeny},
		{"", "badge_expired", "", model.ResultDeny},
		{"", "", "D-17", model.ResultDeny},
		{"", "", "", model.ResultGrant},
	}
	for _, tc := range cases {
		if got := ParseResult(tc.result, tc.reason, tc.code); got != tc.want {
			t.Errorf("ParseResult(%q, %q, %q) = %v, want %v", tc.result, tc.reason, tc.code, got, tc.want)
		}
	}
}

func TestParseTimestampFormats(t *testing.T) {
	want := time.Date(2026, 3, 2, 10, 15, 30, 0, time.UTC)
	inputs := []string{
		"2026-03-02T10:15:30Z",
		"2026-03-02T10:15:30.000Z",
		"2026-03-02 10:15:30",
		"2026-03-02T10:15:30",
		"1772446530",    // unix seconds
		"1772446530000", // unix milliseconds
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in, time.UTC)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", in, got.UTC(), want)
		}
	}
	if _, err := ParseTimestamp("last tuesday", time.UTC); err == nil {
		t.Fatalf("garbage timestamp accepted")
	}
}

func TestNormalizeSuspicious(t *testing.T) {
	ev, err := Normalize(EventFields{
		TenantID:        "acme",
		DoorID:          "door-1",
		Timestamp:       "2026-03-02T10:00:00Z",
		Result:          "deny",
		DenyReason:      "tailgating",
		SuspiciousFlag:  "true",
		SuspiciousScore: "0.83",
	}, time.UTC)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Result != model.ResultDeny || !ev.SuspiciousFlag || ev.SuspiciousScore != 0.83 {
		t.Fatalf("event = %+v", ev)
	}
}
