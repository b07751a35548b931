package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "gatesight.yaml", `
log_level: debug
tenants:
  - acme
  - buildright
anomaly:
  top_k: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || len(cfg.Tenants) != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Anomaly.TopK != 3 {
		t.Fatalf("top_k = %d", cfg.Anomaly.TopK)
	}
	// Untouched sections keep their defaults.
	if cfg.Baseline.WindowDays != 28 || cfg.Baseline.MinSampleCount != 2 {
		t.Fatalf("baseline defaults lost: %+v", cfg.Baseline)
	}
	if cfg.Rollup.LatenessHorizon != 24*time.Hour {
		t.Fatalf("lateness horizon = %s", cfg.Rollup.LatenessHorizon)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "gatesight.json", `{
  "timezone": "America/New_York",
  "anomaly": {"relative_threshold": 2.0}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Timezone != "America/New_York" || cfg.Anomaly.RelativeThreshold != 2.0 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"kafka without brokers", func(c *Config) { c.Ingest.Kafka.Enabled = true }},
		{"retention under horizon", func(c *Config) { c.Rollup.Retention = time.Hour }},
		{"zero min samples", func(c *Config) { c.Baseline.MinSampleCount = 0 }},
		{"storage without driver", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.Driver = ""
		}},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: validation passed", tc.name)
		}
	}
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestManagerReload(t *testing.T) {
	path := writeConfig(t, "gatesight.yaml", "log_level: info\n")
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if mgr.Get().LogLevel != "info" {
		t.Fatalf("initial level = %s", mgr.Get().LogLevel)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	needs, err := mgr.NeedsReload()
	if err != nil || !needs {
		t.Fatalf("needs reload = %v, %v", needs, err)
	}
	cfg, err := mgr.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("reloaded level = %s", cfg.LogLevel)
	}
}

func TestStaticManager(t *testing.T) {
	mgr := NewStaticManager(nil)
	if mgr.Get().Baseline.WindowDays != 28 {
		t.Fatalf("static manager defaults missing")
	}
	if needs, err := mgr.NeedsReload(); needs || err != nil {
		t.Fatalf("pathless manager wants reload: %v %v", needs, err)
	}
}
