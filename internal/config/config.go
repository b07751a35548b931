package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string   `json:"log_level" yaml:"log_level"`
	Timezone string   `json:"timezone" yaml:"timezone"`
	Tenants  []string `json:"tenants" yaml:"tenants"`

	Ingest   IngestConfig   `json:"ingest" yaml:"ingest"`
	Rollup   RollupConfig   `json:"rollup" yaml:"rollup"`
	Baseline BaselineConfig `json:"baseline" yaml:"baseline"`
	Anomaly  AnomalyConfig  `json:"anomaly" yaml:"anomaly"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	API      APIConfig      `json:"api" yaml:"api"`
}

type IngestConfig struct {
	ChannelBuffer int         `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig  `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig `json:"kafka" yaml:"kafka"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type RollupConfig struct {
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval"`
	FlushInterval   time.Duration `json:"flush_interval" yaml:"flush_interval"`
	BatchSize       int           `json:"batch_size" yaml:"batch_size"`
	LatenessHorizon time.Duration `json:"lateness_horizon" yaml:"lateness_horizon"`
	Retention       time.Duration `json:"retention" yaml:"retention"`
	DedupeTTL       time.Duration `json:"dedupe_ttl" yaml:"dedupe_ttl"`
}

type BaselineConfig struct {
	WindowDays     int           `json:"window_days" yaml:"window_days"`
	MinSampleCount int           `json:"min_sample_count" yaml:"min_sample_count"`
	RunInterval    time.Duration `json:"run_interval" yaml:"run_interval"`
}

type AnomalyConfig struct {
	LookbackMinutes   int     `json:"lookback_minutes" yaml:"lookback_minutes"`
	AbsoluteFloor     float64 `json:"absolute_floor" yaml:"absolute_floor"`
	RelativeThreshold float64 `json:"relative_threshold" yaml:"relative_threshold"`
	TopK              int     `json:"top_k" yaml:"top_k"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Timezone: "UTC",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Rollup: RollupConfig{
			PollInterval:    2 * time.Second,
			FlushInterval:   4 * time.Second,
			BatchSize:       200,
			LatenessHorizon: 24 * time.Hour,
			Retention:       35 * 24 * time.Hour,
			DedupeTTL:       48 * time.Hour,
		},
		Baseline: BaselineConfig{
			WindowDays:     28,
			MinSampleCount: 2,
			RunInterval:    1 * time.Hour,
		},
		Anomaly: AnomalyConfig{
			LookbackMinutes:   60,
			AbsoluteFloor:     3,
			RelativeThreshold: 1.5,
			TopK:              5,
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:gatesight.db?_pragma=busy_timeout(5000)"},
		API:     APIConfig{Enabled: true, Addr: ":8081"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Rollup.PollInterval <= 0 {
		cfg.Rollup.PollInterval = def.Rollup.PollInterval
	}
	if cfg.Rollup.FlushInterval <= 0 {
		cfg.Rollup.FlushInterval = def.Rollup.FlushInterval
	}
	if cfg.Rollup.BatchSize <= 0 {
		cfg.Rollup.BatchSize = def.Rollup.BatchSize
	}
	if cfg.Rollup.LatenessHorizon <= 0 {
		cfg.Rollup.LatenessHorizon = def.Rollup.LatenessHorizon
	}
	if cfg.Rollup.Retention <= 0 {
		cfg.Rollup.Retention = def.Rollup.Retention
	}
	if cfg.Rollup.DedupeTTL <= 0 {
		cfg.Rollup.DedupeTTL = def.Rollup.DedupeTTL
	}
	if cfg.Baseline.WindowDays <= 0 {
		cfg.Baseline.WindowDays = def.Baseline.WindowDays
	}
	if cfg.Baseline.MinSampleCount <= 0 {
		cfg.Baseline.MinSampleCount = def.Baseline.MinSampleCount
	}
	if cfg.Baseline.RunInterval <= 0 {
		cfg.Baseline.RunInterval = def.Baseline.RunInterval
	}
	if cfg.Anomaly.LookbackMinutes <= 0 {
		cfg.Anomaly.LookbackMinutes = def.Anomaly.LookbackMinutes
	}
	if cfg.Anomaly.RelativeThreshold <= 0 {
		cfg.Anomaly.RelativeThreshold = def.Anomaly.RelativeThreshold
	}
	if cfg.Anomaly.TopK <= 0 {
		cfg.Anomaly.TopK = def.Anomaly.TopK
	}
}

func Validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Rollup.LatenessHorizon < time.Minute {
		return fmt.Errorf("rollup.lateness_horizon too small: %s", cfg.Rollup.LatenessHorizon)
	}
	if cfg.Rollup.Retention < cfg.Rollup.LatenessHorizon {
		return errors.New("rollup.retention must cover rollup.lateness_horizon")
	}
	if cfg.Baseline.WindowDays <= 0 {
		return errors.New("baseline.window_days must be > 0")
	}
	if cfg.Baseline.MinSampleCount < 1 {
		return errors.New("baseline.min_sample_count must be >= 1")
	}
	if cfg.Anomaly.AbsoluteFloor < 0 {
		return errors.New("anomaly.absolute_floor must be >= 0")
	}
	if cfg.Storage.Enabled && cfg.Storage.Driver == "" {
		return errors.New("storage.driver required when storage.enabled is true")
	}
	return nil
}

// Location resolves the configured timezone, falling back to UTC. Validate
// already guarantees the name parses for configs loaded from disk.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config, for tests and embedded use.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
