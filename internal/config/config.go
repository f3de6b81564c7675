package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvListenAddr        = "ACTIVITY_LISTEN_ADDR"
	EnvPort              = "ACTIVITY_PORT"
	EnvDatabasePath      = "ACTIVITY_DB_PATH"
	EnvRetentionDays     = "ACTIVITY_RETENTION_DAYS"
	EnvRetentionSchedule = "ACTIVITY_RETENTION_SCHEDULE"
	EnvMaxBatchSize      = "ACTIVITY_MAX_BATCH_SIZE"
	EnvCORSOrigins       = "ACTIVITY_CORS_ORIGINS"
	EnvIngestRate        = "ACTIVITY_INGEST_RATE"
	EnvTrustForwardedFor = "ACTIVITY_TRUST_FORWARDED_FOR"
	EnvAuthEnabled       = "ACTIVITY_AUTH_ENABLED"
	EnvLogLevel          = "ACTIVITY_LOG_LEVEL"
	EnvLogFormat         = "ACTIVITY_LOG_FORMAT"
)

// Config holds non-sensitive server configuration.
type Config struct {
	SchemaVersion int    `json:"schema_version" yaml:"schema_version"`
	ListenAddr    string `json:"listen_addr" yaml:"listen_addr"`
	Port          int    `json:"port" yaml:"port"`

	// DatabasePath is the SQLite file; empty means the data directory.
	DatabasePath string `json:"database_path" yaml:"database_path"`

	RetentionDays      int    `json:"retention_days" yaml:"retention_days"`
	RetentionSchedule  string `json:"retention_schedule" yaml:"retention_schedule"`
	VacuumIntervalDays int    `json:"vacuum_interval_days" yaml:"vacuum_interval_days"`

	MaxBatchSize      int      `json:"max_batch_size" yaml:"max_batch_size"`
	CORSOrigins       []string `json:"cors_origins" yaml:"cors_origins"`
	IngestRatePerSec  float64  `json:"ingest_rate_per_sec" yaml:"ingest_rate_per_sec"`
	IngestBurst       int      `json:"ingest_burst" yaml:"ingest_burst"`
	TrustForwardedFor bool     `json:"trust_forwarded_for" yaml:"trust_forwarded_for"`

	// AuthEnabled requires admin credentials (or a dashboard token) on the
	// read surfaces. Purge always requires credentials when enabled.
	AuthEnabled bool `json:"auth_enabled" yaml:"auth_enabled"`

	QueryTimeoutSec    int `json:"query_timeout_sec" yaml:"query_timeout_sec"`
	SessionIdleMinutes int `json:"session_idle_minutes" yaml:"session_idle_minutes"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:      CurrentSchemaVersion,
		ListenAddr:         "127.0.0.1",
		Port:               8080,
		RetentionDays:      365,
		RetentionSchedule:  "0 3 * * *",
		VacuumIntervalDays: 30,
		MaxBatchSize:       1000,
		CORSOrigins:        []string{},
		IngestRatePerSec:   20,
		IngestBurst:        40,
		AuthEnabled:        true,
		QueryTimeoutSec:    30,
		SessionIdleMinutes: 5,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Addr returns the host:port the server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddr, c.Port)
}

// SlogLevel returns LogLevel as a slog.Level (info when unrecognized).
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LoadConfig reads config from the data directory. If the file doesn't
// exist or is corrupt, it returns DefaultConfig with a warning logged.
func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom reads config from the specified path. Files ending in
// .yaml or .yml are YAML; anything else is JSON.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		slog.Warn("failed to read config file, using defaults", "path", path, "error", err)
		return cfg, nil
	}

	if err := decodeConfig(path, data, &cfg); err != nil {
		slog.Warn("config file is corrupt, using defaults", "path", path, "error", err)
		return DefaultConfig(), nil
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		slog.Warn("config schema version mismatch, using defaults",
			"got", cfg.SchemaVersion, "expected", CurrentSchemaVersion)
		return DefaultConfig(), nil
	}

	return normalizeConfig(cfg), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeConfig(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(cfg)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// normalizeConfig validates and normalizes config values.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	cfg.SchemaVersion = CurrentSchemaVersion

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = defaults.RetentionDays
	}
	if _, err := cron.ParseStandard(cfg.RetentionSchedule); err != nil {
		if cfg.RetentionSchedule != "" {
			slog.Warn("invalid retention schedule, using default",
				"schedule", cfg.RetentionSchedule, "error", err)
		}
		cfg.RetentionSchedule = defaults.RetentionSchedule
	}
	if cfg.VacuumIntervalDays <= 0 {
		cfg.VacuumIntervalDays = defaults.VacuumIntervalDays
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaults.MaxBatchSize
	}
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = []string{}
	}
	if cfg.IngestRatePerSec <= 0 {
		cfg.IngestRatePerSec = defaults.IngestRatePerSec
	}
	if cfg.IngestBurst <= 0 {
		cfg.IngestBurst = defaults.IngestBurst
	}
	if cfg.QueryTimeoutSec <= 0 {
		cfg.QueryTimeoutSec = defaults.QueryTimeoutSec
	}
	if cfg.SessionIdleMinutes <= 0 {
		cfg.SessionIdleMinutes = defaults.SessionIdleMinutes
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		cfg.LogFormat = defaults.LogFormat
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}

	return cfg
}

// SaveConfig writes config to the data directory atomically.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes config to the specified path atomically, as YAML or
// JSON by extension.
func SaveConfigTo(cfg Config, path string) error {
	cfg.SchemaVersion = CurrentSchemaVersion

	data, err := encodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return writeFileAtomic(path, data)
}

func encodeFile(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take highest priority over config file values.
func ApplyEnvOverrides(cfg Config) Config {
	return applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg Config, getenv func(string) string) Config {
	if v := getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}
	if v := getenv(EnvDatabasePath); v != "" {
		cfg.DatabasePath = v
	}
	if v := getenv(EnvRetentionDays); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 0 {
			cfg.RetentionDays = days
		}
	}
	if v := getenv(EnvRetentionSchedule); v != "" {
		if _, err := cron.ParseStandard(v); err == nil {
			cfg.RetentionSchedule = v
		}
	}
	if v := getenv(EnvMaxBatchSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxBatchSize = n
		}
	}
	if v := getenv(EnvCORSOrigins); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := getenv(EnvIngestRate); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			cfg.IngestRatePerSec = r
		}
	}
	if v := getenv(EnvTrustForwardedFor); v != "" {
		cfg.TrustForwardedFor = parseBool(v)
	}
	if v := getenv(EnvAuthEnabled); v != "" {
		cfg.AuthEnabled = parseBool(v)
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(EnvLogFormat); v == "text" || v == "json" {
		cfg.LogFormat = v
	}
	return cfg
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBool parses a boolean from various string representations.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// All other values are treated as false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
