package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigFrom_NotExist(t *testing.T) {
	// Load from non-existent file should return defaults
	cfg, err := LoadConfigFrom("/nonexistent/path/config.json")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.Port != defaults.Port {
		t.Errorf("expected port %d, got %d", defaults.Port, cfg.Port)
	}
	if cfg.SchemaVersion != defaults.SchemaVersion {
		t.Errorf("expected schema version %d, got %d", defaults.SchemaVersion, cfg.SchemaVersion)
	}
	if cfg.RetentionDays != 365 {
		t.Errorf("expected default retention 365, got %d", cfg.RetentionDays)
	}
}

func TestLoadConfigFrom_Corrupt(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(path, []byte("not valid json{{{"), 0600); err != nil {
		t.Fatal(err)
	}

	// Load should return defaults (with warning logged)
	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.Port != defaults.Port {
		t.Errorf("expected default port %d, got %d", defaults.Port, cfg.Port)
	}
}

func TestLoadConfigFrom_UnknownField(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	content := `{"schema_version": 1, "port": 9000, "webhook_url": "x"}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if cfg.Port != DefaultConfig().Port {
		t.Errorf("unknown field should fall back to defaults, got port %d", cfg.Port)
	}
}

func TestLoadConfigFrom_InvalidVersion(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	content := `{"schema_version": 999, "port": 9999}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	// Load should return defaults due to version mismatch
	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.Port != defaults.Port {
		t.Errorf("expected default port %d, got %d", defaults.Port, cfg.Port)
	}
}

func TestLoadConfigFrom_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	content := `schema_version: 1
listen_addr: 0.0.0.0
port: 9100
retention_days: 90
retention_schedule: "30 4 * * 0"
cors_origins:
  - https://dash.example.com
log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9100" {
		t.Errorf("expected addr 0.0.0.0:9100, got %s", cfg.Addr())
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("expected retention 90, got %d", cfg.RetentionDays)
	}
	if cfg.RetentionSchedule != "30 4 * * 0" {
		t.Errorf("expected schedule to be kept, got %q", cfg.RetentionSchedule)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://dash.example.com" {
		t.Errorf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected json log format, got %q", cfg.LogFormat)
	}
	// Unset fields keep their defaults
	if cfg.MaxBatchSize != DefaultConfig().MaxBatchSize {
		t.Errorf("expected default max batch size, got %d", cfg.MaxBatchSize)
	}
}

func TestLoadConfigFrom_YAMLUnknownField(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yml")

	if err := os.WriteFile(path, []byte("schema_version: 1\nport: 9100\nlan_enabled: true\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if cfg.Port != DefaultConfig().Port {
		t.Errorf("unknown yaml field should fall back to defaults, got port %d", cfg.Port)
	}
}

func TestSaveLoadConfig_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			original := DefaultConfig()
			original.Port = 9000
			original.RetentionDays = 30
			original.CORSOrigins = []string{"https://a.example.com", "https://b.example.com"}
			original.TrustForwardedFor = true
			original.AuthEnabled = false
			original.LogLevel = "debug"

			if err := SaveConfigTo(original, path); err != nil {
				t.Fatalf("failed to save config: %v", err)
			}

			loaded, err := LoadConfigFrom(path)
			if err != nil {
				t.Fatalf("failed to load config: %v", err)
			}

			if loaded.Port != original.Port {
				t.Errorf("port mismatch: expected %d, got %d", original.Port, loaded.Port)
			}
			if loaded.RetentionDays != original.RetentionDays {
				t.Errorf("retention mismatch: expected %d, got %d", original.RetentionDays, loaded.RetentionDays)
			}
			if len(loaded.CORSOrigins) != 2 {
				t.Errorf("cors origins mismatch: %v", loaded.CORSOrigins)
			}
			if !loaded.TrustForwardedFor {
				t.Error("trust_forwarded_for mismatch")
			}
			if loaded.AuthEnabled {
				t.Error("auth_enabled mismatch")
			}
			if loaded.SlogLevel() != slog.LevelDebug {
				t.Errorf("expected debug level, got %v", loaded.SlogLevel())
			}
		})
	}
}

func TestSaveConfigTo_NoTempLeftBehind(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	if err := SaveConfigTo(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}
	if err := SaveConfigTo(DefaultConfig(), path); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only config.json, got %v", names)
	}
}

func TestLoadConfigFrom_Normalizes(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	content := `{"schema_version": 1, "port": 99999, "retention_schedule": "every tuesday",
		"max_batch_size": -5, "log_format": "xml", "retention_days": -1, "listen_addr": ""}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	defaults := DefaultConfig()
	if cfg.Port != defaults.Port {
		t.Errorf("expected normalized port %d, got %d", defaults.Port, cfg.Port)
	}
	if cfg.RetentionSchedule != defaults.RetentionSchedule {
		t.Errorf("expected default schedule, got %q", cfg.RetentionSchedule)
	}
	if cfg.MaxBatchSize != defaults.MaxBatchSize {
		t.Errorf("expected default max batch size, got %d", cfg.MaxBatchSize)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("expected text log format, got %q", cfg.LogFormat)
	}
	if cfg.RetentionDays != defaults.RetentionDays {
		t.Errorf("expected default retention, got %d", cfg.RetentionDays)
	}
	if cfg.ListenAddr != defaults.ListenAddr {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
}

func TestLoadConfigFrom_ZeroRetentionKept(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	// Zero days disables the scheduled purge and must survive normalization.
	if err := os.WriteFile(path, []byte(`{"schema_version": 1, "retention_days": 0}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RetentionDays != 0 {
		t.Errorf("expected retention 0, got %d", cfg.RetentionDays)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{LogLevel: tt.in}
		if got := cfg.SlogLevel(); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSecret_StringMasking(t *testing.T) {
	secret := Secret("my-super-secret-password")

	if s := secret.String(); s != "[REDACTED]" {
		t.Errorf("String() should return [REDACTED], got %s", s)
	}
	if s := secret.GoString(); s != "[REDACTED]" {
		t.Errorf("GoString() should return [REDACTED], got %s", s)
	}
	if v := secret.Value(); v != "my-super-secret-password" {
		t.Errorf("Value() should return actual value, got %s", v)
	}

	formatted := fmt.Sprintf("%s", secret)
	if formatted != "[REDACTED]" {
		t.Errorf("%%s formatting should return [REDACTED], got %s", formatted)
	}
	formatted = fmt.Sprintf("%v", Secrets{AdminPassword: secret})
	if strings.Contains(formatted, "my-super-secret-password") {
		t.Errorf("%%v of Secrets leaked the password: %s", formatted)
	}
}

func TestSecret_IsEmpty(t *testing.T) {
	empty := Secret("")
	if !empty.IsEmpty() {
		t.Error("empty secret should return IsEmpty() = true")
	}

	nonEmpty := Secret("value")
	if nonEmpty.IsEmpty() {
		t.Error("non-empty secret should return IsEmpty() = false")
	}
}

func fakeEnv(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestApplyEnv_Overrides(t *testing.T) {
	cfg := applyEnv(DefaultConfig(), fakeEnv(map[string]string{
		EnvListenAddr:        "0.0.0.0",
		EnvPort:              "9090",
		EnvDatabasePath:      "/var/lib/activity/db.sqlite",
		EnvRetentionDays:     "7",
		EnvRetentionSchedule: "*/15 * * * *",
		EnvMaxBatchSize:      "50",
		EnvCORSOrigins:       " https://a.example.com , ,https://b.example.com",
		EnvIngestRate:        "2.5",
		EnvTrustForwardedFor: "yes",
		EnvAuthEnabled:       "false",
		EnvLogLevel:          "debug",
		EnvLogFormat:         "json",
	}))

	if cfg.Addr() != "0.0.0.0:9090" {
		t.Errorf("expected addr 0.0.0.0:9090, got %s", cfg.Addr())
	}
	if cfg.DatabasePath != "/var/lib/activity/db.sqlite" {
		t.Errorf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("expected retention 7, got %d", cfg.RetentionDays)
	}
	if cfg.RetentionSchedule != "*/15 * * * *" {
		t.Errorf("unexpected schedule %q", cfg.RetentionSchedule)
	}
	if cfg.MaxBatchSize != 50 {
		t.Errorf("expected max batch 50, got %d", cfg.MaxBatchSize)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Errorf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.IngestRatePerSec != 2.5 {
		t.Errorf("expected ingest rate 2.5, got %v", cfg.IngestRatePerSec)
	}
	if !cfg.TrustForwardedFor {
		t.Error("expected trust forwarded for")
	}
	if cfg.AuthEnabled {
		t.Error("expected auth disabled")
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("unexpected log settings %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestApplyEnv_InvalidValuesIgnored(t *testing.T) {
	defaults := DefaultConfig()
	cfg := applyEnv(defaults, fakeEnv(map[string]string{
		EnvPort:              "99999",
		EnvRetentionDays:     "-3",
		EnvRetentionSchedule: "not a schedule",
		EnvMaxBatchSize:      "zero",
		EnvIngestRate:        "-1",
		EnvLogFormat:         "xml",
	}))

	if cfg.Port != defaults.Port {
		t.Errorf("expected port unchanged, got %d", cfg.Port)
	}
	if cfg.RetentionDays != defaults.RetentionDays {
		t.Errorf("expected retention unchanged, got %d", cfg.RetentionDays)
	}
	if cfg.RetentionSchedule != defaults.RetentionSchedule {
		t.Errorf("expected schedule unchanged, got %q", cfg.RetentionSchedule)
	}
	if cfg.MaxBatchSize != defaults.MaxBatchSize {
		t.Errorf("expected max batch unchanged, got %d", cfg.MaxBatchSize)
	}
	if cfg.IngestRatePerSec != defaults.IngestRatePerSec {
		t.Errorf("expected ingest rate unchanged, got %v", cfg.IngestRatePerSec)
	}
	if cfg.LogFormat != defaults.LogFormat {
		t.Errorf("expected log format unchanged, got %q", cfg.LogFormat)
	}
}

func TestApplyEnvOverrides_Port(t *testing.T) {
	t.Setenv(EnvPort, "9191")
	cfg := ApplyEnvOverrides(DefaultConfig())
	if cfg.Port != 9191 {
		t.Errorf("expected port 9191, got %d", cfg.Port)
	}
}

func TestParseBool(t *testing.T) {
	trueValues := []string{"true", "TRUE", "True", "1", "yes", "YES", "on", "ON", " true "}
	for _, v := range trueValues {
		if !parseBool(v) {
			t.Errorf("parseBool(%q) should be true", v)
		}
	}

	falseValues := []string{"false", "FALSE", "0", "no", "off", "", "invalid"}
	for _, v := range falseValues {
		if parseBool(v) {
			t.Errorf("parseBool(%q) should be false", v)
		}
	}
}

func TestSaveLoadSecrets_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "secrets.json")

	original := Secrets{
		SchemaVersion: CurrentSchemaVersion,
		AdminUsername: "ops",
		AdminPassword: Secret("super-secret"),
		TokenSecret:   Secret("signing-key"),
	}

	if err := SaveSecretsTo(original, path); err != nil {
		t.Fatalf("failed to save secrets: %v", err)
	}

	loaded, status, err := LoadSecretsFrom(path)
	if err != nil {
		t.Fatalf("failed to load secrets: %v", err)
	}
	if status != SecretsLoaded {
		t.Errorf("expected status SecretsLoaded, got %v", status)
	}

	if loaded.AdminUsername != "ops" {
		t.Errorf("admin_username mismatch: %q", loaded.AdminUsername)
	}
	if loaded.AdminPassword.Value() != original.AdminPassword.Value() {
		t.Errorf("admin_password mismatch")
	}
	if loaded.TokenSecret.Value() != original.TokenSecret.Value() {
		t.Errorf("token_secret mismatch")
	}
}

func TestLoadSecretsFrom_Status(t *testing.T) {
	tmpDir := t.TempDir()

	_, status, err := LoadSecretsFrom(filepath.Join(tmpDir, "missing.json"))
	if err != nil || status != SecretsMissing {
		t.Errorf("expected SecretsMissing with no error, got %v (%v)", status, err)
	}

	corrupt := filepath.Join(tmpDir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, status, err := LoadSecretsFrom(corrupt); err == nil || status != SecretsFallback {
		t.Errorf("expected SecretsFallback with error, got %v (%v)", status, err)
	}

	wrongVersion := filepath.Join(tmpDir, "v2.json")
	if err := os.WriteFile(wrongVersion, []byte(`{"schema_version": 2}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, status, err := LoadSecretsFrom(wrongVersion); err == nil || status != SecretsFallback {
		t.Errorf("expected SecretsFallback on version mismatch, got %v (%v)", status, err)
	}
}

func TestEnsureAdminAuth(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		sec := DefaultSecrets()
		updated, pw, err := EnsureAdminAuth(&sec, false)
		if err != nil || updated || pw != "" {
			t.Errorf("expected no-op, got updated=%v pw=%q err=%v", updated, pw, err)
		}
		if !sec.AdminPassword.IsEmpty() {
			t.Error("password should stay empty when auth is disabled")
		}
	})

	t.Run("generates", func(t *testing.T) {
		sec := DefaultSecrets()
		updated, pw, err := EnsureAdminAuth(&sec, true)
		if err != nil {
			t.Fatal(err)
		}
		if !updated {
			t.Error("expected updated")
		}
		if sec.AdminUsername != "admin" {
			t.Errorf("expected default username admin, got %q", sec.AdminUsername)
		}
		if len(pw) != passwordLength || sec.AdminPassword.Value() != pw {
			t.Errorf("expected generated password of length %d", passwordLength)
		}
		if len(sec.TokenSecret.Value()) != tokenSecretLength {
			t.Errorf("expected token secret of length %d", tokenSecretLength)
		}
	})

	t.Run("keeps existing", func(t *testing.T) {
		sec := Secrets{
			SchemaVersion: CurrentSchemaVersion,
			AdminUsername: "ops",
			AdminPassword: Secret("pw"),
			TokenSecret:   Secret("key"),
		}
		updated, pw, err := EnsureAdminAuth(&sec, true)
		if err != nil || updated || pw != "" {
			t.Errorf("expected nothing generated, got updated=%v pw=%q err=%v", updated, pw, err)
		}
	})

	t.Run("backfills token secret", func(t *testing.T) {
		sec := Secrets{AdminUsername: "ops", AdminPassword: Secret("pw")}
		updated, pw, err := EnsureAdminAuth(&sec, true)
		if err != nil {
			t.Fatal(err)
		}
		if !updated || pw != "" {
			t.Errorf("expected updated without new password, got updated=%v pw=%q", updated, pw)
		}
		if sec.TokenSecret.IsEmpty() {
			t.Error("expected token secret")
		}
	})
}

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(pw) != 32 {
		t.Errorf("expected length 32, got %d", len(pw))
	}
	for _, c := range pw {
		if !strings.ContainsRune(passwordCharset, c) {
			t.Errorf("unexpected character %q", c)
		}
	}

	if _, err := GeneratePassword(0); err == nil {
		t.Error("expected error for zero length")
	}
}

func TestWritePasswordFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	path, err := WritePasswordFile(dir, "admin", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Username: admin") || !strings.Contains(string(data), "Password: hunter2") {
		t.Errorf("unexpected password file content: %q", data)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabasePath = "/srv/activity.sqlite"
	got, err := DatabasePath(cfg)
	if err != nil || got != "/srv/activity.sqlite" {
		t.Errorf("expected configured path, got %q (%v)", got, err)
	}

	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	got, err = DatabasePath(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "activity.sqlite") {
		t.Errorf("expected data dir database, got %q", got)
	}
}
