// Package main provides the activity telemetry server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/api"
	"github.com/graaaaa/activity-telemetry/internal/api/dashtoken"
	"github.com/graaaaa/activity-telemetry/internal/app"
	"github.com/graaaaa/activity-telemetry/internal/appinfo"
	"github.com/graaaaa/activity-telemetry/internal/config"
	"github.com/graaaaa/activity-telemetry/internal/derive"
	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/ingest"
	"github.com/graaaaa/activity-telemetry/internal/retention"
	"github.com/graaaaa/activity-telemetry/internal/singleinstance"
	"github.com/graaaaa/activity-telemetry/internal/store"
	"github.com/graaaaa/activity-telemetry/internal/version"
)

func main() {
	if err := run(); err != nil {
		slog.Error("activityd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file (.json, .yaml or .yml); default is the data directory")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	purgeDays := flag.Int("purge", -1, "purge events older than N days and exit (0 deletes everything)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appinfo.ServerName, version.String())
		return nil
	}

	// 1. Load configuration (corrupt config falls back to defaults with warning)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Warn("config", "error", err)
	}
	cfg = config.ApplyEnvOverrides(cfg)
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}

	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)

	// 2. Admin credentials for the read and purge surfaces
	secrets, err := ensureSecrets(cfg, logger)
	if err != nil {
		return err
	}

	// 3. One server per database file
	if _, err := config.EnsureDataDir(); err != nil && cfg.DatabasePath == "" {
		return fmt.Errorf("ensure data directory: %w", err)
	}
	path, err := config.DatabasePath(cfg)
	if err != nil {
		return fmt.Errorf("database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	release, ok, err := singleinstance.AcquireLock(path)
	if err != nil {
		return fmt.Errorf("acquire database lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("database %s is already in use by another %s", path, appinfo.ServerName)
	}
	defer release()

	// 4. Open SQLite store
	db, err := store.Open(path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", path)

	retentionService := &app.RetentionService{Store: db, Logger: logger}

	if *purgeDays >= 0 {
		res, err := retentionService.Purge(context.Background(), *purgeDays)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		fmt.Printf("deleted %d events older than %s\n", res.DeletedCount, res.CutoffDate)
		return nil
	}

	// 5. Live presence and SSE hub
	presence := derive.New(derive.WithIdleTimeout(time.Duration(cfg.SessionIdleMinutes) * time.Minute))

	hub := api.NewHub(api.WithHubLogger(logger))
	go hub.Run()
	defer hub.Stop()

	// 6. Use cases
	analytics := app.NewAnalyticsService(db)
	retentionService.Caches = append(retentionService.Caches, analytics)

	ingester := ingest.New(db,
		ingest.WithLogger(logger),
		ingest.WithMaxBatchSize(cfg.MaxBatchSize),
		ingest.WithOnInsert(func(e event.Event) {
			if d := presence.Update(&e); d != nil {
				logger.Debug("presence changed", "kind", d.Type.String(), "session_id", e.SessionID)
			}
		}),
		ingest.WithOnInsert(hub.Publish),
		ingest.WithOnInsert(analytics.ObserveInsert),
	)

	health := app.HealthService{Version: version.String(), Store: db}

	// 7. Scheduled retention
	job, err := retention.New(retentionService,
		retention.WithSchedule(cfg.RetentionSchedule),
		retention.WithRetentionDays(cfg.RetentionDays),
		retention.WithVacuum(db, time.Duration(cfg.VacuumIntervalDays)*24*time.Hour),
		retention.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	job.Start()

	// 8. HTTP server
	limiter := api.NewRateLimiter(api.RateLimiterConfig{
		Rate:              cfg.IngestRatePerSec,
		Burst:             cfg.IngestBurst,
		TrustForwardedFor: cfg.TrustForwardedFor,
	})
	defer limiter.Stop()

	serverOpts := []api.ServerOption{
		api.WithLogger(logger),
		api.WithIngestUsecase(ingester),
		api.WithActivitiesUsecase(&app.ActivitiesService{Store: db}),
		api.WithAnalyticsUsecase(analytics),
		api.WithRetentionUsecase(retentionService),
		api.WithPresenceUsecase(app.PresenceService{State: presence}),
		api.WithHub(hub),
		api.WithIngestRateLimiter(limiter),
		api.WithCORS(api.CORSConfig{AllowedOrigins: cfg.CORSOrigins}),
		api.WithTrustForwardedFor(cfg.TrustForwardedFor),
		api.WithQueryTimeout(time.Duration(cfg.QueryTimeoutSec) * time.Second),
	}

	if cfg.AuthEnabled {
		issuer, err := dashtoken.NewIssuer([]byte(secrets.TokenSecret.Value()))
		if err != nil {
			return fmt.Errorf("token issuer: %w", err)
		}
		serverOpts = append(serverOpts,
			api.WithBasicAuth(secrets.AdminUsername, secrets.AdminPassword.Value()),
			api.WithAuthFailureLimiter(api.NewAuthFailureLimiter(api.DefaultAuthFailureLimiterConfig())),
			api.WithTokenIssuer(issuer),
		)
		logger.Info("admin auth enabled", "username", secrets.AdminUsername)
	} else {
		logger.Warn("admin auth disabled; read and purge endpoints are open")
	}

	server := api.NewServer(cfg.Addr(), health, serverOpts...)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "app", appinfo.AppName, "version", version.String(), "addr", cfg.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	case serveErr = <-errCh:
		logger.Error("server error", "error", serveErr)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := job.Stop(stopCtx); err != nil {
		logger.Warn("retention job did not stop in time", "error", err)
	}

	// Closes subscriber channels so SSE handlers return before Shutdown waits on them
	hub.Stop()

	if err := server.Shutdown(stopCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return serveErr
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.LoadConfig()
	}
	return config.LoadConfigFrom(path)
}

// ensureSecrets loads the secrets file and fills in missing admin
// credentials. A freshly generated password is written to a file next to
// the secrets, never to the log.
func ensureSecrets(cfg config.Config, logger *slog.Logger) (config.Secrets, error) {
	secrets, status, err := config.LoadSecrets()
	if err != nil {
		logger.Warn("secrets", "error", err)
	}

	updated, generatedPw, err := config.EnsureAdminAuth(&secrets, cfg.AuthEnabled)
	if err != nil {
		return secrets, fmt.Errorf("ensure admin auth: %w", err)
	}
	if !updated {
		return secrets, nil
	}

	// Only save if loaded successfully or file was missing (prevent overwrite on fallback)
	if status == config.SecretsFallback {
		logger.Warn("secrets file has errors; generated credentials are not saved and last only for this run")
		if generatedPw != "" {
			dir, _ := config.DataDir()
			if pwPath, err := config.WritePasswordFile(dir, secrets.AdminUsername, generatedPw); err == nil {
				logger.Warn("temporary admin credentials written", "path", pwPath)
			}
		}
		return secrets, nil
	}

	if err := config.SaveSecrets(secrets); err != nil {
		return secrets, fmt.Errorf("save secrets: %w", err)
	}
	if generatedPw == "" {
		return secrets, nil
	}

	dir, err := config.DataDir()
	if err != nil {
		return secrets, err
	}
	pwPath, err := config.WritePasswordFile(dir, secrets.AdminUsername, generatedPw)
	if err != nil {
		return secrets, fmt.Errorf("write password file: %w", err)
	}
	logger.Info("admin credentials generated; delete the file after saving them", "path", pwPath)
	return secrets, nil
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("component", appinfo.ServerName)
}
