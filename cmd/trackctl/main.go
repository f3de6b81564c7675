// Package main provides trackctl, a command-line host for the activity
// collector. It reads one tracking command per line from stdin and delivers
// the resulting events to an activity server.
//
//	{"activityType":"page_view","activityData":{"path":"/trips"}}
//	{"userId":"u-42"}
//	{"online":false}
//	{"flush":true}
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/appinfo"
	"github.com/graaaaa/activity-telemetry/internal/collector"
	"github.com/graaaaa/activity-telemetry/internal/version"
)

// EnvServerURL sets the default server URL.
const EnvServerURL = "ACTIVITY_SERVER_URL"

func main() {
	if err := run(); err != nil {
		slog.Error("trackctl exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	serverURL := flag.String("server", envOr(EnvServerURL, "http://127.0.0.1:8080"), "activity server base URL")
	batchSize := flag.Int("batch", collector.DefaultBatchSize, "queue length that triggers a flush")
	interval := flag.Duration("interval", collector.DefaultFlushInterval, "periodic flush interval")
	maxQueue := flag.Int("max-queue", collector.DefaultMaxQueueSize, "queued events kept while offline; oldest are dropped beyond this")
	sessionID := flag.String("session", "", "session id (default: random)")
	locate := flag.Bool("locate", false, "resolve the location context from a public IP lookup")
	grace := flag.Duration("grace", 2*time.Second, "how long to wait for the final best-effort delivery on exit")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appinfo.CollectorName, version.String())
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("component", appinfo.CollectorName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sender := collector.NewHTTPSender(*serverURL,
		collector.WithSenderLogger(logger),
		collector.WithUserAgent(version.UserAgent(appinfo.CollectorName)),
	)

	opts := []collector.Option{
		collector.WithLogger(logger),
		collector.WithBatchSize(*batchSize),
		collector.WithFlushInterval(*interval),
		collector.WithMaxQueueSize(*maxQueue),
		collector.WithDeviceResolver(collector.NewDeviceResolver(collector.ClientInfo{
			UserAgent: version.UserAgent(appinfo.CollectorName),
		})),
	}
	if *sessionID != "" {
		opts = append(opts, collector.WithSessionID(*sessionID))
	}
	if *locate {
		loc := collector.NewLocationResolver(collector.WithLocationLogger(logger))
		loc.Start(ctx)
		opts = append(opts, collector.WithLocationResolver(loc))
	}

	tracker := collector.New(sender, opts...)
	go tracker.Run(ctx)

	logger.Info("collector started", "server", *serverURL, "session_id", tracker.SessionID())

	readErr := make(chan error, 1)
	go func() {
		readErr <- readCommands(ctx, os.Stdin, tracker, logger)
	}()

	var err error
	select {
	case <-ctx.Done():
		logger.Info("interrupted, flushing")
	case err = <-readErr:
		if err != nil {
			logger.Error("reading commands", "error", err)
		}
	}

	// Teardown: hand the rest of the queue to the best-effort path and give
	// it a short grace period. A flush still in flight may hand off its
	// batch too, so wait for it before waiting on the sender.
	tracker.Close()
	graceCtx, cancel := context.WithTimeout(context.Background(), *grace)
	defer cancel()
	if werr := tracker.WaitIdle(graceCtx); werr != nil {
		logger.Warn("flush still in flight at exit", "error", werr)
		return err
	}
	if werr := sender.WaitBestEffort(graceCtx); werr != nil {
		logger.Warn("final delivery did not finish", "error", werr)
	}
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
