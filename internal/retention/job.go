// Package retention runs the scheduled purge of old activity events.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/graaaaa/activity-telemetry/internal/app"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
)

const (
	// DefaultSchedule runs the purge daily at 03:00 local time.
	DefaultSchedule = "0 3 * * *"

	// DefaultRunTimeout bounds a single purge plus vacuum.
	DefaultRunTimeout = 10 * time.Minute
)

// Purger deletes events older than a number of days.
type Purger interface {
	Purge(ctx context.Context, days int) (app.PurgeResult, error)
}

// Vacuumer reclaims space freed by a purge.
type Vacuumer interface {
	VacuumIfNeeded(ctx context.Context, minInterval time.Duration) (bool, error)
}

// Job purges events on a cron schedule.
type Job struct {
	purger         Purger
	vacuumer       Vacuumer
	vacuumInterval time.Duration
	days           int
	schedule       string
	timeout        time.Duration
	logger         *slog.Logger
	cron           *cron.Cron
}

// Option configures a Job.
type Option func(*Job)

// WithSchedule sets the standard five-field cron schedule.
func WithSchedule(spec string) Option {
	return func(j *Job) {
		if spec != "" {
			j.schedule = spec
		}
	}
}

// WithRetentionDays sets the retention age. Zero disables the job; a
// scheduled run never wipes the whole store.
func WithRetentionDays(days int) Option {
	return func(j *Job) {
		j.days = days
	}
}

// WithVacuum runs v after each successful purge, at most once per interval.
func WithVacuum(v Vacuumer, interval time.Duration) Option {
	return func(j *Job) {
		j.vacuumer = v
		j.vacuumInterval = interval
	}
}

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// New creates a Job. It fails if the schedule does not parse or the
// retention age is negative.
func New(purger Purger, opts ...Option) (*Job, error) {
	j := &Job{
		purger:   purger,
		days:     app.DefaultRetentionDays,
		schedule: DefaultSchedule,
		timeout:  DefaultRunTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}

	if j.days < 0 {
		return nil, fmt.Errorf("%w: %d", app.ErrInvalidRetention, j.days)
	}

	logger := cronLogger{j.logger}
	j.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := j.cron.AddFunc(j.schedule, j.run); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", j.schedule, err)
	}
	return j, nil
}

// Enabled reports whether scheduled purges will run.
func (j *Job) Enabled() bool {
	return j.days > 0
}

// Start starts the scheduler in its own goroutine. It does nothing when the
// job is disabled.
func (j *Job) Start() {
	if !j.Enabled() {
		j.logger.Info("retention job disabled")
		return
	}
	j.cron.Start()
	j.logger.Info("retention job scheduled", "schedule", j.schedule, "days", j.days)
}

// Stop stops the scheduler and waits for a running purge to finish or ctx
// to expire.
func (j *Job) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if err := j.RunOnce(ctx); err != nil {
		metrics.RetentionRuns.WithLabelValues("error").Inc()
		j.logger.Error("retention run failed", "error", err)
		return
	}
	metrics.RetentionRuns.WithLabelValues("ok").Inc()
}

// ErrDisabled is returned by RunOnce when the retention age is zero.
var ErrDisabled = errors.New("retention job disabled")

// RunOnce purges events older than the retention age, then vacuums if
// configured. A vacuum failure is logged, not returned.
func (j *Job) RunOnce(ctx context.Context) error {
	if !j.Enabled() {
		return ErrDisabled
	}

	res, err := j.purger.Purge(ctx, j.days)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	j.logger.Debug("retention purge", "deleted", res.DeletedCount, "cutoff", res.CutoffDate)

	if j.vacuumer == nil || res.DeletedCount == 0 {
		return nil
	}
	vacuumed, err := j.vacuumer.VacuumIfNeeded(ctx, j.vacuumInterval)
	if err != nil {
		j.logger.Warn("vacuum after purge failed", "error", err)
		return nil
	}
	if vacuumed {
		j.logger.Info("database vacuumed after purge")
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
