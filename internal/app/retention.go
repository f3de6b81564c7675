package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/metrics"
	"github.com/graaaaa/activity-telemetry/internal/store"
)

// ErrInvalidRetention is returned for a negative retention age.
var ErrInvalidRetention = errors.New("invalid retention days")

// DefaultRetentionDays is the age after which events are purged.
const DefaultRetentionDays = 365

// PurgeResult reports a completed purge.
type PurgeResult struct {
	DeletedCount int64  `json:"deletedCount"`
	CutoffDate   string `json:"cutoffDate"`
}

// RetentionUsecase defines the retention purge use case.
type RetentionUsecase interface {
	Purge(ctx context.Context, days int) (PurgeResult, error)
}

// PurgeStore defines store operations needed by RetentionService.
type PurgeStore interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeAll(ctx context.Context) (int64, error)
}

// CacheInvalidator drops derived results that a purge makes stale.
type CacheInvalidator interface {
	InvalidateCache()
}

// RetentionService implements RetentionUsecase.
type RetentionService struct {
	Store  PurgeStore
	Caches []CacheInvalidator
	Logger *slog.Logger
	Now    func() time.Time
}

// Purge deletes events older than days. Zero days deletes every event,
// including any with future timestamps. The purge is irreversible.
func (s *RetentionService) Purge(ctx context.Context, days int) (PurgeResult, error) {
	if days < 0 {
		return PurgeResult{}, fmt.Errorf("%w: %d", ErrInvalidRetention, days)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	cutoff := now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	var (
		n   int64
		err error
	)
	if days == 0 {
		n, err = s.Store.PurgeAll(ctx)
	} else {
		n, err = s.Store.PurgeOlderThan(ctx, cutoff)
	}
	if err != nil {
		return PurgeResult{}, err
	}

	for _, c := range s.Caches {
		c.InvalidateCache()
	}
	metrics.EventsPurged.Add(float64(n))

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("retention purge completed", "days", days, "deleted", n, "cutoff", cutoff.Format(time.RFC3339))

	return PurgeResult{
		DeletedCount: n,
		CutoffDate:   cutoff.Format(store.TimeFormat),
	}, nil
}
