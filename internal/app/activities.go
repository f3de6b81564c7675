package app

import (
	"context"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
	"github.com/graaaaa/activity-telemetry/internal/store"
)

// ActivitiesUsecase defines the raw listing use case.
type ActivitiesUsecase interface {
	List(ctx context.Context, filter store.ListFilter) (store.ListResult, error)
	After(ctx context.Context, cursor string, limit int) ([]event.Event, string, error)
}

// ActivityStore defines store operations needed by ActivitiesService.
type ActivityStore interface {
	ListActivities(ctx context.Context, filter store.ListFilter) (store.ListResult, error)
	ActivitiesAfter(ctx context.Context, cursor string, limit int) ([]event.Event, string, error)
}

// ActivitiesService implements ActivitiesUsecase.
type ActivitiesService struct {
	Store ActivityStore
}

// List returns one page of activities.
func (s *ActivitiesService) List(ctx context.Context, filter store.ListFilter) (store.ListResult, error) {
	defer observe("list")()
	return s.Store.ListActivities(ctx, filter)
}

// After returns activities following cursor, for live-feed replay.
func (s *ActivitiesService) After(ctx context.Context, cursor string, limit int) ([]event.Event, string, error) {
	return s.Store.ActivitiesAfter(ctx, cursor, limit)
}

// observe records the latency of a read query when the returned func runs.
func observe(query string) func() {
	start := time.Now()
	return func() {
		metrics.QueryDuration.WithLabelValues(query).Observe(float64(time.Since(start).Microseconds()) / 1000)
	}
}
