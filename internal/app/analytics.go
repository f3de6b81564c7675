package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
	"github.com/graaaaa/activity-telemetry/internal/store"
)

// Validation errors for analytics queries.
var (
	ErrInvalidGroupBy = errors.New("invalid groupBy")
	ErrInvalidRange   = errors.New("invalid date range")
	ErrInvalidWindow  = errors.New("invalid popular content window")
)

const (
	// DefaultPopularDays is the trailing window of the popular content query.
	DefaultPopularDays = 7
	// MaxPopularDays bounds the trailing window.
	MaxPopularDays = 365
	// DefaultPopularLimit is the length of each ranked list.
	DefaultPopularLimit = 10
	// MaxPopularLimit bounds the length of each ranked list.
	MaxPopularLimit = 100

	popularCacheSize = 128
	popularCacheTTL  = 30 * time.Second
)

// AnalyticsQuery is a time-bucketed aggregation request.
type AnalyticsQuery struct {
	UserID  string
	Start   *time.Time
	End     *time.Time
	GroupBy string
}

// AnalyticsUsecase defines the aggregation use cases.
type AnalyticsUsecase interface {
	Aggregate(ctx context.Context, q AnalyticsQuery) (store.AggregateResult, error)
	Popular(ctx context.Context, days, limit int) (store.PopularResult, error)
}

// AnalyticsStore defines store operations needed by AnalyticsService.
type AnalyticsStore interface {
	Aggregate(ctx context.Context, f store.AggregateFilter, g store.GroupBy) (store.AggregateResult, error)
	PopularContent(ctx context.Context, since time.Time, limit int) (store.PopularResult, error)
}

// AnalyticsService implements AnalyticsUsecase.
// Popular content results are cached briefly; dashboards poll them.
// The cache is dropped when a content view is stored or events are purged.
type AnalyticsService struct {
	store AnalyticsStore
	now   func() time.Time
	cache *expirable.LRU[string, store.PopularResult]
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(st AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{
		store: st,
		now:   time.Now,
		cache: expirable.NewLRU[string, store.PopularResult](popularCacheSize, nil, popularCacheTTL),
	}
}

// Aggregate validates q and runs the bucketed aggregation.
func (s *AnalyticsService) Aggregate(ctx context.Context, q AnalyticsQuery) (store.AggregateResult, error) {
	g := store.GroupBy(q.GroupBy)
	if g == "" {
		g = store.GroupByDay
	}
	if !g.Valid() {
		return store.AggregateResult{}, fmt.Errorf("%w: %q (want hour, day, week, month or activityType)", ErrInvalidGroupBy, q.GroupBy)
	}
	if q.Start != nil && q.End != nil && !q.Start.Before(*q.End) {
		return store.AggregateResult{}, fmt.Errorf("%w: startDate must be before endDate", ErrInvalidRange)
	}

	defer observe("aggregate")()
	return s.store.Aggregate(ctx, store.AggregateFilter{
		UserID: q.UserID,
		Start:  q.Start,
		End:    q.End,
	}, g)
}

// Popular returns the top viewed content of the trailing days.
// Zero values select the defaults.
func (s *AnalyticsService) Popular(ctx context.Context, days, limit int) (store.PopularResult, error) {
	if days == 0 {
		days = DefaultPopularDays
	}
	if limit == 0 {
		limit = DefaultPopularLimit
	}
	if days < 1 || days > MaxPopularDays {
		return store.PopularResult{}, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidWindow, MaxPopularDays)
	}
	if limit < 1 || limit > MaxPopularLimit {
		return store.PopularResult{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidWindow, MaxPopularLimit)
	}

	key := fmt.Sprintf("%d|%d", days, limit)
	if cached, ok := s.cache.Get(key); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	defer observe("popular")()
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := s.store.PopularContent(ctx, since, limit)
	if err != nil {
		return store.PopularResult{}, err
	}
	s.cache.Add(key, res)
	return res, nil
}

// InvalidateCache drops cached results, e.g. after a purge.
func (s *AnalyticsService) InvalidateCache() {
	s.cache.Purge()
}

// ObserveInsert drops cached popular content when a content view is
// stored. It is registered as an ingest insert hook.
func (s *AnalyticsService) ObserveInsert(e event.Event) {
	if s.cache.Len() > 0 && slices.Contains(event.ContentTypes, e.Type) {
		s.cache.Purge()
	}
}
