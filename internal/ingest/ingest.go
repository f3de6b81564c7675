package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
)

// DefaultMaxBatchSize is the largest accepted batch.
const DefaultMaxBatchSize = 1000

// EventStore defines store operations needed by Service.
type EventStore interface {
	InsertActivity(ctx context.Context, e *event.Event) (int64, error)
	InsertActivities(ctx context.Context, events []*event.Event) (int, error)
}

// InsertHook observes each stored event after it is committed.
type InsertHook func(e event.Event)

// Service coordinates ingestion from request to store.
type Service struct {
	store        EventStore
	logger       *slog.Logger
	clock        Clock
	maxBatchSize int
	hooks        []InsertHook
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the clock for the Service (for testing).
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMaxBatchSize sets the batch size limit.
func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatchSize = n
		}
	}
}

// WithOnInsert registers a hook called for every stored event.
func WithOnInsert(h InsertHook) Option {
	return func(s *Service) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

// New creates a new Service.
func New(store EventStore, opts ...Option) *Service {
	s := &Service{
		store:        store,
		logger:       slog.Default(),
		clock:        DefaultClock,
		maxBatchSize: DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestBatch stores every valid item of req in one bulk insert.
// Items that fail to decode or validate are skipped and counted; only an
// empty or oversized batch, or a store failure, is an error.
func (s *Service) IngestBatch(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if len(req.Activities) == 0 {
		return BatchResult{}, ErrEmptyBatch
	}
	if len(req.Activities) > s.maxBatchSize {
		return BatchResult{}, fmt.Errorf("%w: %d activities, max %d", ErrBatchTooLarge, len(req.Activities), s.maxBatchSize)
	}
	metrics.BatchSize.Observe(float64(len(req.Activities)))

	amb := ambient{sessionID: req.SessionID, userID: req.UserID, clientIP: req.ClientIP}
	events := make([]*event.Event, 0, len(req.Activities))
	var result BatchResult

	for i, raw := range req.Activities {
		var in Input
		if err := json.Unmarshal(raw, &in); err != nil {
			s.skip(i, reasonMalformed, err)
			result.Skipped++
			continue
		}
		e, err := normalize(in, amb, s.clock)
		if err != nil {
			s.skip(i, skipReason(err), err)
			result.Skipped++
			continue
		}
		events = append(events, e)
	}

	if len(events) == 0 {
		return result, nil
	}

	n, err := s.store.InsertActivities(ctx, events)
	if err != nil {
		return BatchResult{}, fmt.Errorf("store batch: %w", err)
	}
	result.Stored = n
	metrics.EventsIngested.Add(float64(n))

	s.logger.Debug("batch ingested", "stored", result.Stored, "skipped", result.Skipped)
	s.notify(events)
	return result, nil
}

// IngestOne stores a single event and returns it with its assigned id.
func (s *Service) IngestOne(ctx context.Context, in Input, clientIP string) (event.Event, error) {
	e, err := normalize(in, ambient{clientIP: clientIP}, s.clock)
	if err != nil {
		metrics.EventsSkipped.WithLabelValues(skipReason(err)).Inc()
		return event.Event{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := s.store.InsertActivity(ctx, e); err != nil {
		return event.Event{}, fmt.Errorf("store activity: %w", err)
	}
	metrics.EventsIngested.Inc()

	s.notify([]*event.Event{e})
	return *e, nil
}

func (s *Service) skip(index int, reason string, err error) {
	metrics.EventsSkipped.WithLabelValues(reason).Inc()
	s.logger.Debug("skipped batch item", "index", index, "reason", reason, "error", err)
}

func (s *Service) notify(events []*event.Event) {
	for _, h := range s.hooks {
		for _, e := range events {
			h(*e)
		}
	}
}
