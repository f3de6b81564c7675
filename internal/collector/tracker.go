// Package collector is the client side of the telemetry pipeline: it
// resolves device and location context, queues tracked events, and
// delivers them to the ingestion server in batches.
package collector

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
)

const (
	// DefaultBatchSize is the queue length that triggers a flush.
	DefaultBatchSize = 10
	// DefaultFlushInterval is the period of the interval flush.
	DefaultFlushInterval = 30 * time.Second
	// DefaultMaxQueueSize bounds the queue during outages; the oldest events are dropped first.
	DefaultMaxQueueSize = 1000
	// DefaultMaxDataBytes caps the encoded size of one event's activityData.
	DefaultMaxDataBytes = 16 << 10
	// DefaultMaxBatchBytes caps the encoded events of one delivery request.
	DefaultMaxBatchBytes = 1 << 20
)

var (
	// ErrOffline is returned by Flush while the tracker is offline.
	ErrOffline = errors.New("collector is offline")
	// ErrClosed is returned by Flush after Close.
	ErrClosed = errors.New("collector is closed")
)

// Tracker records activity events and delivers them in batches.
// A host creates one Tracker and shares it; all methods are safe for
// concurrent use. Track never blocks on delivery.
type Tracker struct {
	sender        Sender
	tickerFunc    TickerFunc
	interval      time.Duration
	batchSize     int
	maxQueueSize  int
	maxDataBytes  int
	maxBatchBytes int
	logger        *slog.Logger
	device        *DeviceResolver
	location      *LocationResolver
	now           func() time.Time
	sessionID     string
	initialOnline bool

	flushCh  chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// sendMu serializes flushes so batches leave in queue order.
	sendMu sync.Mutex

	// internal state (protected by mu)
	mu     sync.Mutex
	queue  []event.Event
	userID *string
	online bool
	closed bool
	lastTs time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBatchSize sets the queue length that triggers a flush.
func WithBatchSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// WithFlushInterval sets the interval flush period.
func WithFlushInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithMaxQueueSize sets the maximum queue size.
func WithMaxQueueSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxQueueSize = n
		}
	}
}

// WithMaxDataBytes sets the activityData size cap.
func WithMaxDataBytes(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxDataBytes = n
		}
	}
}

// WithMaxBatchBytes caps the encoded events sent in one request.
func WithMaxBatchBytes(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxBatchBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithTickerFunc sets the ticker factory (for testing).
func WithTickerFunc(tf TickerFunc) Option {
	return func(t *Tracker) { t.tickerFunc = tf }
}

// WithDeviceResolver sets the device context source.
func WithDeviceResolver(r *DeviceResolver) Option {
	return func(t *Tracker) { t.device = r }
}

// WithLocationResolver sets the location context source.
// Events carry whatever the resolver has cached at tracking time.
func WithLocationResolver(r *LocationResolver) Option {
	return func(t *Tracker) { t.location = r }
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(t *Tracker) {
		if id != "" {
			t.sessionID = id
		}
	}
}

// WithOnline sets the initial connectivity state. Default is online.
func WithOnline(online bool) Option {
	return func(t *Tracker) { t.initialOnline = online }
}

// New creates a Tracker delivering through sender.
// Call Run to start interval and threshold flushing.
func New(sender Sender, opts ...Option) *Tracker {
	t := &Tracker{
		sender:        sender,
		tickerFunc:    DefaultTickerFunc,
		interval:      DefaultFlushInterval,
		batchSize:     DefaultBatchSize,
		maxQueueSize:  DefaultMaxQueueSize,
		maxDataBytes:  DefaultMaxDataBytes,
		maxBatchBytes: DefaultMaxBatchBytes,
		logger:        slog.Default(),
		device:        NewDeviceResolver(ClientInfo{}),
		now:           time.Now,
		sessionID:     uuid.NewString(),
		initialOnline: true,
		flushCh:       make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.online = t.initialOnline
	t.queue = make([]event.Event, 0, t.batchSize)
	return t
}

// TrackOption adjusts a single Track call.
type TrackOption func(*trackOptions)

type trackOptions struct {
	immediate bool
}

// Immediate requests a flush right after the event is queued,
// regardless of queue length.
func Immediate() TrackOption {
	return func(o *trackOptions) { o.immediate = true }
}

// Track queues one event. It returns false when the type is unknown, the
// payload cannot be encoded, or the tracker is closed. Failures are logged
// and never propagate to the caller.
func (t *Tracker) Track(typ event.Type, p event.Payload, opts ...TrackOption) bool {
	var o trackOptions
	for _, opt := range opts {
		opt(&o)
	}

	if !typ.Valid() {
		t.logger.Debug("rejected unknown activity type", "activity_type", string(typ))
		metrics.EventsRejected.Inc()
		return false
	}

	var data event.Data
	if p != nil {
		data = p.Fields()
	}
	data, truncated, err := capData(data, t.maxDataBytes)
	if err != nil {
		t.logger.Debug("rejected unencodable activity data", "activity_type", string(typ), "error", err)
		metrics.EventsRejected.Inc()
		return false
	}
	if truncated {
		t.logger.Debug("truncated activity data", "activity_type", string(typ))
		metrics.EventsTruncated.Inc()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}

	// Keep timestamps non-decreasing within the session.
	ts := t.now().UTC()
	if ts.Before(t.lastTs) {
		ts = t.lastTs
	}
	t.lastTs = ts

	e := event.Event{
		Type:      typ,
		Data:      data,
		SessionID: t.sessionID,
		Device:    t.device.Resolve(),
		Location:  t.location.Current(),
		Timestamp: ts,
	}
	if t.userID != nil {
		e.UserID = event.StringPtr(*t.userID)
	}

	t.queue = append(t.queue, e)
	t.enforceMaxLocked()
	n := len(t.queue)
	t.mu.Unlock()

	metrics.EventsTracked.WithLabelValues(string(typ)).Inc()
	metrics.QueueLength.Set(float64(n))

	if o.immediate || n >= t.batchSize {
		t.triggerFlush()
	}
	return true
}

// enforceMaxLocked drops the oldest events beyond maxQueueSize.
// Must be called with mu held.
func (t *Tracker) enforceMaxLocked() {
	if len(t.queue) <= t.maxQueueSize {
		return
	}
	dropped := len(t.queue) - t.maxQueueSize
	t.queue = append(t.queue[:0:0], t.queue[dropped:]...)
	metrics.EventsDropped.Add(float64(dropped))
	t.logger.Warn("queue overflow, dropped oldest events", "dropped", dropped)
}

// SetUserID binds subsequent events to id. Already queued events keep
// the binding they were tracked with.
func (t *Tracker) SetUserID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" {
		t.userID = nil
		return
	}
	t.userID = event.StringPtr(id)
}

// ClearUserID makes subsequent events anonymous.
func (t *Tracker) ClearUserID() {
	t.SetUserID("")
}

// UserID returns the current user binding, or "" when anonymous.
func (t *Tracker) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.userID == nil {
		return ""
	}
	return *t.userID
}

// SessionID returns the session id stamped on every event.
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// QueueLength returns the current queue length (for testing/monitoring).
// Safe for concurrent use.
func (t *Tracker) QueueLength() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
