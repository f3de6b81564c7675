package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// BatchPath is the ingestion route batches are posted to.
const BatchPath = "/api/v1/activities/batch"

var (
	// ErrDeliveryFailed is returned for transient delivery errors. The batch is re-queued.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrBatchRejected is returned when the server refuses a batch as malformed.
	// Retrying the same batch cannot succeed, so it is dropped.
	ErrBatchRejected = errors.New("batch rejected by server")

	// ErrBatchTooLarge is returned when the server refuses a batch for its size.
	// Smaller batches of the same events can still succeed.
	ErrBatchTooLarge = errors.New("batch too large for server")
)

// Batch is the wire form of one delivery. It carries no ambient user;
// each event holds its own binding.
type Batch struct {
	Activities []event.Event `json:"activities"`
	SessionID  string        `json:"sessionId,omitempty"`
}

// Sender delivers a batch and reports whether it was accepted.
type Sender interface {
	Send(ctx context.Context, b Batch) error
}

// BestEffortSender hands a batch off without waiting for or reporting the
// outcome. Used only on teardown.
type BestEffortSender interface {
	SendBestEffort(b Batch)
}

// HTTPSender posts batches to the ingestion server.
// Confirmed sends go through a circuit breaker; while it is open, sends
// fail fast and the tracker keeps the events queued.
type HTTPSender struct {
	endpoint          string
	client            *http.Client
	breaker           *gobreaker.CircuitBreaker
	logger            *slog.Logger
	bestEffortTimeout time.Duration
	tripAfter         uint32
	openTimeout       time.Duration
	userAgent         string

	inflight sync.WaitGroup
}

// SenderOption configures an HTTPSender.
type SenderOption func(*HTTPSender)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) SenderOption {
	return func(s *HTTPSender) { s.client = client }
}

// WithSenderLogger sets the logger.
func WithSenderLogger(logger *slog.Logger) SenderOption {
	return func(s *HTTPSender) { s.logger = logger }
}

// WithBestEffortTimeout bounds a teardown send.
func WithBestEffortTimeout(d time.Duration) SenderOption {
	return func(s *HTTPSender) {
		if d > 0 {
			s.bestEffortTimeout = d
		}
	}
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open before a trial request is allowed.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) SenderOption {
	return func(s *HTTPSender) {
		if consecutiveFailures > 0 {
			s.tripAfter = consecutiveFailures
		}
		if openFor > 0 {
			s.openTimeout = openFor
		}
	}
}

// WithUserAgent sets the User-Agent header on every post.
func WithUserAgent(ua string) SenderOption {
	return func(s *HTTPSender) { s.userAgent = ua }
}

// NewHTTPSender creates a sender for the server at baseURL.
func NewHTTPSender(baseURL string, opts ...SenderOption) *HTTPSender {
	s := &HTTPSender{
		endpoint:          strings.TrimRight(baseURL, "/") + BatchPath,
		client:            &http.Client{Timeout: 10 * time.Second},
		logger:            slog.Default(),
		bestEffortTimeout: 2 * time.Second,
		tripAfter:         5,
		openTimeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "activity-delivery",
		MaxRequests: 1,
		Timeout:     s.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.tripAfter
		},
		// A rejected batch says nothing about server health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrBatchRejected) || errors.Is(err, ErrBatchTooLarge)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("delivery breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, b Batch) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, b)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return err
}

// SendBestEffort implements BestEffortSender. It returns immediately;
// the post runs in the background and its outcome is discarded.
func (s *HTTPSender) SendBestEffort(b Batch) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.bestEffortTimeout)
		defer cancel()
		if err := s.post(ctx, b); err != nil {
			s.logger.Debug("best-effort delivery lost", "events", len(b.Activities), "error", err)
		}
	}()
}

// WaitBestEffort waits for background sends to finish or ctx to end.
// Hosts that can afford a short grace period on exit call this after the
// tracker has gone idle (see Tracker.WaitIdle).
func (s *HTTPSender) WaitBestEffort(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *HTTPSender) post(ctx context.Context, b Batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: marshal batch: %v", ErrBatchRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Debug("batch delivered", "events", len(b.Activities), "status", resp.StatusCode)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: rate limited", ErrDeliveryFailed)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return fmt.Errorf("%w: %d events", ErrBatchTooLarge, len(b.Activities))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: status %d", ErrBatchRejected, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
	}
}
