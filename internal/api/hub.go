package api

import (
	"log/slog"
	"sync"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
)

const (
	defaultSubscriberBufferSize = 64
	defaultBroadcastBufferSize  = 256
)

// Subscriber is one live-feed connection.
type Subscriber struct {
	events chan event.Event
	done   chan struct{}
	types  map[event.Type]struct{}
}

// Events returns the channel for receiving events.
func (s *Subscriber) Events() <-chan event.Event {
	return s.events
}

// Done returns a channel that is closed when the subscriber is unsubscribed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) wants(t event.Type) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

func (s *Subscriber) close() {
	close(s.done)
	close(s.events)
}

// Hub fans stored events out to live-feed subscribers.
// A single goroutine owns the subscriber set; all access goes through channels.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan event.Event
	stop       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once

	subscriberBufferSize int
	logger               *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubSubscriberBufferSize sets the buffer size for subscriber event channels.
func WithHubSubscriberBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.subscriberBufferSize = size
		}
	}
}

// WithHubLogger sets the logger for the Hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a new hub. Call Run to start its event loop.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		register:             make(chan *Subscriber),
		unregister:           make(chan *Subscriber),
		broadcast:            make(chan event.Event, defaultBroadcastBufferSize),
		stop:                 make(chan struct{}),
		stopped:              make(chan struct{}),
		subscriberBufferSize: defaultSubscriberBufferSize,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's event loop and blocks until Stop is called.
func (h *Hub) Run() {
	clients := make(map[*Subscriber]struct{})
	defer close(h.stopped)

	for {
		select {
		case sub := <-h.register:
			clients[sub] = struct{}{}
			metrics.StreamClients.Set(float64(len(clients)))
			h.logger.Debug("subscriber registered", "count", len(clients))

		case sub := <-h.unregister:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				sub.close()
				metrics.StreamClients.Set(float64(len(clients)))
				h.logger.Debug("subscriber unregistered", "count", len(clients))
			}

		case e := <-h.broadcast:
			for sub := range clients {
				if !sub.wants(e.Type) {
					continue
				}
				select {
				case sub.events <- e:
				default:
					// Slow subscriber; it can catch up with Last-Event-ID.
					metrics.StreamDropped.Inc()
					h.logger.Warn("subscriber channel full, event dropped",
						"activity_id", e.ID,
						"activity_type", e.Type,
					)
				}
			}

		case <-h.stop:
			for sub := range clients {
				sub.close()
			}
			metrics.StreamClients.Set(0)
			return
		}
	}
}

// Stop stops the hub's event loop and waits for it to exit.
// Safe to call multiple times.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.stopped
}

// Subscribe creates a new subscriber receiving the given activity types,
// or every type when none are given. The caller must call Unsubscribe.
func (h *Hub) Subscribe(types ...event.Type) *Subscriber {
	sub := &Subscriber{
		events: make(chan event.Event, h.subscriberBufferSize),
		done:   make(chan struct{}),
	}
	if len(types) > 0 {
		sub.types = make(map[event.Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	select {
	case h.register <- sub:
	case <-h.stopped:
		sub.close()
	}
	return sub
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	select {
	case h.unregister <- sub:
	case <-h.stopped:
	}
}

// Publish queues e for every interested subscriber. It never blocks: when
// the broadcast buffer is full the event is dropped from the live feed.
// Its signature matches ingest.InsertHook.
func (h *Hub) Publish(e event.Event) {
	select {
	case h.broadcast <- e:
	case <-h.stopped:
	default:
		metrics.StreamDropped.Inc()
		h.logger.Warn("broadcast channel full, event dropped",
			"activity_id", e.ID,
			"activity_type", e.Type,
		)
	}
}
