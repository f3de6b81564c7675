package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
)

// Run starts the delivery loop. It flushes on the interval ticker and
// whenever Track, SetOnline or an immediate event signals.
// Blocks until Close is called or ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	defer close(t.doneCh)

	ticker := t.tickerFunc(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.flushCh:
			t.flushLogged(ctx)

		case <-ticker.C():
			t.flushLogged(ctx)

		case <-t.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// Done is closed when Run returns.
func (t *Tracker) Done() <-chan struct{} {
	return t.doneCh
}

func (t *Tracker) triggerFlush() {
	// Non-blocking send to flush channel
	select {
	case t.flushCh <- struct{}{}:
	default:
	}
}

func (t *Tracker) flushLogged(ctx context.Context) {
	err := t.Flush(ctx)
	if err == nil || errors.Is(err, ErrOffline) || errors.Is(err, ErrClosed) {
		return
	}
	t.logger.Warn("flush failed", "error", err, "queue_size", t.QueueLength())
}

// Flush sends every queued event in chunks of at most batchSize events and
// maxBatchBytes of encoded events. While offline nothing is sent and the
// queue is left untouched. A chunk the server finds too large is split in
// half and retried. On a transient failure the unsent events are put back
// at the front of the queue in their original order, ahead of anything
// tracked meanwhile.
func (t *Tracker) Flush(ctx context.Context) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if !t.online {
		t.mu.Unlock()
		metrics.Flushes.WithLabelValues("offline").Inc()
		return ErrOffline
	}
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return nil
	}

	// Take ownership of queue
	pending := t.queue
	t.queue = make([]event.Event, 0, t.batchSize)
	t.mu.Unlock()
	metrics.QueueLength.Set(0)

	var rejected error
	chunks := t.chunk(pending)
	for len(chunks) > 0 {
		c := chunks[0]
		err := t.sender.Send(ctx, t.batch(c))
		switch {
		case err == nil:
			metrics.Flushes.WithLabelValues("ok").Inc()
			chunks = chunks[1:]

		case errors.Is(err, ErrBatchTooLarge) && len(c) > 1:
			metrics.Flushes.WithLabelValues("split").Inc()
			half := len(c) / 2
			chunks = append([][]event.Event{c[:half:half], c[half:]}, chunks[1:]...)

		case errors.Is(err, ErrBatchRejected), errors.Is(err, ErrBatchTooLarge):
			metrics.Flushes.WithLabelValues("rejected").Inc()
			metrics.EventsDropped.Add(float64(len(c)))
			t.logger.Error("batch rejected by server, dropping", "events", len(c), "error", err)
			if rejected == nil {
				rejected = err
			}
			chunks = chunks[1:]

		default:
			metrics.Flushes.WithLabelValues("failed").Inc()
			t.requeue(flatten(chunks))
			return fmt.Errorf("send batch: %w", err)
		}
	}
	if rejected != nil {
		return fmt.Errorf("send batch: %w", rejected)
	}
	return nil
}

// batch wraps events with the session. The user binding travels on each
// event as it was when the event was tracked.
func (t *Tracker) batch(events []event.Event) Batch {
	return Batch{Activities: events, SessionID: t.sessionID}
}

// chunk splits events into delivery-sized runs, preserving order.
// A single event larger than the byte budget gets a chunk of its own.
func (t *Tracker) chunk(events []event.Event) [][]event.Event {
	var chunks [][]event.Event
	start, size := 0, 0
	for i, e := range events {
		n := encodedSize(e)
		if i > start && (i-start >= t.batchSize || size+n > t.maxBatchBytes) {
			chunks = append(chunks, events[start:i:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(events) {
		chunks = append(chunks, events[start:])
	}
	return chunks
}

func encodedSize(e event.Event) int {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return len(b) + 1
}

func flatten(chunks [][]event.Event) []event.Event {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]event.Event, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func (t *Tracker) requeue(events []event.Event) {
	t.mu.Lock()
	if t.closed {
		// Close already handed off the rest of the queue.
		t.mu.Unlock()
		t.handOff(events)
		return
	}
	merged := make([]event.Event, 0, len(events)+len(t.queue))
	merged = append(merged, events...)
	merged = append(merged, t.queue...)
	t.queue = merged
	t.enforceMaxLocked()
	n := len(t.queue)
	t.mu.Unlock()
	metrics.QueueLength.Set(float64(n))
}

// SetOnline records connectivity. Going offline suspends delivery;
// coming back online triggers an immediate flush.
func (t *Tracker) SetOnline(online bool) {
	t.mu.Lock()
	was := t.online
	t.online = online
	t.mu.Unlock()

	if online && !was {
		t.triggerFlush()
	}
}

// Online reports the current connectivity state.
func (t *Tracker) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Close is the teardown path. It stops the delivery loop and hands any
// queued events to the sender's best-effort path without waiting for the
// result. Tracking after Close returns false. Safe to call multiple times.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		pending := t.queue
		t.queue = nil
		t.mu.Unlock()

		close(t.stopCh)
		metrics.QueueLength.Set(0)

		t.handOff(pending)
	})
}

// WaitIdle blocks until no flush is in progress or ctx ends. Once it
// returns nil after Close, the tracker starts no further sends, so a host
// can then wait on the sender's best-effort deliveries.
func (t *Tracker) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		t.sendMu.Lock()
		t.sendMu.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handOff passes events to the best-effort path in delivery-sized chunks.
func (t *Tracker) handOff(events []event.Event) {
	if len(events) == 0 {
		return
	}
	be, ok := t.sender.(BestEffortSender)
	if !ok {
		t.logger.Debug("sender has no best-effort path, events lost", "events", len(events))
		return
	}
	for _, c := range t.chunk(events) {
		be.SendBestEffort(t.batch(c))
	}
}
