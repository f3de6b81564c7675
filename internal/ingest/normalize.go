package ingest

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/metrics"
)

// Clock provides time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultClock is used unless a test injects another.
var DefaultClock Clock = realClock{}

// ServerSessionPrefix marks session ids assigned by the server.
const ServerSessionPrefix = "srv-"

// ambient holds the batch-level defaults applied to each item.
type ambient struct {
	sessionID string
	userID    *string
	clientIP  string
}

// normalizeError carries the skip reason for metrics.
type normalizeError struct {
	reason string
	err    error
}

func (e *normalizeError) Error() string { return e.err.Error() }
func (e *normalizeError) Unwrap() error { return e.err }

func skipReason(err error) string {
	var ne *normalizeError
	if errors.As(err, &ne) {
		return ne.reason
	}
	return reasonMalformed
}

// normalize validates the envelope of in and fills missing fields: session id from the item,
// then the batch, then a fresh server id; user id from the item, then the
// batch; timestamp from the item, then now; location IP from the item, then
// the client address.
func normalize(in Input, amb ambient, clk Clock) (*event.Event, error) {
	typ, err := event.ParseType(in.Type)
	if err != nil {
		return nil, &normalizeError{reason: reasonUnknownType, err: err}
	}
	// Only the envelope is enforced. Data that does not fit the typed
	// variant is stored as sent.
	if _, err := event.DecodePayload(typ, in.Data); err != nil {
		metrics.PayloadMismatches.WithLabelValues(string(typ)).Inc()
	}

	now := clk.Now().UTC()
	e := &event.Event{
		Type:       typ,
		Data:       in.Data,
		SessionID:  firstNonEmpty(in.SessionID, amb.sessionID),
		UserID:     firstUser(in.UserID, amb.userID),
		Device:     in.Device,
		Timestamp:  now,
		IngestedAt: now,
	}
	if e.SessionID == "" {
		e.SessionID = ServerSessionPrefix + uuid.NewString()
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		e.Timestamp = in.Timestamp.UTC()
	}

	if in.Location != nil {
		loc := *in.Location
		e.Location = &loc
	}
	if amb.clientIP != "" && (e.Location == nil || e.Location.IP == "") {
		if e.Location == nil {
			e.Location = &event.LocationContext{}
		}
		e.Location.IP = amb.clientIP
	}

	return e, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstUser(vals ...*string) *string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return event.StringPtr(*v)
		}
	}
	return nil
}
