// Package ingest accepts client-submitted activity events, fills in
// server-side defaults, validates them, and persists them in bulk.
package ingest

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// Sentinel errors for the ingest package.
var (
	// ErrEmptyBatch is returned when a batch holds no activities.
	ErrEmptyBatch = errors.New("batch contains no activities")

	// ErrBatchTooLarge is returned when a batch exceeds the configured maximum.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrInvalidInput is returned by IngestOne for an event that cannot be stored.
	ErrInvalidInput = errors.New("invalid activity")
)

// Input is one event as submitted by a client. Every field except
// activityType is optional.
type Input struct {
	Type      string                 `json:"activityType"`
	Data      event.Data             `json:"activityData,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	UserID    *string                `json:"userId,omitempty"`
	Device    *event.DeviceContext   `json:"deviceInfo,omitempty"`
	Location  *event.LocationContext `json:"location,omitempty"`
	Timestamp *time.Time             `json:"timestamp,omitempty"`
}

// BatchRequest is the body of a batch submission. Items stay raw so one
// malformed item can be skipped without rejecting the batch.
type BatchRequest struct {
	Activities []json.RawMessage `json:"activities"`
	SessionID  string            `json:"sessionId,omitempty"`
	UserID     *string           `json:"userId,omitempty"`

	// ClientIP is the submitting peer, used when an item carries no location IP.
	ClientIP string `json:"-"`
}

// BatchResult reports how many items were stored and how many were skipped.
type BatchResult struct {
	Stored  int `json:"storedCount"`
	Skipped int `json:"skippedCount"`
}

// skip reasons, used as metric labels
const (
	reasonMalformed   = "malformed"
	reasonUnknownType = "unknown_type"
)
