// Package app provides application use cases.
package app

import (
	"context"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/store"
)

// HealthUsecase defines the health check use case.
type HealthUsecase interface {
	Handle(ctx context.Context) (HealthResult, error)
}

// HealthResult represents the health check response.
type HealthResult struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	LastActivityAt *string `json:"lastActivityAt,omitempty"`
}

// LastActivityReader reports the newest stored activity.
type LastActivityReader interface {
	LastActivityTime(ctx context.Context) (time.Time, error)
}

// HealthService implements HealthUsecase.
type HealthService struct {
	Version string
	Store   LastActivityReader
}

// Handle returns the current health status. A store that cannot be read
// reports "degraded" rather than failing the check.
func (s HealthService) Handle(ctx context.Context) (HealthResult, error) {
	res := HealthResult{
		Status:  "ok",
		Version: s.Version,
	}
	if s.Store == nil {
		return res, nil
	}

	last, err := s.Store.LastActivityTime(ctx)
	if err != nil {
		res.Status = "degraded"
		return res, nil
	}
	if !last.IsZero() {
		ts := last.UTC().Format(store.TimeFormat)
		res.LastActivityAt = &ts
	}
	return res, nil
}
