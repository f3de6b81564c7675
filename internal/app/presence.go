package app

import (
	"context"

	"github.com/graaaaa/activity-telemetry/internal/derive"
)

// PresenceUsecase defines the live presence use case.
type PresenceUsecase interface {
	// Now returns the currently active sessions and users.
	Now(ctx context.Context) derive.Snapshot
}

// PresenceService implements PresenceUsecase by wrapping derive.State.
type PresenceService struct {
	State *derive.State
}

// Now returns the current presence snapshot.
func (s PresenceService) Now(ctx context.Context) derive.Snapshot {
	return s.State.Snapshot()
}
