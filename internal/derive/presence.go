// Package derive provides in-memory state derived from the ingested stream.
// It tracks which sessions and users are currently active.
package derive

import (
	"sort"
	"sync"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
)

// DefaultIdleTimeout is how long a session stays active after its last event.
const DefaultIdleTimeout = 5 * time.Minute

// DerivedEventType indicates what changed after processing an event.
type DerivedEventType int

const (
	// DerivedSessionStarted indicates the first event of a session not yet active.
	DerivedSessionStarted DerivedEventType = iota + 1
	// DerivedSessionEnded indicates a logout closed an active session.
	DerivedSessionEnded
	// DerivedUserIdentified indicates an anonymous session became bound to a user.
	DerivedUserIdentified
)

// String returns the wire name of the change.
func (t DerivedEventType) String() string {
	switch t {
	case DerivedSessionStarted:
		return "session_started"
	case DerivedSessionEnded:
		return "session_ended"
	case DerivedUserIdentified:
		return "user_identified"
	default:
		return "unknown"
	}
}

// DerivedEvent represents a presence change.
type DerivedEvent struct {
	Type    DerivedEventType
	Event   *event.Event // Original event that triggered this
	Session SessionInfo
}

// SessionInfo represents a currently active session.
type SessionInfo struct {
	SessionID    string     `json:"sessionId"`
	UserID       string     `json:"userId,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	LastSeenAt   time.Time  `json:"lastSeenAt"`
	Events       int        `json:"events"`
	LastActivity event.Type `json:"lastActivity"`
}

// Snapshot is the presence picture at one instant.
type Snapshot struct {
	ActiveSessions int           `json:"activeSessions"`
	ActiveUsers    int           `json:"activeUsers"`
	Sessions       []SessionInfo `json:"sessions"`
	At             time.Time     `json:"at"`
}

// State tracks active sessions derived from events.
// It is safe for concurrent use.
type State struct {
	idle time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	sessions  map[string]*SessionInfo
	lastPrune time.Time
}

// Option configures a State.
type Option func(*State)

// WithIdleTimeout sets how long a silent session stays active.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *State) {
		if d > 0 {
			s.idle = d
		}
	}
}

// WithClock sets the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// New creates a new State.
func New(opts ...Option) *State {
	s := &State{
		idle:     DefaultIdleTimeout,
		now:      time.Now,
		sessions: make(map[string]*SessionInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update processes an event and returns a derived event indicating changes.
// Returns nil if presence did not change in a notable way.
// Safe for concurrent use.
func (s *State) Update(e *event.Event) *DerivedEvent {
	if e == nil || e.SessionID == "" {
		return nil
	}

	// Liveness follows server receive time; client timestamps of an
	// offline backlog may be old.
	seen := e.IngestedAt
	if seen.IsZero() {
		seen = e.Timestamp
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Sessions that never send again are only forgotten here or in Snapshot.
	if now.Sub(s.lastPrune) >= s.idle {
		s.pruneLocked(now)
	}

	if e.Type == event.TypeLogout {
		info, ok := s.sessions[e.SessionID]
		if !ok {
			return nil
		}
		delete(s.sessions, e.SessionID)
		return &DerivedEvent{Type: DerivedSessionEnded, Event: e, Session: *info}
	}

	info, ok := s.sessions[e.SessionID]
	if ok && s.expired(info, now) {
		delete(s.sessions, e.SessionID)
		ok = false
	}
	if !ok {
		info = &SessionInfo{
			SessionID:  e.SessionID,
			UserID:     deref(e.UserID),
			StartedAt:  seen,
			LastSeenAt: seen,
		}
		s.sessions[e.SessionID] = info
		info.Events++
		info.LastActivity = e.Type
		return &DerivedEvent{Type: DerivedSessionStarted, Event: e, Session: *info}
	}

	info.Events++
	info.LastActivity = e.Type
	if seen.After(info.LastSeenAt) {
		info.LastSeenAt = seen
	}
	if info.UserID == "" && deref(e.UserID) != "" {
		info.UserID = *e.UserID
		return &DerivedEvent{Type: DerivedUserIdentified, Event: e, Session: *info}
	}
	return nil
}

func (s *State) expired(info *SessionInfo, now time.Time) bool {
	return now.Sub(info.LastSeenAt) > s.idle
}

// pruneLocked forgets idle sessions. Must be called with mu held.
func (s *State) pruneLocked(now time.Time) {
	for id, info := range s.sessions {
		if s.expired(info, now) {
			delete(s.sessions, id)
		}
	}
	s.lastPrune = now
}

// Snapshot returns the active sessions, most recently seen first, and
// forgets sessions idle longer than the timeout.
// Safe for concurrent use.
func (s *State) Snapshot() Snapshot {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)

	snap := Snapshot{Sessions: make([]SessionInfo, 0, len(s.sessions)), At: now}
	users := make(map[string]struct{})
	for _, info := range s.sessions {
		snap.Sessions = append(snap.Sessions, *info)
		if info.UserID != "" {
			users[info.UserID] = struct{}{}
		}
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		a, b := snap.Sessions[i], snap.Sessions[j]
		if !a.LastSeenAt.Equal(b.LastSeenAt) {
			return a.LastSeenAt.After(b.LastSeenAt)
		}
		return a.SessionID < b.SessionID
	})
	snap.ActiveSessions = len(snap.Sessions)
	snap.ActiveUsers = len(users)
	return snap
}

// SessionCount returns the number of tracked sessions, including ones
// not yet pruned.
// Safe for concurrent use.
func (s *State) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
