package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/store"
)

const (
	// heartbeatInterval is the interval for sending SSE heartbeat comments.
	heartbeatInterval = 20 * time.Second

	// replayPageSize is the number of events fetched per page during replay.
	replayPageSize = 100

	// replayMaxPages limits the number of pages replayed (best-effort).
	replayMaxPages = 5
)

// handleStream handles GET /api/v1/stream (SSE).
// ?activityType=a,b restricts the feed; Last-Event-ID (header or
// ?lastEventId=) replays stored events the client missed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	types, err := parseTypeList(r.URL.Query().Get("activityType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before replaying so nothing stored in between is lost.
	sub := s.hub.Subscribe(types...)
	defer s.hub.Unsubscribe(sub)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}
	var replayed map[int64]struct{}
	if lastEventID != "" {
		replayed, err = s.replay(r.Context(), w, lastEventID, sub)
		if err != nil {
			s.logger.Debug("stream replay stopped", "error", err)
		}
		flusher.Flush()
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if _, dup := replayed[e.ID]; dup {
				continue
			}
			writeSSEEvent(w, e)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ":\n\n")
			flusher.Flush()

		case <-ctx.Done():
			return

		case <-sub.Done():
			return
		}
	}
}

// replay writes stored events after cursor, oldest first, and returns the
// ids written. An undecodable cursor skips replay silently.
func (s *Server) replay(ctx context.Context, w io.Writer, cursor string, sub *Subscriber) (map[int64]struct{}, error) {
	written := make(map[int64]struct{})
	for page := 0; page < replayMaxPages; page++ {
		items, next, err := s.activities.After(ctx, cursor, replayPageSize)
		if err != nil {
			if errors.Is(err, store.ErrInvalidCursor) {
				return written, nil
			}
			return written, err
		}
		for _, e := range items {
			if !sub.wants(e.Type) {
				continue
			}
			writeSSEEvent(w, e)
			written[e.ID] = struct{}{}
		}
		if len(items) < replayPageSize {
			break
		}
		cursor = next
	}
	return written, nil
}

// parseTypeList parses a comma-separated list of activity types.
func parseTypeList(s string) ([]event.Type, error) {
	if s == "" {
		return nil, nil
	}
	var types []event.Type
	for _, part := range strings.Split(s, ",") {
		t, err := event.ParseType(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

// writeSSEEvent writes a single event in SSE format. The id is the
// store cursor of the event so a reconnecting client resumes after it.
func writeSSEEvent(w io.Writer, e event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\n", store.EncodeCursor(e.Timestamp, e.ID))
	fmt.Fprintf(w, "event: %s\n", e.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
