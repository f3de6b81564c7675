package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/graaaaa/activity-telemetry/internal/app"
	"github.com/graaaaa/activity-telemetry/internal/event"
	"github.com/graaaaa/activity-telemetry/internal/store"
)

// handleListActivities handles GET /api/v1/activities
func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := s.activities.List(r.Context(), filter)
	if err != nil {
		writeUsecaseError(w, err)
		return
	}
	if result.Items == nil {
		result.Items = []event.Event{}
	}
	writeJSON(w, http.StatusOK, result)
}

// parseListFilter parses query parameters into a ListFilter.
func parseListFilter(q url.Values) (store.ListFilter, error) {
	var (
		f   store.ListFilter
		err error
	)
	f.UserID = q.Get("userId")
	f.SessionID = q.Get("sessionId")

	if t := q.Get("activityType"); t != "" {
		if f.Type, err = event.ParseType(t); err != nil {
			return f, err
		}
	}
	if f.Start, err = parseTimeParam(q, "startDate"); err != nil {
		return f, err
	}
	if f.End, err = parseTimeParam(q, "endDate"); err != nil {
		return f, err
	}
	if f.Page, err = parsePositiveParam(q, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = parsePositiveParam(q, "limit"); err != nil {
		return f, err
	}

	switch sort := q.Get("sort"); sort {
	case "":
	case string(store.SortAsc), string(store.SortDesc):
		f.Sort = store.SortOrder(sort)
	default:
		return f, fmt.Errorf("invalid sort: %q", sort)
	}
	return f, nil
}

// parseTimeParam reads an RFC3339 timestamp or a YYYY-MM-DD date (midnight UTC).
func parseTimeParam(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, v)
	}
	return &t, nil
}

// parsePositiveParam reads an optional integer >= 1; absent yields 0.
func parsePositiveParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

type purgeRequest struct {
	Days *int `json:"days"`
}

// handlePurge handles POST /api/v1/activities/purge.
// An empty body purges with the default retention age.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<10)

	var req purgeRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeDecodeError(w, err)
		return
	}

	days := app.DefaultRetentionDays
	if req.Days != nil {
		days = *req.Days
	}

	result, err := s.retention.Purge(r.Context(), days)
	if err != nil {
		writeUsecaseError(w, err)
		return
	}
	s.logger.Info("purge requested via api", "days", days, "deleted", result.DeletedCount, "remote", extractIP(r, s.trustForwarded))
	writeJSON(w, http.StatusOK, result)
}
