package api

import (
	"context"
	"net/http"

	"github.com/graaaaa/activity-telemetry/internal/app"
)

// handleAnalytics handles GET /api/v1/analytics
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTimeParam(q, "startDate")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	end, err := parseTimeParam(q, "endDate")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	result, err := s.analytics.Aggregate(ctx, app.AnalyticsQuery{
		UserID:  q.Get("userId"),
		Start:   start,
		End:     end,
		GroupBy: q.Get("groupBy"),
	})
	if err != nil {
		writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePopular handles GET /api/v1/analytics/popular
func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := parsePositiveParam(q, "days")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	limit, err := parsePositiveParam(q, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.queryTimeout)
	defer cancel()

	result, err := s.analytics.Popular(ctx, days, limit)
	if err != nil {
		writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
