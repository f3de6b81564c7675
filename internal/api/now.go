package api

import (
	"net/http"
)

// handleNow handles GET /api/v1/now requests.
func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.presence.Now(r.Context()))
}
