package api

import (
	"net/http"

	"github.com/graaaaa/activity-telemetry/internal/api/dashtoken"
)

// tokenResponse is the response for POST /api/v1/auth/token.
type tokenResponse struct {
	Token     string            `json:"token"`
	Scopes    []dashtoken.Scope `json:"scopes"`
	ExpiresIn int               `json:"expiresIn"` // seconds
}

// handleAuthToken handles POST /api/v1/auth/token requests.
// Requires Basic Auth. Issues a short-lived dashboard token for the read
// and stream surfaces.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	scopes := []dashtoken.Scope{dashtoken.ScopeRead, dashtoken.ScopeStream}
	token, err := s.tokens.Issue(scopes...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Scopes:    scopes,
		ExpiresIn: int(s.tokens.TTL().Seconds()),
	})
}
