package api

import (
	"encoding/json"
	"net/http"

	"github.com/graaaaa/activity-telemetry/internal/ingest"
)

const (
	maxEventBodyBytes = 64 << 10
	maxBatchBodyBytes = 8 << 20
)

type ingestOneResponse struct {
	Success  bool  `json:"success"`
	StoredID int64 `json:"storedId"`
}

type ingestBatchResponse struct {
	Success bool `json:"success"`
	ingest.BatchResult
}

// handleIngestOne handles POST /api/v1/activities
func (s *Server) handleIngestOne(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBodyBytes)

	var in ingest.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeDecodeError(w, err)
		return
	}

	e, err := s.ingest.IngestOne(r.Context(), in, extractIP(r, s.trustForwarded))
	if err != nil {
		writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestOneResponse{Success: true, StoredID: e.ID})
}

// handleIngestBatch handles POST /api/v1/activities/batch.
// A body whose activities field is not an array is rejected whole;
// malformed items inside a well-formed array are skipped.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBodyBytes)

	var req ingest.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}
	req.ClientIP = extractIP(r, s.trustForwarded)

	res, err := s.ingest.IngestBatch(r.Context(), req)
	if err != nil {
		writeUsecaseError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ingestBatchResponse{Success: true, BatchResult: res})
}
