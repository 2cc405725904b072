package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/call-insights/internal/pipeline"
)

// ProcessResponse is the success body of the trigger endpoint. Message is
// fixed for compatibility with existing callers; Summary carries the
// per-stage counts, including per-item failures that did not fail the run.
type ProcessResponse struct {
	Message string            `json:"message"`
	Summary *pipeline.Summary `json:"summary"`
}

// handleProcess triggers one ingestion-and-classification run. Optional
// fromDateTime/toDateTime query parameters (ISO-8601 with offset) narrow the
// window; absent parameters fall back to the configured default range.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("fromDateTime")
	if from == "" {
		from = s.cfg.DefaultFrom
	}
	to := r.URL.Query().Get("toDateTime")
	if to == "" {
		to = s.cfg.DefaultTo
	}

	if _, err := time.Parse(time.RFC3339, from); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "fromDateTime must be ISO-8601 with offset")
		return
	}
	if _, err := time.Parse(time.RFC3339, to); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "toDateTime must be ISO-8601 with offset")
		return
	}

	opts := pipeline.Options{
		FromDateTime: from,
		ToDateTime:   to,
		BatchSize:    s.cfg.BatchSize,
	}
	if ids := r.URL.Query().Get("callIds"); ids != "" {
		opts.CallIDs = strings.Split(ids, ",")
	}

	summary, err := s.run(r.Context(), opts)
	if err != nil {
		s.log.WithError(err).Error("pipeline run failed")
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, ProcessResponse{
		Message: "Processing complete",
		Summary: summary,
	})
}
