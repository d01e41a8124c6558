package handler

import (
	"net/http"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// MatchSource exposes the cross-source matches from the most recent
// evaluation pass. Satisfied by the monitor's evaluator.
type MatchSource interface {
	LastMatches() []domain.EventMatch
}

// MatchHandler serves the current cross-source matches.
type MatchHandler struct {
	matches MatchSource // optional; when nil, endpoints return 501
}

// NewMatchHandler creates a MatchHandler. matches may be nil when this
// process does not evaluate.
func NewMatchHandler(matches MatchSource) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// listMatchesResponse wraps the current matches response.
type listMatchesResponse struct {
	Matches []domain.EventMatch `json:"matches"`
}

// ListMatches returns every cross-source match found in the latest
// evaluation pass, including ones whose announcement was suppressed as a
// repeat.
// GET /api/matches
func (h *MatchHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	if h.matches == nil {
		writeError(w, http.StatusNotImplemented, "matching not running in this mode")
		return
	}

	matches := h.matches.LastMatches()
	if matches == nil {
		matches = []domain.EventMatch{}
	}

	writeJSON(w, http.StatusOK, listMatchesResponse{Matches: matches})
}
