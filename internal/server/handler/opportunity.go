package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// OpportunityService defines the methods that the opportunity handler
// requires.
type OpportunityService interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

// OpportunityHandler serves detected-opportunity history.
type OpportunityHandler struct {
	opps   OpportunityService // optional; when nil, endpoints return 501
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. opps may be nil when
// persistence is not configured.
func NewOpportunityHandler(opps OpportunityService, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{
		opps:   opps,
		logger: logHandler(logger, "opportunity"),
	}
}

// listOpportunitiesResponse wraps the recent opportunities response.
type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
}

// ListRecent returns the most recently detected opportunities, newest first.
// GET /api/opportunities/recent?limit=20
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.opps == nil {
		writeError(w, http.StatusNotImplemented, "opportunity history not configured")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	opps, err := h.opps.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	if opps == nil {
		opps = []domain.Opportunity{}
	}

	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}
