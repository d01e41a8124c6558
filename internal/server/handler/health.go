package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/ratelimit"
)

// SourceHealth exposes per-source polling health. Satisfied by the monitor's
// snapshot table.
type SourceHealth interface {
	Healthy() bool
	Statuses() []domain.SourceStatus
}

// LimiterStatus exposes the outbound rate limiter state per source.
type LimiterStatus interface {
	Snapshot() []ratelimit.Status
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	sources SourceHealth  // optional; nil in API-only deployments
	limits  LimiterStatus // optional
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. sources and limits may be nil
// when the process is not polling.
func NewHealthHandler(sources SourceHealth, limits LimiterStatus, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		sources: sources,
		limits:  limits,
		logger:  logHandler(logger, "health"),
	}
}

// healthResponse is the health-check response body. Source statuses and
// limiter snapshots marshal with their Go field names.
type healthResponse struct {
	Status    string                `json:"status"` // "ok" or "degraded"
	Timestamp string                `json:"timestamp"`
	Sources   []domain.SourceStatus `json:"sources"`
	Limits    []ratelimit.Status    `json:"limits,omitempty"`
}

// HealthCheck reports process liveness plus, when this process polls, the
// per-source health and rate limiter state. The response is always 200;
// "degraded" in the body means at least one source is unhealthy.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Sources:   []domain.SourceStatus{},
	}

	if h.sources != nil {
		resp.Sources = h.sources.Statuses()
		if !h.sources.Healthy() {
			resp.Status = "degraded"
		}
	}
	if h.limits != nil {
		resp.Limits = h.limits.Snapshot()
	}

	writeJSON(w, http.StatusOK, resp)
}
