package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/alert"
	"github.com/alanyoungcy/arbwatch/internal/pipeline"
)

// EvaluationStatus exposes the result of the most recent evaluation pass.
// Satisfied by the monitor's evaluator.
type EvaluationStatus interface {
	LastSummary() (pipeline.Summary, bool)
}

// RuleStates exposes the alert rules' evaluation state.
type RuleStates interface {
	Status() []alert.RuleStatus
}

// StatusHandler serves the backend status for dashboards: run mode, uptime,
// the latest evaluation summary, and alert rule state.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	eval      EvaluationStatus // optional; nil in API-only deployments
	rules     RuleStates       // optional
}

// NewStatusHandler creates a StatusHandler. eval and rules may be nil when
// the process is not evaluating.
func NewStatusHandler(mode string, startedAt time.Time, eval EvaluationStatus, rules RuleStates) *StatusHandler {
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		eval:      eval,
		rules:     rules,
	}
}

// statusResponse is the status endpoint response body.
type statusResponse struct {
	Mode           string             `json:"mode"`
	StartedAt      string             `json:"started_at"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
	LastEvaluation *pipeline.Summary  `json:"last_evaluation,omitempty"`
	Rules          []alert.RuleStatus `json:"rules"`
}

// GetStatus responds with the current run mode, uptime, the most recent
// evaluation summary when this process evaluates, and per-rule alert state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	resp := statusResponse{
		Mode:          h.mode,
		StartedAt:     h.startedAt.UTC().Format(time.RFC3339),
		UptimeSeconds: uptime,
		Rules:         []alert.RuleStatus{},
	}

	if h.eval != nil {
		if sum, ok := h.eval.LastSummary(); ok {
			resp.LastEvaluation = &sum
		}
	}
	if h.rules != nil {
		resp.Rules = h.rules.Status()
	}

	writeJSON(w, http.StatusOK, resp)
}
