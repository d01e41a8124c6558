package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbwatch/internal/alert"
	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// AlertEventStore defines the methods that the alert handler requires for
// fired-alert history.
type AlertEventStore interface {
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.AlertEvent, error)
}

// RuleSource exposes the configured alert rules and their evaluation state.
// Satisfied by the alert engine.
type RuleSource interface {
	Rules() []domain.AlertRule
	Status() []alert.RuleStatus
}

// AlertHandler serves alert rules and fired-alert history.
type AlertHandler struct {
	events AlertEventStore // optional; when nil, ListEvents returns 501
	rules  RuleSource
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler. events may be nil when
// persistence is not configured.
func NewAlertHandler(events AlertEventStore, rules RuleSource, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		events: events,
		rules:  rules,
		logger: logHandler(logger, "alert"),
	}
}

// listAlertEventsResponse wraps the fired-alert history response.
type listAlertEventsResponse struct {
	Events []domain.AlertEvent `json:"events"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListEvents returns fired alerts, newest first.
// GET /api/alerts/events?limit=50&offset=0&since=2026-01-01&until=2026-02-01
func (h *AlertHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "alert history not configured")
		return
	}

	opts := parseListOpts(r)
	events, err := h.events.ListRecent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list alert events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list alert events")
		return
	}

	if events == nil {
		events = []domain.AlertEvent{}
	}

	writeJSON(w, http.StatusOK, listAlertEventsResponse{
		Events: events,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// ruleView pairs one rule's configuration with its evaluation state.
type ruleView struct {
	Rule  domain.AlertRule `json:"rule"`
	State alert.RuleStatus `json:"state"`
}

// listRulesResponse wraps the configured rules response.
type listRulesResponse struct {
	Rules []ruleView `json:"rules"`
}

// ListRules returns the configured alert rules and each rule's state.
// GET /api/alerts/rules
func (h *AlertHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeJSON(w, http.StatusOK, listRulesResponse{Rules: []ruleView{}})
		return
	}

	rules := h.rules.Rules()
	states := h.rules.Status()

	views := make([]ruleView, 0, len(rules))
	for i, rule := range rules {
		v := ruleView{Rule: rule}
		if i < len(states) {
			v.State = states[i]
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, listRulesResponse{Rules: views})
}
