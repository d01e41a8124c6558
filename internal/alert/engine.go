// Package alert evaluates user-configured probability rules against market
// observations. Rules are edge-triggered: a rule fires on the transition into
// its satisfied condition and re-arms only after the condition has lapsed,
// bounded further by its cooldown and once settings.
package alert

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// ruleState tracks one rule's position in the armed / fired / done cycle.
type ruleState struct {
	active       bool
	conditionMet bool
	everFired    bool
	lastFiredAt  time.Time
}

// RuleStatus is a read-only snapshot of a rule and its state for the status
// API.
type RuleStatus struct {
	Name         string
	MarketID     string
	Severity     domain.Severity
	Active       bool
	ConditionMet bool
	EverFired    bool
	LastFiredAt  *time.Time
}

// Engine owns the rule set and all evaluation state: per-rule firing state
// and the last observed probability per market. All state is private to the
// engine instance; two engines never share anything.
type Engine struct {
	mu     sync.Mutex
	rules  []domain.AlertRule
	states []*ruleState
	prev   map[string]float64
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine validates the rules and builds an engine. Rules without a name
// get a positional one.
func NewEngine(rules []domain.AlertRule, logger *slog.Logger) (*Engine, error) {
	owned := make([]domain.AlertRule, len(rules))
	copy(owned, rules)

	states := make([]*ruleState, len(owned))
	for i := range owned {
		if err := owned[i].Validate(); err != nil {
			return nil, fmt.Errorf("alert: rule %d: %w", i, err)
		}
		if strings.TrimSpace(owned[i].Name) == "" {
			owned[i].Name = fmt.Sprintf("rule-%d", i)
		}
		states[i] = &ruleState{active: true}
	}

	return &Engine{
		rules:  owned,
		states: states,
		prev:   make(map[string]float64),
		logger: logger.With(slog.String("component", "alert")),
		now:    time.Now,
	}, nil
}

// Evaluate runs every rule for the event's market against the previous
// observation and returns the alerts that fire. The previous-probability
// record advances only after all rules have seen the event, so every rule in
// a cycle compares against the same prior value.
func (e *Engine) Evaluate(ev domain.MarketEvent) []domain.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var prev *float64
	if p, ok := e.prev[ev.MarketID]; ok {
		v := p
		prev = &v
	}

	var fired []domain.AlertEvent
	for i := range e.rules {
		rule := &e.rules[i]
		if rule.MarketID != ev.MarketID {
			continue
		}
		if a := e.evaluateRule(rule, e.states[i], ev, prev); a != nil {
			e.logger.Info("alert fired",
				slog.String("rule", rule.Name),
				slog.String("market_id", ev.MarketID),
				slog.String("severity", string(a.Severity)),
				slog.String("reason", a.Reason))
			fired = append(fired, *a)
		}
	}

	e.prev[ev.MarketID] = ev.Probability
	return fired
}

func (e *Engine) evaluateRule(rule *domain.AlertRule, st *ruleState, ev domain.MarketEvent, prev *float64) *domain.AlertEvent {
	triggered := false
	reason := ""

	if rule.MinProbability != nil && ev.Probability >= *rule.MinProbability {
		triggered = true
		reason = fmt.Sprintf("probability %.4f >= min %.4f", ev.Probability, *rule.MinProbability)
	}
	if rule.MaxProbability != nil && ev.Probability <= *rule.MaxProbability {
		triggered = true
		reason = fmt.Sprintf("probability %.4f <= max %.4f", ev.Probability, *rule.MaxProbability)
	}

	var delta *float64
	if rule.MinDelta != nil && prev != nil {
		d := math.Abs(ev.Probability - *prev)
		delta = &d
		if d >= *rule.MinDelta {
			triggered = true
			reason = fmt.Sprintf("delta %.4f >= min %.4f", d, *rule.MinDelta)
		}
	}

	// The condition lapsing re-arms the rule for the next rising edge.
	if !triggered {
		st.conditionMet = false
		return nil
	}
	if !st.active {
		return nil
	}
	if rule.Once && st.everFired {
		return nil
	}
	if st.conditionMet {
		return nil
	}
	if !st.lastFiredAt.IsZero() && rule.Cooldown > 0 {
		if e.now().Sub(st.lastFiredAt) < rule.Cooldown {
			return nil
		}
	}

	severity := e.escalate(rule, ev, delta)

	finalReason := reason
	if rule.ReasonTemplate != "" {
		vars := reasonVars{
			MarketID:    ev.MarketID,
			Probability: ev.Probability,
			Severity:    severity,
		}
		if delta != nil {
			vars.Delta = *delta
		}
		if rule.MinProbability != nil {
			vars.MinProbability = *rule.MinProbability
		}
		if rule.MinDelta != nil {
			vars.MinDelta = *rule.MinDelta
		}
		if rendered, ok := renderReason(rule.ReasonTemplate, vars); ok {
			finalReason = rendered
		}
	}

	parts := []string{
		fmt.Sprintf("Alert for market_id=%s", ev.MarketID),
		fmt.Sprintf("current_probability=%.4f", ev.Probability),
	}
	if prev != nil {
		parts = append(parts, fmt.Sprintf("prev_probability=%.4f", *prev))
		if delta != nil {
			parts = append(parts, fmt.Sprintf("delta=%.4f", *delta))
		}
	}
	parts = append(parts, "reason: "+finalReason)

	now := e.now()
	st.lastFiredAt = now
	st.conditionMet = true
	st.everFired = true
	if rule.Once {
		st.active = false
	}

	return &domain.AlertEvent{
		ID:              uuid.NewString(),
		Rule:            rule.Name,
		MarketID:        ev.MarketID,
		Severity:        severity,
		Probability:     ev.Probability,
		PrevProbability: prev,
		Delta:           delta,
		Reason:          finalReason,
		Message:         strings.Join(parts, " | "),
		FiredAt:         now,
	}
}

// escalate returns the rule's base severity raised to the highest matching
// escalation. Escalations never lower severity.
func (e *Engine) escalate(rule *domain.AlertRule, ev domain.MarketEvent, delta *float64) domain.Severity {
	severity := rule.Severity
	rank := severity.Rank()

	for _, esc := range rule.Escalate {
		matches := false
		if esc.MinProbability != nil && ev.Probability >= *esc.MinProbability {
			matches = true
		}
		if esc.MinDelta != nil && delta != nil && *delta >= *esc.MinDelta {
			matches = true
		}
		if matches && esc.Severity.Rank() > rank {
			severity = esc.Severity
			rank = esc.Severity.Rank()
		}
	}
	return severity
}

// Rules returns a copy of the configured rules.
func (e *Engine) Rules() []domain.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AlertRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Status snapshots every rule's evaluation state.
func (e *Engine) Status() []RuleStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]RuleStatus, len(e.rules))
	for i, rule := range e.rules {
		st := e.states[i]
		rs := RuleStatus{
			Name:         rule.Name,
			MarketID:     rule.MarketID,
			Severity:     rule.Severity,
			Active:       st.active,
			ConditionMet: st.conditionMet,
			EverFired:    st.everFired,
		}
		if !st.lastFiredAt.IsZero() {
			t := st.lastFiredAt
			rs.LastFiredAt = &t
		}
		out[i] = rs
	}
	return out
}
