package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity levels for alert events, ordered info < warning < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric ordering of the severity. Unknown severities rank
// below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return -1
	}
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityInfo:
		return SeverityInfo, nil
	case SeverityWarning:
		return SeverityWarning, nil
	case SeverityCritical:
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("domain: unknown severity %q", s)
	}
}

// EscalationRule raises the severity of an alert when its condition matches.
// At least one of MinProbability / MinDelta must be set.
type EscalationRule struct {
	MinProbability *float64
	MinDelta       *float64
	Severity       Severity
}

// AlertRule is a user-configured probability alert for a single market.
// Optional thresholds are nil when unset.
type AlertRule struct {
	// Name identifies the rule in state, logs, and the status API. Assigned
	// positionally when the configuration leaves it empty.
	Name           string
	MarketID       string
	MinProbability *float64
	MaxProbability *float64
	MinDelta       *float64
	Cooldown       time.Duration
	Once           bool
	Severity       Severity
	Escalate       []EscalationRule
	ReasonTemplate string
}

// Validate checks the rule's structural invariants. All problems are
// reported in a single pass.
func (r AlertRule) Validate() error {
	var errs []string

	if strings.TrimSpace(r.MarketID) == "" {
		errs = append(errs, "market_id must be non-empty")
	}
	if r.MinProbability != nil && (*r.MinProbability < 0 || *r.MinProbability > 1) {
		errs = append(errs, fmt.Sprintf("min_probability %v out of [0,1]", *r.MinProbability))
	}
	if r.MaxProbability != nil && (*r.MaxProbability < 0 || *r.MaxProbability > 1) {
		errs = append(errs, fmt.Sprintf("max_probability %v out of [0,1]", *r.MaxProbability))
	}
	if r.MinProbability != nil && r.MaxProbability != nil && *r.MinProbability > *r.MaxProbability {
		errs = append(errs, "min_probability must not exceed max_probability")
	}
	if r.MinDelta != nil && *r.MinDelta <= 0 {
		errs = append(errs, fmt.Sprintf("min_delta %v must be > 0", *r.MinDelta))
	}
	if r.Cooldown < 0 {
		errs = append(errs, "cooldown must be >= 0")
	}
	if r.Severity.Rank() < 0 {
		errs = append(errs, fmt.Sprintf("unknown severity %q", r.Severity))
	}
	for i, esc := range r.Escalate {
		if esc.MinProbability == nil && esc.MinDelta == nil {
			errs = append(errs, fmt.Sprintf("escalate[%d] needs min_probability or min_delta", i))
		}
		if esc.Severity.Rank() < 0 {
			errs = append(errs, fmt.Sprintf("escalate[%d] has unknown severity %q", i, esc.Severity))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(errs, "; "))
	}
	return nil
}

// MarketEvent is one probability observation for a market, fed to the alert
// engine.
type MarketEvent struct {
	Source      string
	MarketID    string
	Title       string
	Probability float64
	Timestamp   time.Time
}

// AlertEvent is a fired alert, ready for delivery and persistence.
type AlertEvent struct {
	ID              string
	Rule            string
	MarketID        string
	Severity        Severity
	Probability     float64
	PrevProbability *float64
	Delta           *float64
	Reason          string
	Message         string
	FiredAt         time.Time
}
