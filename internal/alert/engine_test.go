package alert

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, rules ...domain.AlertRule) *Engine {
	t.Helper()
	e, err := NewEngine(rules, discardLogger())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func event(marketID string, prob float64) domain.MarketEvent {
	return domain.MarketEvent{Source: "polymarket", MarketID: marketID, Probability: prob}
}

func TestEngineRejectsInvalidRule(t *testing.T) {
	bad := domain.AlertRule{
		MarketID:       "",
		MinProbability: domain.Float(1.5),
		Severity:       domain.SeverityWarning,
	}
	if _, err := NewEngine([]domain.AlertRule{bad}, discardLogger()); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("NewEngine error = %v, want ErrInvalidRule", err)
	}
}

// A rule fires on each rising edge of its condition, not on every cycle the
// condition stays true.
func TestEngineEdgeTriggering(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.8),
		Severity:       domain.SeverityWarning,
	})

	fires := 0
	for _, p := range []float64{0.5, 0.85, 0.85, 0.5, 0.85} {
		fires += len(e.Evaluate(event("mkt", p)))
	}
	if fires != 2 {
		t.Errorf("fires = %d, want 2 (one per rising edge)", fires)
	}
}

func TestEngineCooldownSuppression(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.8),
		Cooldown:       60 * time.Second,
		Severity:       domain.SeverityWarning,
	})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	if n := len(e.Evaluate(event("mkt", 0.85))); n != 1 {
		t.Fatalf("first edge fired %d alerts, want 1", n)
	}

	// Falling edge re-arms, but the second rising edge lands 10s later,
	// inside the cooldown.
	now = now.Add(5 * time.Second)
	e.Evaluate(event("mkt", 0.5))
	now = now.Add(5 * time.Second)
	if n := len(e.Evaluate(event("mkt", 0.85))); n != 0 {
		t.Fatalf("edge inside cooldown fired %d alerts, want 0", n)
	}

	// Past the cooldown the same pattern fires again.
	now = now.Add(65 * time.Second)
	e.Evaluate(event("mkt", 0.5))
	if n := len(e.Evaluate(event("mkt", 0.85))); n != 1 {
		t.Fatalf("edge after cooldown fired %d alerts, want 1", n)
	}
}

func TestEngineOnceFiresAtMostOnce(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.8),
		Once:           true,
		Severity:       domain.SeverityInfo,
	})

	fires := 0
	for _, p := range []float64{0.85, 0.5, 0.9, 0.4, 0.95} {
		fires += len(e.Evaluate(event("mkt", p)))
	}
	if fires != 1 {
		t.Errorf("fires = %d, want 1 for a once rule", fires)
	}

	status := e.Status()
	if len(status) != 1 || status[0].Active || !status[0].EverFired {
		t.Errorf("status = %+v, want inactive and ever_fired", status)
	}
}

func TestEngineDeltaTrigger(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID: "mkt",
		MinDelta: domain.Float(0.1),
		Severity: domain.SeverityWarning,
	})

	// No previous observation yet, so the delta condition cannot hold.
	if n := len(e.Evaluate(event("mkt", 0.5))); n != 0 {
		t.Fatalf("first observation fired %d alerts, want 0", n)
	}

	alerts := e.Evaluate(event("mkt", 0.65))
	if len(alerts) != 1 {
		t.Fatalf("jump fired %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Reason != "delta 0.1500 >= min 0.1000" {
		t.Errorf("reason = %q", a.Reason)
	}
	if a.Delta == nil || *a.Delta < 0.1499 || *a.Delta > 0.1501 {
		t.Errorf("delta = %v, want ~0.15", a.Delta)
	}
	if a.PrevProbability == nil || *a.PrevProbability != 0.5 {
		t.Errorf("prev = %v, want 0.5", a.PrevProbability)
	}
}

func TestEngineMaxProbabilityTrigger(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MaxProbability: domain.Float(0.2),
		Severity:       domain.SeverityWarning,
	})

	if n := len(e.Evaluate(event("mkt", 0.5))); n != 0 {
		t.Fatalf("above max fired %d alerts, want 0", n)
	}
	alerts := e.Evaluate(event("mkt", 0.15))
	if len(alerts) != 1 {
		t.Fatalf("below max fired %d alerts, want 1", len(alerts))
	}
	if alerts[0].Reason != "probability 0.1500 <= max 0.2000" {
		t.Errorf("reason = %q", alerts[0].Reason)
	}
}

func TestEngineMessageFormat(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "btc-100k",
		MinProbability: domain.Float(0.8),
		Severity:       domain.SeverityWarning,
	})

	e.Evaluate(event("btc-100k", 0.5))
	alerts := e.Evaluate(event("btc-100k", 0.85))
	if len(alerts) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(alerts))
	}

	want := "Alert for market_id=btc-100k | current_probability=0.8500 | prev_probability=0.5000 | reason: probability 0.8500 >= min 0.8000"
	if alerts[0].Message != want {
		t.Errorf("message = %q\nwant      %q", alerts[0].Message, want)
	}
}

func TestEngineReasonTemplate(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.8),
		Severity:       domain.SeverityWarning,
		ReasonTemplate: "{market_id} crossed {min_probability} at {probability} ({severity})",
	})

	alerts := e.Evaluate(event("mkt", 0.85))
	if len(alerts) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(alerts))
	}
	if alerts[0].Reason != "mkt crossed 0.8 at 0.85 (warning)" {
		t.Errorf("reason = %q", alerts[0].Reason)
	}
}

func TestEngineBadTemplateFallsBack(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.8),
		Severity:       domain.SeverityWarning,
		ReasonTemplate: "odds hit {unknown_field}",
	})

	alerts := e.Evaluate(event("mkt", 0.85))
	if len(alerts) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(alerts))
	}
	if alerts[0].Reason != "probability 0.8500 >= min 0.8000" {
		t.Errorf("reason = %q, want the generated fallback", alerts[0].Reason)
	}
}

func TestEngineEscalationRaisesSeverity(t *testing.T) {
	rule := domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.7),
		Severity:       domain.SeverityInfo,
		Escalate: []domain.EscalationRule{
			{MinProbability: domain.Float(0.8), Severity: domain.SeverityWarning},
			{MinProbability: domain.Float(0.9), Severity: domain.SeverityCritical},
		},
	}

	tests := []struct {
		prob float64
		want domain.Severity
	}{
		{0.75, domain.SeverityInfo},
		{0.85, domain.SeverityWarning},
		{0.95, domain.SeverityCritical},
	}

	for _, tt := range tests {
		e := newTestEngine(t, rule)
		alerts := e.Evaluate(event("mkt", tt.prob))
		if len(alerts) != 1 {
			t.Fatalf("prob %v fired %d alerts, want 1", tt.prob, len(alerts))
		}
		if alerts[0].Severity != tt.want {
			t.Errorf("prob %v severity = %s, want %s", tt.prob, alerts[0].Severity, tt.want)
		}
	}
}

func TestEngineEscalationNeverDowngrades(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.7),
		Severity:       domain.SeverityCritical,
		Escalate: []domain.EscalationRule{
			{MinProbability: domain.Float(0.7), Severity: domain.SeverityInfo},
		},
	})

	alerts := e.Evaluate(event("mkt", 0.75))
	if len(alerts) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(alerts))
	}
	if alerts[0].Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want critical (matching escalation must not lower it)", alerts[0].Severity)
	}
}

// The last matching condition decides the generated reason: delta wins over
// max, max wins over min.
func TestEngineReasonPrecedence(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.5),
		MinDelta:       domain.Float(0.1),
		Severity:       domain.SeverityWarning,
	})

	e.Evaluate(event("mkt", 0.55)) // fires on min_probability, sets prev
	e.Evaluate(event("mkt", 0.46)) // below min and under the delta: re-arms
	alerts := e.Evaluate(event("mkt", 0.8))
	if len(alerts) != 1 {
		t.Fatalf("fired %d alerts, want 1", len(alerts))
	}
	if !strings.HasPrefix(alerts[0].Reason, "delta ") {
		t.Errorf("reason = %q, want the delta reason to win", alerts[0].Reason)
	}
}

func TestEngineRulesSeeSamePreviousValue(t *testing.T) {
	e := newTestEngine(t,
		domain.AlertRule{MarketID: "mkt", MinDelta: domain.Float(0.1), Severity: domain.SeverityInfo},
		domain.AlertRule{MarketID: "mkt", MinDelta: domain.Float(0.2), Severity: domain.SeverityWarning},
	)

	e.Evaluate(event("mkt", 0.5))
	alerts := e.Evaluate(event("mkt", 0.75))
	if len(alerts) != 2 {
		t.Fatalf("fired %d alerts, want 2 (both rules compare against 0.5)", len(alerts))
	}
	for _, a := range alerts {
		if a.PrevProbability == nil || *a.PrevProbability != 0.5 {
			t.Errorf("rule %s prev = %v, want 0.5", a.Rule, a.PrevProbability)
		}
	}
}

func TestEngineIgnoresOtherMarkets(t *testing.T) {
	e := newTestEngine(t, domain.AlertRule{
		MarketID:       "mkt",
		MinProbability: domain.Float(0.8),
		Severity:       domain.SeverityWarning,
	})

	if n := len(e.Evaluate(event("other", 0.95))); n != 0 {
		t.Errorf("foreign market fired %d alerts, want 0", n)
	}
}
