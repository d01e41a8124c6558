package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/alanyoungcy/arbwatch/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.App.Mode = "trade"

	a := New(&cfg, discardLogger())
	defer a.Close()

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unsupported mode") {
		t.Fatalf("Run = %v, want unsupported mode error", err)
	}
}

func TestWireWithBackendsDisabled(t *testing.T) {
	cfg := config.Defaults()

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.MarketStore != nil || deps.QuoteCache != nil || deps.BlobWriter != nil {
		t.Error("disabled backends should stay nil")
	}
	if deps.Archiver != nil {
		t.Error("archiver needs both s3 and postgres")
	}
	if deps.Notifier == nil {
		t.Error("notifier should exist even with no channels configured")
	}
}

func TestBuildSources(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger())

	reg, err := a.buildSources()
	if err != nil {
		t.Fatalf("buildSources: %v", err)
	}

	want := []string{"kalshi", "limitless", "manifold", "metaculus", "polymarket"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}
}

func TestBuildMonitorFromDefaults(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, discardLogger())

	mon, err := a.buildMonitor(&Dependencies{})
	if err != nil {
		t.Fatalf("buildMonitor: %v", err)
	}
	if mon.table == nil || mon.limiter == nil || mon.evaluator == nil || mon.rules == nil || mon.orch == nil {
		t.Error("monitor is missing components")
	}
	if mon.dispatcher != nil {
		t.Error("dispatcher should be nil without a webhook URL")
	}
}

func TestBuildMonitorNoSources(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sources.Polymarket.Enabled = false
	cfg.Sources.Kalshi.Enabled = false
	cfg.Sources.Manifold.Enabled = false
	cfg.Sources.Limitless.Enabled = false
	cfg.Sources.Metaculus.Enabled = false

	a := New(&cfg, discardLogger())
	if _, err := a.buildMonitor(&Dependencies{}); err == nil {
		t.Fatal("buildMonitor with every source disabled should fail")
	}
}

func TestBuildMonitorWithHealthWebhook(t *testing.T) {
	cfg := config.Defaults()
	cfg.Webhook.HealthURL = "https://hooks.example.com/health"

	a := New(&cfg, discardLogger())
	mon, err := a.buildMonitor(&Dependencies{})
	if err != nil {
		t.Fatalf("buildMonitor: %v", err)
	}
	if mon.dispatcher == nil {
		t.Error("health webhook URL alone should build the dispatcher")
	}
}

func TestSourceLimits(t *testing.T) {
	cfg := config.Defaults()
	cfg.Sources.Manifold.Enabled = false

	a := New(&cfg, discardLogger())
	limits := a.sourceLimits()

	if _, ok := limits["manifold"]; ok {
		t.Error("disabled source should have no limit entry")
	}
	pm, ok := limits["polymarket"]
	if !ok {
		t.Fatal("polymarket limit missing")
	}
	if pm.Rate != cfg.Sources.Polymarket.RequestsPerSecond ||
		pm.PerMinute != cfg.Sources.Polymarket.RequestsPerMinute ||
		pm.Burst != cfg.Sources.Polymarket.BurstSize {
		t.Errorf("polymarket limit = %+v", pm)
	}
}
