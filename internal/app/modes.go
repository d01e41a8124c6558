package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbwatch/internal/alert"
	"github.com/alanyoungcy/arbwatch/internal/crypto"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/match"
	"github.com/alanyoungcy/arbwatch/internal/pipeline"
	"github.com/alanyoungcy/arbwatch/internal/ratelimit"
	"github.com/alanyoungcy/arbwatch/internal/retry"
	"github.com/alanyoungcy/arbwatch/internal/score"
	"github.com/alanyoungcy/arbwatch/internal/server"
	"github.com/alanyoungcy/arbwatch/internal/server/handler"
	"github.com/alanyoungcy/arbwatch/internal/server/ws"
	"github.com/alanyoungcy/arbwatch/internal/source"
	"github.com/alanyoungcy/arbwatch/internal/source/kalshi"
	"github.com/alanyoungcy/arbwatch/internal/source/limitless"
	"github.com/alanyoungcy/arbwatch/internal/source/manifold"
	"github.com/alanyoungcy/arbwatch/internal/source/metaculus"
	"github.com/alanyoungcy/arbwatch/internal/source/polymarket"
	"github.com/alanyoungcy/arbwatch/internal/webhook"
)

// monitor bundles the polling pipeline's live components so the HTTP API can
// read directly from them in "all" mode.
type monitor struct {
	table      *pipeline.SnapshotTable
	limiter    *ratelimit.Limiter
	evaluator  *pipeline.Evaluator
	rules      *alert.Engine
	orch       *pipeline.Orchestrator
	dispatcher *webhook.Dispatcher
}

// MonitorMode runs the polling pipeline without the HTTP API: poll loops,
// evaluation, the archive cron, and source health notices.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	mon, err := a.buildMonitor(deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitor(ctx, g, deps, mon)
	return g.Wait()
}

// ServerMode runs the HTTP API alone. Without a monitor in the process the
// pipeline-backed endpoints report 501 and the store-backed ones serve
// whatever another replica persisted.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// AllMode runs the polling pipeline and the HTTP API in one process. The
// API reads snapshot, evaluation, and rule state straight from the live
// pipeline.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting all mode")

	mon, err := a.buildMonitor(deps)
	if err != nil {
		return fmt.Errorf("all mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startMonitor(ctx, g, deps, mon)
	a.startHTTPServer(ctx, g, deps, mon)
	return g.Wait()
}

// startMonitor launches the orchestrator and the source health watcher.
func (a *App) startMonitor(ctx context.Context, g *errgroup.Group, deps *Dependencies, mon *monitor) {
	g.Go(func() error {
		err := mon.orch.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		a.watchSourceHealth(ctx, deps, mon)
		return nil
	})
}

// buildMonitor assembles the polling pipeline from configuration: one
// adapter and rate-limit budget per enabled source, the snapshot table, the
// match/score/alert evaluation chain, delivery sinks, and the orchestrator.
func (a *App) buildMonitor(deps *Dependencies) (*monitor, error) {
	registry, err := a.buildSources()
	if err != nil {
		return nil, err
	}
	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}

	limiter := ratelimit.NewLimiter(a.sourceLimits(), a.logger)
	exec := retry.NewExecutor(0, a.logger)
	table := pipeline.NewSnapshotTable()

	pollers := make([]*pipeline.Poller, 0, len(registry.Names()))
	for _, ad := range registry.All() {
		pollers = append(pollers, pipeline.NewPoller(
			ad, limiter, exec, table, deps.MarketStore, deps.QuoteCache, a.logger))
	}

	matcher := match.NewEngine(deps.MatchCache, a.cfg.Match.ConfidenceThreshold, a.logger)
	scorer := score.NewScorer(score.Config{
		MinSpread:     a.cfg.Scoring.MinSpread,
		PrioritizeNew: a.cfg.Scoring.PrioritizeNewEvents,
		NewEventHours: a.cfg.Scoring.NewEventHours,
	}, a.logger)

	rules, err := alert.NewEngine(a.cfg.Alerts.DomainRules(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("alert rules: %w", err)
	}

	var dispatcher *webhook.Dispatcher
	if a.cfg.Webhook.URL != "" || a.cfg.Webhook.HealthURL != "" {
		client := &http.Client{Timeout: a.cfg.Webhook.Timeout.Duration}
		dispatcher = webhook.NewDispatcher(
			client,
			retry.NewExecutor(a.cfg.Webhook.MaxAttempts, a.logger),
			deps.DedupStore,
			a.logger,
		)
		dispatcher.SetDedupTTL(a.cfg.Webhook.DedupTTL.Duration)
	}

	sinks := pipeline.Sinks{
		Notifier:      deps.Notifier,
		Webhook:       dispatcher,
		WebhookURL:    a.cfg.Webhook.URL,
		SchemaVersion: a.cfg.Webhook.SchemaVersion,
		RunID:         a.cfg.App.RunID,
		Opportunities: deps.OpportunityStore,
		Alerts:        deps.AlertStore,
		Bus:           deps.SignalBus,
	}
	evaluator := pipeline.NewEvaluator(
		table, matcher, scorer, rules, a.cfg.Match.MinSources, sinks, a.logger)

	var archiver *pipeline.Archiver
	if deps.Archiver != nil && a.cfg.S3.RetentionDays > 0 {
		archiver = pipeline.NewArchiver(
			deps.Archiver,
			deps.OpportunityStore,
			deps.AlertStore,
			a.cfg.S3.RetentionDays,
			a.logger,
		)
		if deps.LockManager != nil {
			archiver = archiver.WithLock(deps.LockManager)
		}
	}

	orch := pipeline.NewOrchestrator(
		pollers,
		evaluator,
		archiver,
		deps.Leader,
		a.cfg.App.PollInterval.Duration,
		a.cfg.App.EvaluateInterval.Duration,
		a.cfg.S3.ArchiveCron,
		a.logger,
	)

	return &monitor{
		table:      table,
		limiter:    limiter,
		evaluator:  evaluator,
		rules:      rules,
		orch:       orch,
		dispatcher: dispatcher,
	}, nil
}

// buildSources constructs one adapter per enabled source. Kalshi credential
// failures are logged and polling continues unauthenticated; the public
// market endpoints accept that.
func (a *App) buildSources() (*source.Registry, error) {
	src := a.cfg.Sources
	var adapters []source.Adapter

	if src.Polymarket.Enabled {
		adapters = append(adapters, polymarket.NewClient(
			src.Polymarket.BaseURL,
			src.Polymarket.ClobURL,
			src.Polymarket.MarketsLimit,
		))
	}

	if src.Kalshi.Enabled {
		client := kalshi.NewClient(src.Kalshi.BaseURL, src.Kalshi.MarketsLimit)
		if src.Kalshi.HasCredentials() {
			key, err := crypto.LoadRSAKey(crypto.KeyConfig{
				RawPEM:           src.Kalshi.PrivateKeyPEM,
				PEMPath:          src.Kalshi.PrivateKeyPath,
				EncryptedKeyPath: src.Kalshi.EncryptedKeyPath,
				KeyPassword:      src.Kalshi.KeyPassword,
			})
			if err != nil {
				a.logger.Warn("kalshi credentials unusable, polling unauthenticated",
					slog.String("error", err.Error()))
			} else {
				client.SetAuth(src.Kalshi.ApiKeyID, key)
			}
		}
		adapters = append(adapters, client)
	}

	if src.Manifold.Enabled {
		adapters = append(adapters, manifold.NewClient(
			src.Manifold.BaseURL, src.Manifold.MarketsLimit))
	}
	if src.Limitless.Enabled {
		adapters = append(adapters, limitless.NewClient(
			src.Limitless.BaseURL, src.Limitless.MarketsLimit))
	}
	if src.Metaculus.Enabled {
		adapters = append(adapters, metaculus.NewClient(
			src.Metaculus.BaseURL, src.Metaculus.MarketsLimit))
	}

	return source.NewRegistry(adapters...)
}

// sourceLimits converts the per-source config blocks to rate-limit budgets.
// Zero-valued fields fall back to the limiter's built-in budget.
func (a *App) sourceLimits() map[string]ratelimit.Limit {
	limits := make(map[string]ratelimit.Limit)
	for name, sc := range a.cfg.Sources.ByName() {
		if !sc.Enabled {
			continue
		}
		limits[name] = ratelimit.Limit{
			Rate:      sc.RequestsPerSecond,
			PerMinute: sc.RequestsPerMinute,
			Burst:     sc.BurstSize,
		}
	}
	return limits
}

// startHTTPServer registers the API handlers and launches the listener plus
// a shutdown watcher on the errgroup. mon is nil in server mode; the
// pipeline-backed handlers then run with nil backends and report 501.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, mon *monitor) {
	startedAt := time.Now().UTC()

	var (
		sources    handler.SourceHealth
		limits     handler.LimiterStatus
		eval       handler.EvaluationStatus
		ruleStates handler.RuleStates
		matches    handler.MatchSource
		ruleSource handler.RuleSource
	)
	if mon != nil {
		sources = mon.table
		limits = mon.limiter
		eval = mon.evaluator
		ruleStates = mon.rules
		matches = mon.evaluator
		ruleSource = mon.rules
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(sources, limits, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.App.Mode, startedAt, eval, ruleStates),
		Opportunities: handler.NewOpportunityHandler(deps.OpportunityStore, a.logger),
		Matches:       handler.NewMatchHandler(matches),
		Alerts:        handler.NewAlertHandler(deps.AlertStore, ruleSource, a.logger),
		Archive:       handler.NewArchiveHandler(deps.BlobReader, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.App.Mode,
			StartedAt:      startedAt,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
		g.Go(func() error {
			err := hub.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	var apiLimiter domain.RateLimiter
	if deps.RateLimiter != nil {
		apiLimiter = deps.RateLimiter
	} else if a.cfg.Server.RateLimitPerMinute > 0 {
		apiLimiter = ratelimit.NewKeyedWindow()
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, apiLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// watchSourceHealth notifies on source health transitions. The first
// observation of each source is the baseline; after that, every flip
// between healthy and unhealthy goes to the "status" notification event and
// to the health webhook channel when one is configured. Routine per-cycle
// results never notify, only transitions do.
func (a *App) watchSourceHealth(ctx context.Context, deps *Dependencies, mon *monitor) {
	interval := a.cfg.App.PollInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, st := range mon.table.Statuses() {
			was, seen := prev[st.Source]
			prev[st.Source] = st.Healthy
			if !seen || was == st.Healthy {
				continue
			}
			a.notifyHealthChange(ctx, deps, mon, st)
		}
	}
}

func (a *App) notifyHealthChange(ctx context.Context, deps *Dependencies, mon *monitor, st domain.SourceStatus) {
	var title, message string
	if st.Healthy {
		title = fmt.Sprintf("Source %s recovered", st.Source)
		message = fmt.Sprintf("%s is reachable again (%d markets in the last cycle).",
			st.Source, st.Markets)
	} else {
		title = fmt.Sprintf("Source %s unhealthy", st.Source)
		message = fmt.Sprintf("%s failed %d consecutive cycles: %s",
			st.Source, st.ConsecutiveErrors, st.LastError)
	}

	a.logger.Warn("source health changed",
		slog.String("source", st.Source),
		slog.Bool("healthy", st.Healthy))

	if err := deps.Notifier.Notify(ctx, "status", title, message); err != nil {
		a.logger.Error("health notification failed",
			slog.String("source", st.Source),
			slog.String("error", err.Error()))
	}

	if mon.dispatcher != nil && a.cfg.Webhook.HealthURL != "" {
		env := webhook.NewEnvelope(title+"\n"+message, nil)
		if a.cfg.Webhook.SchemaVersion > 0 {
			env.SchemaVersion = a.cfg.Webhook.SchemaVersion
		}
		env.RunID = a.cfg.App.RunID
		if err := mon.dispatcher.Send(ctx, a.cfg.Webhook.HealthURL, env); err != nil {
			a.logger.Error("health webhook failed",
				slog.String("source", st.Source),
				slog.String("error", err.Error()))
		}
	}
}
