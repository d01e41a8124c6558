package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/alert"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/match"
	"github.com/alanyoungcy/arbwatch/internal/notify"
	"github.com/alanyoungcy/arbwatch/internal/score"
	"github.com/alanyoungcy/arbwatch/internal/webhook"
)

// Signal bus channels. Streams are appended under the same names.
const (
	ChannelAlerts        = "alerts"
	ChannelOpportunities = "opportunities"
	ChannelStatus        = "status"
)

// Sinks collects the delivery targets for evaluation output. A nil field
// disables that target.
type Sinks struct {
	Notifier      *notify.Notifier
	Webhook       *webhook.Dispatcher
	WebhookURL    string
	SchemaVersion int
	RunID         string
	Opportunities domain.OpportunityStore
	Alerts        domain.AlertStore
	Bus           domain.SignalBus
}

// Summary counts one evaluation pass.
type Summary struct {
	Sources       int
	Markets       int
	Groups        int
	Matches       int
	NewMatches    int
	Opportunities int
	Alertable     int
	AlertsFired   int
	EvaluatedAt   time.Time
	Elapsed       time.Duration
}

// Evaluator runs the per-cycle pass over the latest snapshots: group and
// match markets across sources, score the spreads, feed per-market
// probabilities to the alert rules, and fan everything out to the sinks. It
// holds no cross-cycle detection state of its own; repeat suppression lives
// in the match cache, the alert engine, and the webhook dedup store.
type Evaluator struct {
	table      *SnapshotTable
	matcher    *match.Engine
	scorer     *score.Scorer
	rules      *alert.Engine
	sinks      Sinks
	minSources int
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	last        *Summary
	lastMatches []domain.EventMatch
}

// NewEvaluator builds an evaluator. minSources below two is raised to two.
func NewEvaluator(
	table *SnapshotTable,
	matcher *match.Engine,
	scorer *score.Scorer,
	rules *alert.Engine,
	minSources int,
	sinks Sinks,
	logger *slog.Logger,
) *Evaluator {
	if minSources < 2 {
		minSources = 2
	}
	return &Evaluator{
		table:      table,
		matcher:    matcher,
		scorer:     scorer,
		rules:      rules,
		sinks:      sinks,
		minSources: minSources,
		logger:     logger.With(slog.String("component", "evaluator")),
		now:        time.Now,
	}
}

// Evaluate runs one pass and returns its summary. Sink failures are logged
// and never abort the pass; the only error returned is context
// cancellation.
func (e *Evaluator) Evaluate(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	start := e.now()

	marketsBySource := e.table.MarketsBySource()
	sum := Summary{Sources: len(marketsBySource), EvaluatedAt: start}
	for _, markets := range marketsBySource {
		sum.Markets += len(markets)
	}

	groups := e.groups(marketsBySource)
	sum.Groups = len(groups)

	matches := e.matcher.Match(groups)
	sum.Matches = len(matches)

	fresh := e.matcher.FilterNew(ctx, matches)
	sum.NewMatches = len(fresh)
	for _, m := range fresh {
		e.announceMatch(ctx, m)
	}

	opps := e.scorer.Score(groups)
	sum.Opportunities = len(opps)
	for _, opp := range opps {
		e.recordOpportunity(ctx, opp)
		if !opp.IsAlertable() {
			continue
		}
		sum.Alertable++
		e.announceOpportunity(ctx, opp)
	}

	for _, ev := range e.marketEvents() {
		for _, fired := range e.rules.Evaluate(ev) {
			sum.AlertsFired++
			e.announceAlert(ctx, fired)
		}
	}

	sum.Elapsed = e.now().Sub(start)
	e.setLast(sum, matches)

	e.logger.Info("evaluation pass complete",
		slog.Int("sources", sum.Sources),
		slog.Int("markets", sum.Markets),
		slog.Int("groups", sum.Groups),
		slog.Int("new_matches", sum.NewMatches),
		slog.Int("opportunities", sum.Opportunities),
		slog.Int("alertable", sum.Alertable),
		slog.Int("alerts_fired", sum.AlertsFired),
		slog.Duration("elapsed", sum.Elapsed))
	return sum, nil
}

// groups buckets the snapshot markets, applies the source-count floor, and
// attaches each entry's quotes from the snapshot table.
func (e *Evaluator) groups(marketsBySource map[string][]domain.Market) []domain.MatchGroup {
	grouped := e.matcher.Group(marketsBySource)
	kept := make([]domain.MatchGroup, 0, len(grouped))
	for _, g := range grouped {
		if g.SourceCount() < e.minSources {
			continue
		}
		for i := range g.Entries {
			entry := &g.Entries[i]
			entry.Quotes = e.table.Quotes(entry.Source, entry.Market.MarketID)
		}
		kept = append(kept, g)
	}
	return kept
}

// marketEvents flattens the snapshots into one probability observation per
// priced market, sorted by market key for a deterministic evaluation order.
// Rule market IDs use the source-prefixed key form, e.g.
// "kalshi:FED-25DEC-CUT".
func (e *Evaluator) marketEvents() []domain.MarketEvent {
	now := e.now()
	var events []domain.MarketEvent
	for source, markets := range e.table.MarketsBySource() {
		for _, m := range markets {
			mid, ok := firstMid(e.table.Quotes(source, m.MarketID))
			if !ok {
				continue
			}
			events = append(events, domain.MarketEvent{
				Source:      source,
				MarketID:    m.Key(),
				Title:       m.Title,
				Probability: mid,
				Timestamp:   now,
			})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].MarketID < events[j].MarketID })
	return events
}

func (e *Evaluator) announceMatch(ctx context.Context, m domain.EventMatch) {
	e.logger.Info("new cross-source match",
		slog.String("title", m.NormalizedTitle),
		slog.String("category", string(m.Category)),
		slog.Float64("confidence", m.Confidence),
		slog.String("sources", strings.Join(m.Sources, ",")))

	if e.sinks.Notifier != nil {
		title := fmt.Sprintf("New cross-source match: %s", m.NormalizedTitle)
		message := fmt.Sprintf("Sources: %s | Category: %s | Confidence: %.2f",
			strings.Join(m.Sources, ", "), m.Category, m.Confidence)
		if err := e.sinks.Notifier.Notify(ctx, notify.EventStatus, title, message); err != nil {
			e.logger.Warn("match notification failed", slog.String("error", err.Error()))
		}
	}

	e.publish(ctx, ChannelStatus, m)
}

func (e *Evaluator) recordOpportunity(ctx context.Context, opp domain.Opportunity) {
	if e.sinks.Opportunities == nil {
		return
	}
	if err := e.sinks.Opportunities.Insert(ctx, opp); err != nil {
		e.logger.Warn("opportunity persist failed",
			slog.String("id", opp.ID),
			slog.String("error", err.Error()))
	}
}

// announceOpportunity delivers one alertable opportunity to every sink.
func (e *Evaluator) announceOpportunity(ctx context.Context, opp domain.Opportunity) {
	if e.sinks.Notifier != nil {
		if err := e.sinks.Notifier.NotifyOpportunity(ctx, opp); err != nil {
			e.logger.Warn("opportunity notification failed",
				slog.String("id", opp.ID),
				slog.String("error", err.Error()))
		}
	}

	title, message := notify.FormatOpportunity(opp)
	e.sendWebhook(ctx, title, message)
	e.publish(ctx, ChannelOpportunities, opp)
}

func (e *Evaluator) announceAlert(ctx context.Context, ev domain.AlertEvent) {
	if e.sinks.Alerts != nil {
		if err := e.sinks.Alerts.Insert(ctx, ev); err != nil {
			e.logger.Warn("alert persist failed",
				slog.String("id", ev.ID),
				slog.String("error", err.Error()))
		}
	}

	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(ev.Severity)), ev.Rule)
	if e.sinks.Notifier != nil {
		if err := e.sinks.Notifier.Notify(ctx, notify.EventAlert, title, ev.Message); err != nil {
			e.logger.Warn("alert notification failed",
				slog.String("id", ev.ID),
				slog.String("error", err.Error()))
		}
	}

	e.sendWebhook(ctx, title, ev.Message)
	e.publish(ctx, ChannelAlerts, ev)
}

// sendWebhook posts a plain-content envelope to the configured webhook URL.
// The run ID rides along so the idempotency key stays stable per run, and
// the body is built once here before the dispatcher's first attempt.
func (e *Evaluator) sendWebhook(ctx context.Context, title, message string) {
	if e.sinks.Webhook == nil || e.sinks.WebhookURL == "" {
		return
	}
	env := webhook.NewEnvelope(title+"\n"+message, nil)
	if e.sinks.SchemaVersion > 0 {
		env.SchemaVersion = e.sinks.SchemaVersion
	}
	env.RunID = e.sinks.RunID
	if err := e.sinks.Webhook.Send(ctx, e.sinks.WebhookURL, env); err != nil {
		e.logger.Warn("webhook delivery failed", slog.String("error", err.Error()))
	}
}

// publish marshals the payload and delivers it to both the pub/sub channel
// and the durable stream of the same name.
func (e *Evaluator) publish(ctx context.Context, channel string, payload any) {
	if e.sinks.Bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("signal marshal failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return
	}
	if err := e.sinks.Bus.Publish(ctx, channel, raw); err != nil {
		e.logger.Warn("signal publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
	if err := e.sinks.Bus.StreamAppend(ctx, channel, raw); err != nil {
		e.logger.Warn("stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

func (e *Evaluator) setLast(sum Summary, matches []domain.EventMatch) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &sum
	e.lastMatches = matches
}

// LastSummary returns the most recent pass summary, if any pass has run.
func (e *Evaluator) LastSummary() (Summary, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Summary{}, false
	}
	return *e.last, true
}

// LastMatches returns the cross-source matches from the most recent pass,
// suppression ignored: every match that cleared grouping, not only the
// newly announced ones.
func (e *Evaluator) LastMatches() []domain.EventMatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.EventMatch, len(e.lastMatches))
	copy(out, e.lastMatches)
	return out
}
