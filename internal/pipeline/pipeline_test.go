package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/alert"
	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/match"
	"github.com/alanyoungcy/arbwatch/internal/notify"
	"github.com/alanyoungcy/arbwatch/internal/ratelimit"
	"github.com/alanyoungcy/arbwatch/internal/retry"
	"github.com/alanyoungcy/arbwatch/internal/score"
	"github.com/alanyoungcy/arbwatch/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openLimits paces nothing so tests never sleep.
func openLimits(source string) *ratelimit.Limiter {
	return ratelimit.NewLimiter(map[string]ratelimit.Limit{
		source: {Rate: 10000, PerMinute: 1000000, Burst: 10000},
	}, discardLogger())
}

type fakeAdapter struct {
	name     string
	markets  []domain.Market
	quotes   map[string][]domain.Quote
	listErr  error
	quoteErr map[string]error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) ListActiveMarkets(context.Context) ([]domain.Market, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.markets, nil
}

func (f *fakeAdapter) ListOutcomes(context.Context, domain.Market) ([]domain.Outcome, error) {
	return []domain.Outcome{{OutcomeID: "yes", Name: "Yes"}, {OutcomeID: "no", Name: "No"}}, nil
}

func (f *fakeAdapter) GetQuotes(_ context.Context, m domain.Market, _ []domain.Outcome) ([]domain.Quote, error) {
	if err := f.quoteErr[m.MarketID]; err != nil {
		return nil, err
	}
	return f.quotes[m.MarketID], nil
}

type memMarketStore struct {
	batches [][]domain.Market
}

func (s *memMarketStore) Upsert(context.Context, domain.Market) error { return nil }

func (s *memMarketStore) UpsertBatch(_ context.Context, markets []domain.Market) error {
	s.batches = append(s.batches, markets)
	return nil
}

func (s *memMarketStore) Get(context.Context, string, string) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}

func (s *memMarketStore) ListBySource(context.Context, string, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}

func (s *memMarketStore) Count(context.Context) (int64, error) { return 0, nil }

type memQuoteCache struct {
	mids map[string]float64
}

func (c *memQuoteCache) SetMid(_ context.Context, source, marketID string, mid float64, _ time.Time) error {
	c.mids[source+":"+marketID] = mid
	return nil
}

func (c *memQuoteCache) GetMid(context.Context, string, string) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}

func (c *memQuoteCache) GetMids(context.Context, string, []string) (map[string]float64, error) {
	return nil, nil
}

type memMatchCache struct {
	entries map[string]domain.EventMatch
}

func newMemMatchCache() *memMatchCache {
	return &memMatchCache{entries: make(map[string]domain.EventMatch)}
}

func (c *memMatchCache) Put(_ context.Context, m domain.EventMatch) error {
	c.entries[m.NormalizedTitle] = m
	return nil
}

func (c *memMatchCache) Get(_ context.Context, title string) (domain.EventMatch, error) {
	m, ok := c.entries[title]
	if !ok {
		return domain.EventMatch{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memMatchCache) Seen(_ context.Context, title string) (bool, error) {
	_, ok := c.entries[title]
	return ok, nil
}

type memOppStore struct {
	opps []domain.Opportunity
}

func (s *memOppStore) Insert(_ context.Context, opp domain.Opportunity) error {
	s.opps = append(s.opps, opp)
	return nil
}

func (s *memOppStore) ListRecent(context.Context, int) ([]domain.Opportunity, error) {
	return s.opps, nil
}

func (s *memOppStore) ListBefore(context.Context, time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *memOppStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memAlertStore struct {
	events []domain.AlertEvent
}

func (s *memAlertStore) Insert(_ context.Context, ev domain.AlertEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func (s *memAlertStore) ListRecent(context.Context, domain.ListOpts) ([]domain.AlertEvent, error) {
	return s.events, nil
}

func (s *memAlertStore) ListBefore(context.Context, time.Time) ([]domain.AlertEvent, error) {
	return nil, nil
}

func (s *memAlertStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{
		published: make(map[string][][]byte),
		streamed:  make(map[string][][]byte),
	}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memSender struct {
	titles []string
}

func (s *memSender) Name() string { return "mem" }

func (s *memSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return nil
}

func TestSnapshotTableHealthHysteresis(t *testing.T) {
	table := NewSnapshotTable()
	if table.Healthy() {
		t.Fatal("empty table should not be healthy")
	}

	table.RecordSuccess("kalshi", 10, 50*time.Millisecond)
	if !table.Healthy() {
		t.Fatal("table should be healthy after a success")
	}

	table.RecordError("kalshi", errors.New("boom"))
	table.RecordError("kalshi", errors.New("boom"))
	st := table.Statuses()[0]
	if !st.Healthy {
		t.Fatal("two consecutive errors should not flip an established source")
	}

	table.RecordError("kalshi", errors.New("boom"))
	st = table.Statuses()[0]
	if st.Healthy {
		t.Fatal("three consecutive errors should flip the source unhealthy")
	}
	if st.ErrorCount != 3 || st.ConsecutiveErrors != 3 {
		t.Fatalf("counters = %d/%d, want 3/3", st.ErrorCount, st.ConsecutiveErrors)
	}

	table.RecordSuccess("kalshi", 12, time.Millisecond)
	st = table.Statuses()[0]
	if !st.Healthy || st.ConsecutiveErrors != 0 || st.Markets != 12 {
		t.Fatalf("status after recovery = %+v", st)
	}
	if st.ErrorCount != 3 {
		t.Fatalf("total error count should survive recovery, got %d", st.ErrorCount)
	}
}

func TestSnapshotTableUnhealthyBeforeFirstSuccess(t *testing.T) {
	table := NewSnapshotTable()
	table.RecordError("manifold", errors.New("refused"))
	st := table.Statuses()[0]
	if st.Healthy {
		t.Fatal("a source that never succeeded should be unhealthy after one error")
	}
	if st.LastSuccess != nil || st.LastErrorAt == nil {
		t.Fatalf("timestamps = %+v", st)
	}
}

func TestPollerPollBuildsSnapshotAndDropsBadMarkets(t *testing.T) {
	good := domain.Market{Source: "fake", MarketID: "m1", Title: "Will X happen?", Active: true}
	bad := domain.Market{Source: "fake", MarketID: "m2", Title: "Will Y happen?", Active: true}
	adapter := &fakeAdapter{
		name:    "fake",
		markets: []domain.Market{good, bad},
		quotes: map[string][]domain.Quote{
			"m1": {{OutcomeID: "yes", Bid: domain.Float(0.4), Ask: domain.Float(0.5)}},
		},
		quoteErr: map[string]error{
			"m2": &retry.HTTPError{StatusCode: 400, Status: "400 Bad Request"},
		},
	}
	table := NewSnapshotTable()
	store := &memMarketStore{}
	cache := &memQuoteCache{mids: make(map[string]float64)}
	p := NewPoller(adapter, openLimits("fake"), retry.NewExecutor(1, discardLogger()), table, store, cache, discardLogger())

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	snap, ok := table.Snapshot("fake")
	if !ok {
		t.Fatal("snapshot missing after successful poll")
	}
	if len(snap.Markets) != 1 || snap.Markets[0].MarketID != "m1" {
		t.Fatalf("snapshot markets = %+v", snap.Markets)
	}
	quotes := snap.Quotes["m1"]
	if len(quotes) != 1 || quotes[0].Mid == nil {
		t.Fatalf("quotes = %+v", quotes)
	}
	if math.Abs(*quotes[0].Mid-0.45) > 1e-9 {
		t.Fatalf("derived mid = %v, want 0.45", *quotes[0].Mid)
	}

	sts := table.Statuses()
	if len(sts) != 1 || !sts[0].Healthy || sts[0].Markets != 1 {
		t.Fatalf("statuses = %+v", sts)
	}
	if sts[0].LastSuccess == nil {
		t.Fatal("last success should be recorded")
	}

	if len(store.batches) != 1 || len(store.batches[0]) != 1 {
		t.Fatalf("persisted batches = %+v", store.batches)
	}
	if mid, ok := cache.mids["fake:m1"]; !ok || math.Abs(mid-0.45) > 1e-9 {
		t.Fatalf("cached mid = %v (%v)", mid, ok)
	}
	if _, ok := cache.mids["fake:m2"]; ok {
		t.Fatal("dropped market must not reach the quote cache")
	}
}

func TestPollerListFailureRecordsError(t *testing.T) {
	adapter := &fakeAdapter{
		name:    "fake",
		listErr: &retry.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"},
	}
	table := NewSnapshotTable()
	p := NewPoller(adapter, openLimits("fake"), retry.NewExecutor(1, discardLogger()), table, nil, nil, discardLogger())

	err := p.Poll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "poll fake") {
		t.Fatalf("expected poll error, got %v", err)
	}

	if _, ok := table.Snapshot("fake"); ok {
		t.Fatal("failed cycle must not store a snapshot")
	}
	st := table.Statuses()[0]
	if st.Healthy || st.ErrorCount != 1 || st.LastError == "" {
		t.Fatalf("status = %+v", st)
	}
}

// evalFixture wires an evaluator over a hand-built two-source snapshot in
// which polymarket prices the event at 0.40 and kalshi at 0.55.
type evalFixture struct {
	table  *SnapshotTable
	eval   *Evaluator
	sender *memSender
	opps   *memOppStore
	alerts *memAlertStore
	bus    *memBus
}

func newEvalFixture(t *testing.T, minSources int, rules []domain.AlertRule, hookURL string, hookClient *http.Client) *evalFixture {
	t.Helper()
	logger := discardLogger()

	table := NewSnapshotTable()
	table.Update(SourceSnapshot{
		Source: "polymarket",
		Markets: []domain.Market{{
			Source:   "polymarket",
			MarketID: "0xabc",
			Title:    "Will Bitcoin hit $100k by December 31?",
			URL:      "https://polymarket.com/event/btc-100k",
			Active:   true,
		}},
		Quotes: map[string][]domain.Quote{
			"0xabc": {{OutcomeID: "yes", Mid: domain.Float(0.40)}},
		},
		FetchedAt: time.Now(),
	})
	table.Update(SourceSnapshot{
		Source: "kalshi",
		Markets: []domain.Market{{
			Source:   "kalshi",
			MarketID: "BTC-100K",
			Title:    "Bitcoin to hit $100k by December 31",
			URL:      "https://kalshi.com/markets/btc-100k",
			Active:   true,
		}},
		Quotes: map[string][]domain.Quote{
			"BTC-100K": {{OutcomeID: "yes", Mid: domain.Float(0.55)}},
		},
		FetchedAt: time.Now(),
	})

	matcher := match.NewEngine(newMemMatchCache(), 0.6, logger)
	scorer := score.NewScorer(score.Config{MinSpread: 0.08}, logger)
	ruleEngine, err := alert.NewEngine(rules, logger)
	if err != nil {
		t.Fatalf("alert.NewEngine: %v", err)
	}

	sender := &memSender{}
	opps := &memOppStore{}
	alerts := &memAlertStore{}
	bus := newMemBus()

	sinks := Sinks{
		Notifier:      notify.NewNotifier([]notify.Sender{sender}, nil, logger),
		RunID:         "test-run",
		Opportunities: opps,
		Alerts:        alerts,
		Bus:           bus,
	}
	if hookURL != "" {
		sinks.Webhook = webhook.NewDispatcher(hookClient, retry.NewExecutor(2, logger), nil, logger)
		sinks.WebhookURL = hookURL
	}

	return &evalFixture{
		table:  table,
		eval:   NewEvaluator(table, matcher, scorer, ruleEngine, minSources, sinks, logger),
		sender: sender,
		opps:   opps,
		alerts: alerts,
		bus:    bus,
	}
}

func TestEvaluatePassDetectsAndDelivers(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rule := domain.AlertRule{
		Name:           "btc-watch",
		MarketID:       "kalshi:BTC-100K",
		MinProbability: domain.Float(0.5),
		Severity:       domain.SeverityWarning,
	}
	fx := newEvalFixture(t, 2, []domain.AlertRule{rule}, srv.URL, srv.Client())

	sum, err := fx.eval.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if sum.Sources != 2 || sum.Markets != 2 {
		t.Fatalf("sources/markets = %d/%d, want 2/2", sum.Sources, sum.Markets)
	}
	if sum.Groups != 1 || sum.Matches != 1 || sum.NewMatches != 1 {
		t.Fatalf("groups/matches/new = %d/%d/%d, want 1/1/1", sum.Groups, sum.Matches, sum.NewMatches)
	}
	if sum.Opportunities != 1 || sum.Alertable != 1 || sum.AlertsFired != 1 {
		t.Fatalf("opps/alertable/fired = %d/%d/%d, want 1/1/1",
			sum.Opportunities, sum.Alertable, sum.AlertsFired)
	}

	if len(fx.opps.opps) != 1 {
		t.Fatalf("stored opportunities = %d, want 1", len(fx.opps.opps))
	}
	opp := fx.opps.opps[0]
	if opp.SourceA != "kalshi" || opp.SourceB != "polymarket" {
		t.Fatalf("pair = %s/%s", opp.SourceA, opp.SourceB)
	}
	if math.Abs(opp.Spread-0.15) > 1e-9 || opp.Tier != domain.TierExceptional {
		t.Fatalf("spread/tier = %v/%v", opp.Spread, opp.Tier)
	}
	if opp.Action.BuyYesAt != "polymarket" || opp.Action.BuyNoAt != "kalshi" {
		t.Fatalf("hedge = YES@%s NO@%s, want YES at the cheaper venue", opp.Action.BuyYesAt, opp.Action.BuyNoAt)
	}

	if len(fx.alerts.events) != 1 {
		t.Fatalf("stored alerts = %d, want 1", len(fx.alerts.events))
	}
	fired := fx.alerts.events[0]
	if fired.Rule != "btc-watch" || fired.Severity != domain.SeverityWarning {
		t.Fatalf("fired = %+v", fired)
	}
	if math.Abs(fired.Probability-0.55) > 1e-9 {
		t.Fatalf("probability = %v, want 0.55", fired.Probability)
	}

	// Match announcement, opportunity, and alert each reach the sender.
	if len(fx.sender.titles) != 3 {
		t.Fatalf("sender deliveries = %v", fx.sender.titles)
	}

	for _, ch := range []string{ChannelStatus, ChannelOpportunities, ChannelAlerts} {
		if len(fx.bus.published[ch]) != 1 {
			t.Fatalf("channel %s publishes = %d, want 1", ch, len(fx.bus.published[ch]))
		}
		if len(fx.bus.streamed[ch]) != 1 {
			t.Fatalf("stream %s appends = %d, want 1", ch, len(fx.bus.streamed[ch]))
		}
	}

	mu.Lock()
	gotKeys := append([]string(nil), keys...)
	mu.Unlock()
	if len(gotKeys) != 2 {
		t.Fatalf("webhook deliveries = %d, want 2", len(gotKeys))
	}
	for _, k := range gotKeys {
		if !strings.HasPrefix(k, "test-run:") {
			t.Fatalf("idempotency key %q should carry the run id", k)
		}
	}

	last, ok := fx.eval.LastSummary()
	if !ok || last.Opportunities != 1 {
		t.Fatalf("LastSummary = %+v (%v)", last, ok)
	}
}

func TestEvaluateSecondPassSuppressesRepeats(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rule := domain.AlertRule{
		Name:           "btc-watch",
		MarketID:       "kalshi:BTC-100K",
		MinProbability: domain.Float(0.5),
		Severity:       domain.SeverityWarning,
	}
	fx := newEvalFixture(t, 2, []domain.AlertRule{rule}, srv.URL, srv.Client())

	if _, err := fx.eval.Evaluate(context.Background()); err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	sum2, err := fx.eval.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}

	if sum2.NewMatches != 0 {
		t.Fatalf("second pass new matches = %d, want 0 (cache suppression)", sum2.NewMatches)
	}
	if sum2.AlertsFired != 0 {
		t.Fatalf("second pass alerts = %d, want 0 (condition still met)", sum2.AlertsFired)
	}
	if sum2.Opportunities != 1 || sum2.Alertable != 1 {
		t.Fatalf("opportunity should be re-detected, got %d/%d", sum2.Opportunities, sum2.Alertable)
	}

	// The match itself is still current even though its announcement was
	// suppressed.
	matches := fx.eval.LastMatches()
	if len(matches) != 1 || len(matches[0].Sources) != 2 {
		t.Fatalf("LastMatches = %+v, want the one current match", matches)
	}

	// Webhooks: opportunity + alert on pass one, opportunity only on pass
	// two, and the unchanged opportunity keeps its idempotency key.
	mu.Lock()
	gotKeys := append([]string(nil), keys...)
	mu.Unlock()
	if len(gotKeys) != 3 {
		t.Fatalf("webhook deliveries = %d, want 3", len(gotKeys))
	}
	if gotKeys[2] != gotKeys[0] {
		t.Fatalf("repeat opportunity key changed: %q vs %q", gotKeys[2], gotKeys[0])
	}
	if gotKeys[1] == gotKeys[0] {
		t.Fatal("alert and opportunity should have distinct keys")
	}
}

func TestEvaluateMinSourcesGate(t *testing.T) {
	fx := newEvalFixture(t, 3, nil, "", nil)

	sum, err := fx.eval.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if sum.Groups != 0 || sum.Matches != 0 || sum.Opportunities != 0 {
		t.Fatalf("two-source group must not pass a three-source floor: %+v", sum)
	}
}

type fakeElector struct {
	mu       sync.Mutex
	err      error
	holds    int
	released bool
}

func (f *fakeElector) Hold(context.Context, string, time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.holds++
	return func() {
		f.mu.Lock()
		f.released = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeElector) stats() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holds, f.released
}

func newIdleOrchestrator(t *testing.T, leader LeaderElector) (*Orchestrator, *SnapshotTable, *Evaluator) {
	t.Helper()
	logger := discardLogger()

	adapter := &fakeAdapter{name: "fake"}
	table := NewSnapshotTable()
	p := NewPoller(adapter, openLimits("fake"), retry.NewExecutor(1, logger), table, nil, nil, logger)

	matcher := match.NewEngine(nil, 0.7, logger)
	scorer := score.NewScorer(score.Config{MinSpread: 0.08}, logger)
	ruleEngine, err := alert.NewEngine(nil, logger)
	if err != nil {
		t.Fatalf("alert.NewEngine: %v", err)
	}
	eval := NewEvaluator(table, matcher, scorer, ruleEngine, 2, Sinks{}, logger)

	o := NewOrchestrator([]*Poller{p}, eval, nil, leader,
		20*time.Millisecond, 20*time.Millisecond, "", logger)
	return o, table, eval
}

func TestOrchestratorRunStopsCleanOnCancel(t *testing.T) {
	o, table, eval := newIdleOrchestrator(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	if _, ok := table.Snapshot("fake"); !ok {
		t.Fatal("poll loop never completed a cycle")
	}
	if _, ok := eval.LastSummary(); !ok {
		t.Fatal("evaluation loop never ran")
	}
}

func TestOrchestratorStandbyWhenLockHeld(t *testing.T) {
	elector := &fakeElector{err: domain.ErrLockHeld}
	o, table, eval := newIdleOrchestrator(t, elector)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}

	if _, ok := eval.LastSummary(); ok {
		t.Fatal("standby replica must not evaluate")
	}
	if _, ok := table.Snapshot("fake"); !ok {
		t.Fatal("standby replica should still poll")
	}
}

func TestOrchestratorLeaderEvaluatesAndReleases(t *testing.T) {
	elector := &fakeElector{}
	o, _, eval := newIdleOrchestrator(t, elector)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(60 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}

	if _, ok := eval.LastSummary(); !ok {
		t.Fatal("leader must evaluate")
	}
	holds, released := elector.stats()
	if holds != 1 {
		t.Fatalf("holds = %d, want 1", holds)
	}
	if !released {
		t.Fatal("leadership must be released on shutdown")
	}
}
