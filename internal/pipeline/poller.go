package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/ratelimit"
	"github.com/alanyoungcy/arbwatch/internal/retry"
	"github.com/alanyoungcy/arbwatch/internal/source"
)

// Poller drives the poll loop for one source: pace each outbound call with
// the rate limiter, run it through the retry executor, and publish the cycle
// result to the snapshot table. A failure on one source never reaches the
// loops of other sources.
type Poller struct {
	adapter source.Adapter
	limiter *ratelimit.Limiter
	exec    *retry.Executor
	table   *SnapshotTable
	markets domain.MarketStore // optional, nil disables persistence
	quotes  domain.QuoteCache  // optional, nil disables the mid cache
	logger  *slog.Logger
	now     func() time.Time
}

// NewPoller creates a Poller for one adapter. markets and quotes may be nil.
func NewPoller(
	adapter source.Adapter,
	limiter *ratelimit.Limiter,
	exec *retry.Executor,
	table *SnapshotTable,
	markets domain.MarketStore,
	quotes domain.QuoteCache,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		adapter: adapter,
		limiter: limiter,
		exec:    exec,
		table:   table,
		markets: markets,
		quotes:  quotes,
		logger: logger.With(
			slog.String("component", "poller"),
			slog.String("source", adapter.Name())),
		now: time.Now,
	}
}

// Source returns the name of the polled source.
func (p *Poller) Source() string {
	return p.adapter.Name()
}

// Poll executes a single cycle: list active markets, then fetch outcomes and
// quotes per market. A market whose quotes cannot be fetched is dropped from
// the snapshot with a log line; a failure to list markets fails the whole
// cycle and is recorded against the source's health.
func (p *Poller) Poll(ctx context.Context) error {
	name := p.adapter.Name()
	start := p.now()

	markets, err := p.listMarkets(ctx)
	if err != nil {
		p.table.RecordError(name, err)
		return fmt.Errorf("pipeline: poll %s: %w", name, err)
	}

	snap := SourceSnapshot{
		Source:  name,
		Markets: make([]domain.Market, 0, len(markets)),
		Quotes:  make(map[string][]domain.Quote, len(markets)),
	}
	dropped := 0
	cacheErrs := 0
	for _, market := range markets {
		quotes, err := p.marketQuotes(ctx, market)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			dropped++
			p.logger.Warn("dropping market after quote fetch failure",
				slog.String("market_id", market.MarketID),
				slog.String("error", err.Error()))
			continue
		}
		snap.Markets = append(snap.Markets, market)
		snap.Quotes[market.MarketID] = quotes

		if p.quotes != nil {
			if mid, ok := firstMid(quotes); ok {
				if err := p.quotes.SetMid(ctx, name, market.MarketID, mid, p.now()); err != nil {
					cacheErrs++
				}
			}
		}
	}
	snap.FetchedAt = p.now()

	p.table.Update(snap)
	p.table.RecordSuccess(name, len(snap.Markets), p.now().Sub(start))

	if p.markets != nil && len(snap.Markets) > 0 {
		if err := p.markets.UpsertBatch(ctx, snap.Markets); err != nil {
			p.logger.Warn("market snapshot persist failed",
				slog.String("error", err.Error()))
		}
	}
	if cacheErrs > 0 {
		p.logger.Warn("quote cache writes failed", slog.Int("count", cacheErrs))
	}

	p.logger.Info("poll cycle complete",
		slog.Int("markets", len(snap.Markets)),
		slog.Int("dropped", dropped),
		slog.Duration("elapsed", p.now().Sub(start)))
	return nil
}

func (p *Poller) listMarkets(ctx context.Context) ([]domain.Market, error) {
	name := p.adapter.Name()
	if err := p.limiter.Acquire(ctx, name); err != nil {
		return nil, err
	}
	var markets []domain.Market
	err := p.exec.Do(ctx, name+".markets", func(ctx context.Context) error {
		var err error
		markets, err = p.adapter.ListActiveMarkets(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return markets, nil
}

// marketQuotes fetches the outcome set and one quote per outcome for a
// single market. Derived mids are filled in before the quotes are returned.
func (p *Poller) marketQuotes(ctx context.Context, market domain.Market) ([]domain.Quote, error) {
	name := p.adapter.Name()

	if err := p.limiter.Acquire(ctx, name); err != nil {
		return nil, err
	}
	var outcomes []domain.Outcome
	err := p.exec.Do(ctx, name+".outcomes", func(ctx context.Context) error {
		var err error
		outcomes, err = p.adapter.ListOutcomes(ctx, market)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Acquire(ctx, name); err != nil {
		return nil, err
	}
	var quotes []domain.Quote
	err = p.exec.Do(ctx, name+".quotes", func(ctx context.Context) error {
		var err error
		quotes, err = p.adapter.GetQuotes(ctx, market, outcomes)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range quotes {
		quotes[i].Derive()
	}
	return quotes, nil
}

// RunLoop polls immediately, then on every interval tick until the context
// is cancelled.
func (p *Poller) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("poll failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poll loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// firstMid returns the first priced mid among the quotes. The leading
// outcome is treated as the YES side, matching the scorer's convention.
func firstMid(quotes []domain.Quote) (float64, bool) {
	for _, q := range quotes {
		if q.Mid != nil {
			return *q.Mid, true
		}
	}
	return 0, false
}
