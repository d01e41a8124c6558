package score

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/match"
)

const (
	defaultMinSpread     = 0.08
	defaultNewEventHours = 24

	// buySignalSpread is the spread at which a WATCH becomes a BUY.
	buySignalSpread = 0.10
)

// Config tunes opportunity detection.
type Config struct {
	// MinSpread is the smallest absolute mid spread (0-1 scale) worth
	// emitting.
	MinSpread float64
	// PrioritizeNew marks opportunities on recently created markets as high
	// priority.
	PrioritizeNew bool
	// NewEventHours is the age cutoff for "recently created".
	NewEventHours int
}

// Scorer derives opportunities from match groups. It is a pure function of
// the groups handed in per cycle and holds no cross-cycle state.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if cfg.MinSpread <= 0 {
		cfg.MinSpread = defaultMinSpread
	}
	if cfg.NewEventHours <= 0 {
		cfg.NewEventHours = defaultNewEventHours
	}
	return &Scorer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "score")),
		now:    time.Now,
	}
}

// Score evaluates every group pairwise and returns opportunities sorted high
// priority first, widest spread first.
func (s *Scorer) Score(groups []domain.MatchGroup) []domain.Opportunity {
	var opps []domain.Opportunity
	for _, g := range groups {
		opps = append(opps, s.scoreGroup(g)...)
	}

	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Priority != b.Priority {
			return a.Priority == domain.PriorityHigh
		}
		if a.Spread != b.Spread {
			return a.Spread > b.Spread
		}
		return a.NormalizedTitle < b.NormalizedTitle
	})
	return opps
}

func (s *Scorer) scoreGroup(g domain.MatchGroup) []domain.Opportunity {
	if g.SourceCount() < 2 || len(g.Entries) == 0 {
		return nil
	}

	// First usable mid per source; a source with no priced quote drops out
	// of pairing for this cycle.
	mids := make(map[string]float64)
	sources := make([]string, 0, len(g.Entries))
	markets := make([]domain.Market, 0, len(g.Entries))
	for _, entry := range g.Entries {
		markets = append(markets, entry.Market)
		if _, ok := mids[entry.Source]; ok {
			continue
		}
		for _, q := range entry.Quotes {
			if q.Mid != nil {
				mids[entry.Source] = *q.Mid
				sources = append(sources, entry.Source)
				break
			}
		}
	}
	if len(mids) < 2 {
		return nil
	}
	sort.Strings(sources)

	title := g.Entries[0].Market.Title
	category := match.Classify(title)
	priority := domain.PriorityNormal
	if s.cfg.PrioritizeNew && s.anyNew(g.Entries) {
		priority = domain.PriorityHigh
	}
	now := s.now()

	var opps []domain.Opportunity
	for i := 0; i < len(sources); i++ {
		for j := i + 1; j < len(sources); j++ {
			s1, s2 := sources[i], sources[j]
			mid1, mid2 := mids[s1], mids[s2]
			spread := math.Abs(mid1 - mid2)
			if spread < s.cfg.MinSpread {
				continue
			}

			spreadPct := spread * 100
			ti := ClassifyTier(spreadPct)

			opps = append(opps, domain.Opportunity{
				ID:              uuid.NewString(),
				Title:           title,
				NormalizedTitle: g.NormalizedTitle,
				Category:        category,
				SourceA:         s1,
				SourceB:         s2,
				MidA:            mid1,
				MidB:            mid2,
				Spread:          spread,
				SpreadPct:       spreadPct,
				Tier:            ti.Tier,
				TierPriority:    ti.Priority,
				QualityScore:    Quality(spreadPct),
				Priority:        priority,
				Action:          buildAction(s1, mid1, s2, mid2, spread),
				Markets:         markets,
				DetectedAt:      now,
			})
		}
	}
	return opps
}

// buildAction spells out the hedge: buy YES where the event is cheap, buy NO
// where it is expensive, and the locked-in profit is the spread.
func buildAction(s1 string, mid1 float64, s2 string, mid2 float64, spread float64) domain.Action {
	cheapSource, cheapMid := s1, mid1
	expensiveSource, expensiveMid := s2, mid2
	if mid2 < mid1 {
		cheapSource, cheapMid = s2, mid2
		expensiveSource, expensiveMid = s1, mid1
	}

	signal := domain.SignalWatch
	if spread >= buySignalSpread {
		signal = domain.SignalBuy
	}

	return domain.Action{
		BuyYesAt:        cheapSource,
		BuyYesPrice:     round3(cheapMid),
		BuyNoAt:         expensiveSource,
		BuyNoPrice:      round3(1 - expensiveMid),
		ProfitPerDollar: spread,
		ProfitCents:     round1(spread * 100),
		Signal:          signal,
		Explanation: fmt.Sprintf(
			"Buy YES on %s at %.0f%%, Buy NO on %s at %.0f%%. Potential profit: %.1f¢ per $1.",
			cheapSource, cheapMid*100, expensiveSource, (1-expensiveMid)*100, spread*100),
	}
}

func (s *Scorer) anyNew(entries []domain.GroupEntry) bool {
	cutoff := s.now().Add(-time.Duration(s.cfg.NewEventHours) * time.Hour)
	for _, entry := range entries {
		created := entry.Market.CreatedTime
		if created.IsZero() || created.After(cutoff) {
			return true
		}
	}
	return false
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
