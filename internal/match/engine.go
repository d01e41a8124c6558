package match

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

const (
	// minGroupSources is the least number of distinct sources a group needs
	// to count as a cross-source match.
	minGroupSources = 2

	defaultMinConfidence = 0.7
)

// Engine groups markets by normalized title and scores cross-source matches.
// Grouping is recomputed from scratch on every cycle; only the confidence
// cache, used to suppress repeat announcements, lives across cycles.
type Engine struct {
	minConfidence float64
	cache         domain.MatchCache
	logger        *slog.Logger
	now           func() time.Time
}

// NewEngine builds an engine. cache may be nil, in which case FilterNew
// applies only the confidence floor. minConfidence at or below zero falls
// back to the default floor of 0.7.
func NewEngine(cache domain.MatchCache, minConfidence float64, logger *slog.Logger) *Engine {
	if minConfidence <= 0 {
		minConfidence = defaultMinConfidence
	}
	return &Engine{
		minConfidence: minConfidence,
		cache:         cache,
		logger:        logger.With(slog.String("component", "match")),
		now:           time.Now,
	}
}

// Group buckets markets by normalized title and keeps only groups spanning at
// least two distinct sources. Markets whose titles normalize to the empty
// string are excluded. Sources are visited in sorted order so group entries
// and results are deterministic.
func (e *Engine) Group(marketsBySource map[string][]domain.Market) []domain.MatchGroup {
	sources := make([]string, 0, len(marketsBySource))
	for source := range marketsBySource {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	byTitle := make(map[string][]domain.GroupEntry)
	for _, source := range sources {
		for _, market := range marketsBySource[source] {
			norm := Normalize(market.Title)
			if norm == "" {
				continue
			}
			byTitle[norm] = append(byTitle[norm], domain.GroupEntry{
				Source: source,
				Market: market,
			})
		}
	}

	groups := make([]domain.MatchGroup, 0, len(byTitle))
	for norm, entries := range byTitle {
		g := domain.MatchGroup{NormalizedTitle: norm, Entries: entries}
		if g.SourceCount() < minGroupSources {
			continue
		}
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].NormalizedTitle < groups[j].NormalizedTitle
	})
	return groups
}

// Match turns groups into scored event matches, sorted by confidence
// descending.
func (e *Engine) Match(groups []domain.MatchGroup) []domain.EventMatch {
	matches := make([]domain.EventMatch, 0, len(groups))
	for _, g := range groups {
		if len(g.Entries) == 0 || g.SourceCount() < minGroupSources {
			continue
		}

		seen := make(map[string]struct{})
		sources := make([]string, 0, len(g.Entries))
		for _, entry := range g.Entries {
			if _, ok := seen[entry.Source]; ok {
				continue
			}
			seen[entry.Source] = struct{}{}
			sources = append(sources, entry.Source)
		}
		sort.Strings(sources)

		matches = append(matches, domain.EventMatch{
			NormalizedTitle: g.NormalizedTitle,
			Sources:         sources,
			Category:        Classify(g.Entries[0].Market.Title),
			Confidence:      Confidence(g.Entries),
			CreatedAt:       e.now(),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].NormalizedTitle < matches[j].NormalizedTitle
	})
	return matches
}

// FilterNew keeps matches that clear the confidence floor and have not been
// announced before, then records them so the next cycle suppresses repeats.
// Cache errors degrade to treating the match as new.
func (e *Engine) FilterNew(ctx context.Context, matches []domain.EventMatch) []domain.EventMatch {
	fresh := make([]domain.EventMatch, 0, len(matches))
	for _, m := range matches {
		if m.Confidence < e.minConfidence {
			continue
		}
		if e.cache != nil {
			seen, err := e.cache.Seen(ctx, m.NormalizedTitle)
			if err != nil {
				e.logger.Warn("match cache lookup failed",
					slog.String("title", m.NormalizedTitle),
					slog.String("error", err.Error()))
			} else if seen {
				continue
			}
		}
		fresh = append(fresh, m)
	}

	if e.cache != nil {
		for _, m := range fresh {
			if err := e.cache.Put(ctx, m); err != nil {
				e.logger.Warn("match cache store failed",
					slog.String("title", m.NormalizedTitle),
					slog.String("error", err.Error()))
			}
		}
	}
	return fresh
}

// Confidence scores a match from its source spread and the token overlap of
// the first two raw titles. Range [0,1]: up to 0.9 from the distinct-source
// count (0.3 per source) plus up to 0.1 from title similarity.
func Confidence(entries []domain.GroupEntry) float64 {
	if len(entries) < 2 {
		return 0
	}

	distinct := make(map[string]struct{})
	for _, e := range entries {
		distinct[e.Source] = struct{}{}
	}
	base := min(0.3*float64(len(distinct)), 0.9)

	bonus := 0.1 * jaccard(tokenSet(entries[0].Market.Title), tokenSet(entries[1].Market.Title))
	return min(base+bonus, 1.0)
}

func tokenSet(title string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	union := len(b)
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
