package match

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

type memoryMatchCache struct {
	entries map[string]domain.EventMatch
}

func newMemoryMatchCache() *memoryMatchCache {
	return &memoryMatchCache{entries: make(map[string]domain.EventMatch)}
}

func (c *memoryMatchCache) Put(_ context.Context, m domain.EventMatch) error {
	c.entries[m.NormalizedTitle] = m
	return nil
}

func (c *memoryMatchCache) Get(_ context.Context, title string) (domain.EventMatch, error) {
	m, ok := c.entries[title]
	if !ok {
		return domain.EventMatch{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memoryMatchCache) Seen(_ context.Context, title string) (bool, error) {
	_, ok := c.entries[title]
	return ok, nil
}

func newTestEngine(cache domain.MatchCache) *Engine {
	return NewEngine(cache, 0.7, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func market(source, id, title string) domain.Market {
	return domain.Market{Source: source, MarketID: id, Title: title, Active: true}
}

func TestGroupRequiresTwoSources(t *testing.T) {
	e := newTestEngine(nil)

	groups := e.Group(map[string][]domain.Market{
		"polymarket": {
			market("polymarket", "p1", "Will Bitcoin reach $100k by December?"),
			market("polymarket", "p2", "Bitcoin reach 100k December"),
		},
		"kalshi": {
			market("kalshi", "k1", "Something only Kalshi lists"),
		},
	})

	// Both Polymarket titles normalize to one key, but they share a source,
	// so no cross-source group exists.
	if len(groups) != 0 {
		t.Fatalf("groups = %d, want 0", len(groups))
	}
}

func TestGroupMatchesAcrossSources(t *testing.T) {
	e := newTestEngine(nil)

	groups := e.Group(map[string][]domain.Market{
		"polymarket": {market("polymarket", "p1", "Will Bitcoin reach $100k by December?")},
		"manifold":   {market("manifold", "m1", "Bitcoin reach 100k December")},
		"kalshi":     {market("kalshi", "k1", "Unrelated market about weather")},
	})

	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.NormalizedTitle != "btc reach 100k december" {
		t.Errorf("normalized title = %q", g.NormalizedTitle)
	}
	if g.SourceCount() != 2 {
		t.Errorf("source count = %d, want 2", g.SourceCount())
	}
	// Entries arrive source-sorted.
	if g.Entries[0].Source != "manifold" || g.Entries[1].Source != "polymarket" {
		t.Errorf("entry order = [%s %s], want [manifold polymarket]",
			g.Entries[0].Source, g.Entries[1].Source)
	}
}

func TestGroupExcludesEmptyTitles(t *testing.T) {
	e := newTestEngine(nil)

	groups := e.Group(map[string][]domain.Market{
		"polymarket": {market("polymarket", "p1", "???")},
		"manifold":   {market("manifold", "m1", "!!!")},
	})

	if len(groups) != 0 {
		t.Fatalf("groups = %d, want 0 for unparseable titles", len(groups))
	}
}

func TestConfidence(t *testing.T) {
	entryFor := func(source, title string) domain.GroupEntry {
		return domain.GroupEntry{Source: source, Market: market(source, "x", title)}
	}

	tests := []struct {
		name    string
		entries []domain.GroupEntry
		want    float64
	}{
		{
			name:    "single entry scores zero",
			entries: []domain.GroupEntry{entryFor("polymarket", "BTC 100k")},
			want:    0,
		},
		{
			name: "two sources identical titles",
			entries: []domain.GroupEntry{
				entryFor("kalshi", "btc 100k"),
				entryFor("polymarket", "btc 100k"),
			},
			want: 0.7,
		},
		{
			name: "two sources disjoint titles",
			entries: []domain.GroupEntry{
				entryFor("kalshi", "alpha beta"),
				entryFor("polymarket", "gamma delta"),
			},
			want: 0.6,
		},
		{
			name: "platform contribution caps at 0.9",
			entries: []domain.GroupEntry{
				entryFor("kalshi", "btc 100k"),
				entryFor("limitless", "btc 100k"),
				entryFor("manifold", "btc 100k"),
				entryFor("polymarket", "btc 100k"),
			},
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.entries)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Confidence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchSortsByConfidence(t *testing.T) {
	e := newTestEngine(nil)

	groups := e.Group(map[string][]domain.Market{
		"polymarket": {
			market("polymarket", "p1", "btc 100k"),
			market("polymarket", "p2", "trump wins election"),
		},
		"manifold": {
			market("manifold", "m1", "btc 100k"),
		},
		"kalshi": {
			market("kalshi", "k1", "btc 100k"),
			market("kalshi", "k2", "trump wins the election?"),
		},
	})

	matches := e.Match(groups)
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	// Three sources beat two.
	if matches[0].NormalizedTitle != "btc 100k" {
		t.Errorf("top match = %q, want btc 100k", matches[0].NormalizedTitle)
	}
	if matches[0].Confidence <= matches[1].Confidence {
		t.Errorf("matches not sorted by confidence: %v then %v",
			matches[0].Confidence, matches[1].Confidence)
	}
	if matches[0].Category != domain.CategoryCrypto {
		t.Errorf("category = %s, want crypto", matches[0].Category)
	}
	if matches[1].Category != domain.CategoryPolitics {
		t.Errorf("category = %s, want politics", matches[1].Category)
	}
}

func TestFilterNewSuppressesRepeats(t *testing.T) {
	cache := newMemoryMatchCache()
	e := newTestEngine(cache)
	ctx := context.Background()

	matches := []domain.EventMatch{
		{NormalizedTitle: "btc 100k", Sources: []string{"kalshi", "polymarket"}, Confidence: 0.8},
		{NormalizedTitle: "low confidence", Sources: []string{"kalshi", "manifold"}, Confidence: 0.6},
	}

	first := e.FilterNew(ctx, matches)
	if len(first) != 1 || first[0].NormalizedTitle != "btc 100k" {
		t.Fatalf("first pass = %+v, want just btc 100k", first)
	}

	second := e.FilterNew(ctx, matches)
	if len(second) != 0 {
		t.Fatalf("second pass = %d matches, want 0 (already announced)", len(second))
	}

	// The low-confidence match was never announced, so a later confidence
	// bump must still surface it.
	matches[1].Confidence = 0.9
	third := e.FilterNew(ctx, matches)
	if len(third) != 1 || third[0].NormalizedTitle != "low confidence" {
		t.Fatalf("third pass = %+v, want the promoted match", third)
	}
}
