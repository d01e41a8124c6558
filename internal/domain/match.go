package domain

import "time"

// Category is a coarse topical classification for a matched event.
type Category string

const (
	CategoryCrypto        Category = "crypto"
	CategoryPolitics      Category = "politics"
	CategorySports        Category = "sports"
	CategoryEconomy       Category = "economy"
	CategoryWeather       Category = "weather"
	CategoryGeopolitics   Category = "geopolitics"
	CategoryTechnology    Category = "technology"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

// GroupEntry is one source's listing of a matched event, together with the
// quotes fetched for it this cycle.
type GroupEntry struct {
	Source string
	Market Market
	Quotes []Quote
}

// MatchGroup collects all listings that normalized to the same title within
// a single polling cycle. Membership is a set: no ordering is guaranteed.
type MatchGroup struct {
	NormalizedTitle string
	Entries         []GroupEntry
}

// SourceCount returns the number of distinct sources present in the group.
func (g MatchGroup) SourceCount() int {
	seen := make(map[string]struct{}, len(g.Entries))
	for _, e := range g.Entries {
		seen[e.Source] = struct{}{}
	}
	return len(seen)
}

// EventMatch is the durable record of a cross-source match, kept in the
// confidence cache so repeated detections of the same event can be
// suppressed downstream.
type EventMatch struct {
	NormalizedTitle string
	Sources         []string
	Category        Category
	Confidence      float64
	CreatedAt       time.Time
}
