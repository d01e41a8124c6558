package match

import (
	"strings"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// categoryOrder fixes the tie-break: when two categories score equally, the
// earlier one wins.
var categoryOrder = []domain.Category{
	domain.CategoryCrypto,
	domain.CategoryPolitics,
	domain.CategorySports,
	domain.CategoryEconomy,
	domain.CategoryWeather,
	domain.CategoryGeopolitics,
	domain.CategoryTechnology,
	domain.CategoryEntertainment,
}

var categoryKeywords = map[domain.Category][]string{
	domain.CategoryCrypto:        {"bitcoin", "ethereum", "eth", "btc", "solana", "doge", "crypto", "blockchain", "defi"},
	domain.CategoryPolitics:      {"trump", "biden", "election", "president", "congress", "senate", "vote", "political"},
	domain.CategorySports:        {"nfl", "nba", "mlb", "soccer", "football", "basketball", "baseball", "team", "game", "match"},
	domain.CategoryEconomy:       {"fed", "inflation", "interest rates", "recession", "gdp", "unemployment", "economy"},
	domain.CategoryWeather:       {"hurricane", "temperature", "snow", "rain", "weather", "climate", "tornado"},
	domain.CategoryGeopolitics:   {"war", "iran", "china", "russia", "ukraine", "israel", "conflict", "geopolitical"},
	domain.CategoryTechnology:    {"apple", "google", "tesla", "microsoft", "tech", "ai", "chatgpt", "innovation"},
	domain.CategoryEntertainment: {"oscars", "grammys", "movie", "music", "celebrity", "entertainment"},
}

// Classify assigns a category by counting keyword hits in the raw title. The
// highest-scoring category wins; titles matching nothing fall back to other.
func Classify(title string) domain.Category {
	lower := strings.ToLower(title)

	best := domain.CategoryOther
	bestScore := 0
	for _, cat := range categoryOrder {
		score := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best = cat
			bestScore = score
		}
	}
	return best
}
