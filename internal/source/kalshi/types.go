package kalshi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// apiMarket is a market as returned by the /markets endpoint.
type apiMarket struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Status      string `json:"status"` // "open", "closed", "settled"
	OpenTime    string `json:"open_time"`
	CloseTime   string `json:"close_time"`
}

func (m *apiMarket) toDomain() domain.Market {
	dm := domain.Market{
		Source:   Name,
		MarketID: m.Ticker,
		Title:    strings.TrimSpace(m.Title),
		URL:      "https://kalshi.com/markets/" + strings.ToLower(m.Ticker),
		Active:   m.Status == "open",
	}
	if dm.Title == "" {
		dm.Title = strings.TrimSpace(m.Subtitle)
	}
	if dm.Title == "" {
		dm.Title = m.Ticker
	}
	if t, err := time.Parse(time.RFC3339, m.OpenTime); err == nil {
		dm.CreatedTime = t
	}
	if t, err := time.Parse(time.RFC3339, m.CloseTime); err == nil {
		dm.EndTime = &t
	}
	return dm
}

// bookLevel is one orderbook level. Kalshi sends levels as two-element
// arrays: [price_cents, contracts].
type bookLevel struct {
	PriceCents float64
	Count      float64
}

func (l *bookLevel) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) < 2 {
		return fmt.Errorf("orderbook level has %d values, want [price, count]", len(pair))
	}
	l.PriceCents = pair[0]
	l.Count = pair[1]
	return nil
}
