// Package limitless reads markets from the Limitless exchange API. The API
// wraps its market list in varying envelopes and ships current prices on the
// market objects themselves, so the client caches those prices at list time
// and serves them as mid-only quotes.
package limitless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/source"
)

const (
	// Name is the source identifier this client registers under.
	Name = "limitless"

	// DefaultBaseURL is the Limitless API root.
	DefaultBaseURL = "https://api.limitless.exchange"

	defaultMarketsLimit = 50
)

// Client is the Limitless REST client.
type Client struct {
	baseURL    string
	limit      int
	httpClient *http.Client

	mu     sync.Mutex
	prices map[string][]float64
}

// NewClient creates a Limitless client.
func NewClient(baseURL string, marketsLimit int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if marketsLimit <= 0 {
		marketsLimit = defaultMarketsLimit
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   marketsLimit,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		prices: make(map[string][]float64),
	}
}

func (c *Client) Name() string { return Name }

// ListActiveMarkets fetches /markets/active and replaces the price cache
// wholesale with whatever prices the payload carried.
func (c *Client) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.limit))

	body, err := source.Get(ctx, c.httpClient, c.baseURL+"/markets/active?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("limitless: list markets: %w", err)
	}

	items := unwrapList(body)
	if items == nil {
		return nil, fmt.Errorf("limitless: decode markets: no market list in response")
	}

	markets := make([]domain.Market, 0, len(items))
	fresh := make(map[string][]float64, len(items))
	for _, item := range items {
		var m apiMarket
		if err := json.Unmarshal(item, &m); err != nil {
			continue
		}
		id := m.id()
		if id == "" {
			continue
		}
		if len(m.Prices) > 0 {
			fresh[id] = m.Prices
		}
		markets = append(markets, m.toDomain(id))
	}

	c.mu.Lock()
	c.prices = fresh
	c.mu.Unlock()

	return markets, nil
}

// ListOutcomes returns the two sides of a binary Limitless market.
func (c *Client) ListOutcomes(_ context.Context, market domain.Market) ([]domain.Outcome, error) {
	return []domain.Outcome{
		{OutcomeID: market.MarketID + "_YES", Name: "YES"},
		{OutcomeID: market.MarketID + "_NO", Name: "NO"},
	}, nil
}

// GetQuotes serves mid-only quotes from the prices cached by the last
// ListActiveMarkets call. Prices arrive on a 0-100 scale ordered [yes, no];
// a missing NO price is derived as the YES complement.
func (c *Client) GetQuotes(_ context.Context, market domain.Market, outcomes []domain.Outcome) ([]domain.Quote, error) {
	c.mu.Lock()
	prices := c.prices[market.MarketID]
	c.mu.Unlock()

	var yes, no *float64
	if len(prices) > 0 {
		yes = domain.Float(prices[0] / 100)
		if len(prices) > 1 {
			no = domain.Float(prices[1] / 100)
		} else {
			no = domain.Float(1 - prices[0]/100)
		}
	}

	now := time.Now()
	quotes := make([]domain.Quote, 0, len(outcomes))
	for _, o := range outcomes {
		q := domain.Quote{OutcomeID: o.OutcomeID, Timestamp: now}
		if o.Name == "YES" {
			q.Mid = yes
		} else {
			q.Mid = no
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// apiMarket is a market object from the Limitless API. Field names differ
// between API revisions, so identifiers and titles are taken from the first
// populated candidate.
type apiMarket struct {
	ID         flexString `json:"id"`
	Slug       string     `json:"slug"`
	MarketSlug string     `json:"marketSlug"`
	Title      string     `json:"title"`
	Question   string     `json:"question"`
	Name       string     `json:"name"`
	Prices     []float64  `json:"prices"`
	CreatedAt  string     `json:"createdAt"`
	Deadline   string     `json:"deadline"`
	Expired    bool       `json:"expired"`
}

func (m *apiMarket) id() string {
	for _, candidate := range []string{m.Slug, string(m.ID), m.MarketSlug} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

func (m *apiMarket) toDomain(id string) domain.Market {
	dm := domain.Market{
		Source:   Name,
		MarketID: id,
		URL:      "https://limitless.exchange/events/" + id,
		Active:   !m.Expired,
	}
	for _, candidate := range []string{m.Title, m.Question, m.Name} {
		if title := strings.TrimSpace(candidate); title != "" {
			dm.Title = title
			break
		}
	}
	if dm.Title == "" {
		dm.Title = id
	}
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedTime = t
	}
	if t, err := time.Parse(time.RFC3339, m.Deadline); err == nil {
		dm.EndTime = &t
	}
	return dm
}

// flexString unmarshals from a JSON string or number, since Limitless IDs
// have shipped as both.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// unwrapList extracts the market array from the response, which has shipped
// as a bare array, under a top-level data/markets/items/results key, and
// nested one level under data.
func unwrapList(body []byte) []json.RawMessage {
	var direct []json.RawMessage
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	keys := []string{"data", "markets", "items", "results"}
	for _, key := range keys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &direct); err == nil {
			return direct
		}
	}

	if nested, ok := envelope["data"]; ok {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err == nil {
			for _, key := range keys[1:] {
				raw, ok := inner[key]
				if !ok {
					continue
				}
				if err := json.Unmarshal(raw, &direct); err == nil {
					return direct
				}
			}
		}
	}
	return nil
}
