// Package manifold reads binary markets from the Manifold Markets API.
// Manifold is an AMM without a public order book, so quotes carry only a
// mid: the current probability for YES and its complement for NO.
package manifold

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/source"
)

const (
	// Name is the source identifier this client registers under.
	Name = "manifold"

	// DefaultBaseURL is the Manifold API root. No authentication is needed
	// for reads.
	DefaultBaseURL = "https://api.manifold.markets"

	defaultMarketsLimit = 50
)

// Client is the Manifold REST client.
type Client struct {
	baseURL    string
	limit      int
	httpClient *http.Client
}

// NewClient creates a Manifold client.
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
	}
}

func (c *Client) Name() string { return Name }

// ListActiveMarkets fetches open binary markets via /v0/search-markets,
// sorted by liquidity so the most tradeable markets come first.
func (c *Client) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("term", "")
	params.Set("sort", "liquidity")
	params.Set("filter", "open")
	params.Set("contractType", "BINARY")
	params.Set("limit", strconv.Itoa(c.limit))

	body, err := source.Get(ctx, c.httpClient, c.baseURL+"/v0/search-markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("manifold: list markets: %w", err)
	}

	var raw []apiMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("manifold: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(raw))
	for _, m := range raw {
		if m.ID == "" || m.OutcomeType != "BINARY" {
			continue
		}
		markets = append(markets, m.toDomain())
	}
	return markets, nil
}

// ListOutcomes returns the two sides of a binary Manifold market.
func (c *Client) ListOutcomes(_ context.Context, market domain.Market) ([]domain.Outcome, error) {
	return []domain.Outcome{
		{OutcomeID: market.MarketID + "_YES", Name: "YES"},
		{OutcomeID: market.MarketID + "_NO", Name: "NO"},
	}, nil
}

// GetQuotes reads the market's current probability and maps it to mid-only
// quotes: p for YES, 1-p for NO. A market with no retrievable probability
// yields quotes with nil mids.
func (c *Client) GetQuotes(ctx context.Context, market domain.Market, outcomes []domain.Outcome) ([]domain.Quote, error) {
	prob, err := c.probability(ctx, market.MarketID)
	if err != nil {
		return nil, fmt.Errorf("manifold: get quotes %s: %w", market.MarketID, err)
	}

	now := time.Now()
	quotes := make([]domain.Quote, 0, len(outcomes))
	for _, o := range outcomes {
		q := domain.Quote{OutcomeID: o.OutcomeID, Timestamp: now}
		if prob != nil {
			if o.Name == "YES" {
				q.Mid = domain.Float(*prob)
			} else {
				q.Mid = domain.Float(1 - *prob)
			}
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// probability tries the lightweight /prob endpoint first and falls back to
// the full market object when it comes back empty. A nil result without an
// error means the market simply has no probability right now.
func (c *Client) probability(ctx context.Context, marketID string) (*float64, error) {
	escaped := url.PathEscape(marketID)

	body, err := source.Get(ctx, c.httpClient, c.baseURL+"/v0/market/"+escaped+"/prob")
	if err != nil {
		return nil, fmt.Errorf("get prob: %w", err)
	}

	var probResp struct {
		Prob *float64 `json:"prob"`
	}
	if err := json.Unmarshal(body, &probResp); err != nil {
		return nil, fmt.Errorf("decode prob: %w", err)
	}
	if probResp.Prob != nil {
		return probResp.Prob, nil
	}

	body, err = source.Get(ctx, c.httpClient, c.baseURL+"/v0/market/"+escaped)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("get market: %w", err)
		}
		// The /prob endpoint answered, so the market exists; a failed
		// fallback just means no probability this cycle.
		return nil, nil
	}

	var marketResp struct {
		Probability *float64 `json:"probability"`
	}
	if err := json.Unmarshal(body, &marketResp); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}
	return marketResp.Probability, nil
}

// apiMarket is a market as returned by /v0/search-markets. Timestamps are
// epoch milliseconds.
type apiMarket struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	URL         string `json:"url"`
	OutcomeType string `json:"outcomeType"`
	CreatedTime int64  `json:"createdTime"`
	CloseTime   int64  `json:"closeTime"`
	IsResolved  bool   `json:"isResolved"`
}

func (m *apiMarket) toDomain() domain.Market {
	dm := domain.Market{
		Source:   Name,
		MarketID: m.ID,
		Title:    strings.TrimSpace(m.Question),
		URL:      m.URL,
		Active:   !m.IsResolved,
	}
	if dm.Title == "" {
		dm.Title = m.ID
	}
	if m.CreatedTime > 0 {
		dm.CreatedTime = time.UnixMilli(m.CreatedTime)
	}
	if m.CloseTime > 0 {
		t := time.UnixMilli(m.CloseTime)
		dm.EndTime = &t
	}
	return dm
}
