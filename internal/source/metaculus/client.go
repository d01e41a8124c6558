// Package metaculus reads binary forecasting questions from the Metaculus
// API. Metaculus publishes an aggregated community prediction rather than
// tradeable prices, so quotes are mid-only: the community probability for
// YES and its complement for NO.
package metaculus

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
	Name = "metaculus"

	// DefaultBaseURL is the Metaculus API root. No authentication is needed
	// for reads.
	DefaultBaseURL = "https://www.metaculus.com/api2"

	defaultQuestionsLimit = 50
)

// Client is the Metaculus REST client. The probability extracted from each
// question in the list response is cached so GetQuotes normally needs no
// extra request.
type Client struct {
	baseURL    string
	limit      int
	httpClient *http.Client

	mu    sync.Mutex
	probs map[string]*float64
}

// NewClient creates a Metaculus client.
func NewClient(baseURL string, questionsLimit int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if questionsLimit <= 0 {
		questionsLimit = defaultQuestionsLimit
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   questionsLimit,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		probs: make(map[string]*float64),
	}
}

func (c *Client) Name() string { return Name }

// ListActiveMarkets fetches open binary questions ordered by recent
// activity. Community predictions found in the payload replace the
// probability cache wholesale.
func (c *Client) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("forecast_type", "binary")
	params.Set("order_by", "-activity")
	params.Set("type", "forecast")
	params.Set("limit", strconv.Itoa(c.limit))

	body, err := source.Get(ctx, c.httpClient, c.baseURL+"/questions/?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("metaculus: list questions: %w", err)
	}

	items, err := resultsList(body)
	if err != nil {
		return nil, fmt.Errorf("metaculus: decode questions: %w", err)
	}

	markets := make([]domain.Market, 0, len(items))
	fresh := make(map[string]*float64, len(items))
	for _, item := range items {
		var q apiQuestion
		if err := json.Unmarshal(item, &q); err != nil {
			continue
		}
		if q.ID == 0 {
			continue
		}
		id := strconv.FormatInt(q.ID, 10)
		fresh[id] = extractProbability(item)
		markets = append(markets, q.toDomain(id))
	}

	c.mu.Lock()
	c.probs = fresh
	c.mu.Unlock()

	return markets, nil
}

// ListOutcomes returns the two sides of a binary Metaculus question.
func (c *Client) ListOutcomes(_ context.Context, market domain.Market) ([]domain.Outcome, error) {
	return []domain.Outcome{
		{OutcomeID: market.MarketID + "_YES", Name: "YES"},
		{OutcomeID: market.MarketID + "_NO", Name: "NO"},
	}, nil
}

// GetQuotes serves the cached community prediction, refetching the question
// when the list payload carried none. Questions without a community
// prediction yield quotes with nil mids.
func (c *Client) GetQuotes(ctx context.Context, market domain.Market, outcomes []domain.Outcome) ([]domain.Quote, error) {
	c.mu.Lock()
	prob := c.probs[market.MarketID]
	c.mu.Unlock()

	if prob == nil {
		fetched, err := c.fetchProbability(ctx, market.MarketID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("metaculus: get quotes %s: %w", market.MarketID, err)
			}
			// Keep the question in play with empty quotes; the next list
			// cycle may bring a prediction.
			fetched = nil
		}
		prob = fetched
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

func (c *Client) fetchProbability(ctx context.Context, questionID string) (*float64, error) {
	body, err := source.Get(ctx, c.httpClient, c.baseURL+"/questions/"+url.PathEscape(questionID)+"/")
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return extractProbability(body), nil
}

// resultsList unwraps the question array, which arrives either paginated
// under "results" or as a bare list.
func resultsList(body []byte) ([]json.RawMessage, error) {
	var direct []json.RawMessage
	if err := json.Unmarshal(body, &direct); err == nil {
		return direct, nil
	}

	var page struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// apiQuestion is a question as returned by the /questions/ endpoint.
type apiQuestion struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	TitleShort  string `json:"title_short"`
	URL         string `json:"url"`
	PageURL     string `json:"page_url"`
	CreatedTime string `json:"created_time"`
	CloseTime   string `json:"close_time"`
}

func (q *apiQuestion) toDomain(id string) domain.Market {
	dm := domain.Market{
		Source:   Name,
		MarketID: id,
		Title:    strings.TrimSpace(q.Title),
		Active:   true,
	}
	if dm.Title == "" {
		dm.Title = strings.TrimSpace(q.TitleShort)
	}
	if dm.Title == "" {
		dm.Title = id
	}

	path := q.URL
	if path == "" {
		path = q.PageURL
	}
	if path != "" {
		if !strings.HasPrefix(path, "http") {
			path = "https://www.metaculus.com" + path
		}
		dm.URL = path
	}

	if t, err := time.Parse(time.RFC3339, q.CreatedTime); err == nil {
		dm.CreatedTime = t
	}
	if t, err := time.Parse(time.RFC3339, q.CloseTime); err == nil {
		dm.EndTime = &t
	}
	return dm
}
