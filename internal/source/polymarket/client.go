// Package polymarket reads markets from the public Polymarket Gamma API and
// order books from the CLOB API.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/source"
)

const (
	// Name is the source identifier this client registers under.
	Name = "polymarket"

	// DefaultGammaURL is the Gamma REST API root.
	DefaultGammaURL = "https://gamma-api.polymarket.com"
	// DefaultCLOBURL is the CLOB REST API root.
	DefaultCLOBURL = "https://clob.polymarket.com"

	defaultMarketsLimit = 50
)

// Client lists markets via Gamma and quotes via CLOB order books. Gamma is
// the only endpoint that carries the outcome-name to CLOB-token mapping, so
// ListActiveMarkets caches that mapping for the outcome and quote calls of
// the same cycle.
type Client struct {
	gammaURL   string
	clobURL    string
	limit      int
	httpClient *http.Client

	mu     sync.Mutex
	tokens map[string]marketTokens
}

// marketTokens pairs outcome names with their CLOB token IDs, index-aligned.
type marketTokens struct {
	names    []string
	tokenIDs []string
}

// NewClient creates a Polymarket client. Empty URLs and a non-positive limit
// fall back to the defaults.
func NewClient(gammaURL, clobURL string, marketsLimit int) *Client {
	if gammaURL == "" {
		gammaURL = DefaultGammaURL
	}
	if clobURL == "" {
		clobURL = DefaultCLOBURL
	}
	if marketsLimit <= 0 {
		marketsLimit = defaultMarketsLimit
	}
	return &Client{
		gammaURL: gammaURL,
		clobURL:  clobURL,
		limit:    marketsLimit,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: make(map[string]marketTokens),
	}
}

func (c *Client) Name() string { return Name }

// ListActiveMarkets fetches open order-book markets sorted by volume so the
// most liquid markets come first. The outcome/token arrays from the response
// replace the client's token cache wholesale.
func (c *Client) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("archived", "false")
	params.Set("enableOrderBook", "true")
	params.Set("order", "volumeNum")
	params.Set("ascending", "false")
	params.Set("limit", strconv.Itoa(c.limit))

	body, err := source.Get(ctx, c.httpClient, c.gammaURL+"/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket: list markets: %w", err)
	}

	var raw []gammaMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(raw))
	fresh := make(map[string]marketTokens, len(raw))
	for _, m := range raw {
		if m.ID == "" {
			continue
		}
		names := parseStringArray(m.Outcomes)
		tokenIDs := parseStringArray(m.ClobTokenIDs)
		if len(names) > 0 && len(names) == len(tokenIDs) {
			fresh[m.ID] = marketTokens{names: names, tokenIDs: tokenIDs}
		}
		markets = append(markets, m.toDomain())
	}

	c.mu.Lock()
	c.tokens = fresh
	c.mu.Unlock()

	return markets, nil
}

// ListOutcomes returns the outcomes cached by the last ListActiveMarkets
// call. Markets whose Gamma payload lacked a parseable outcome/token pair
// are reported as not found rather than guessed at.
func (c *Client) ListOutcomes(_ context.Context, market domain.Market) ([]domain.Outcome, error) {
	c.mu.Lock()
	toks, ok := c.tokens[market.MarketID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("polymarket: outcomes for market %s: %w", market.MarketID, domain.ErrNotFound)
	}

	outcomes := make([]domain.Outcome, len(toks.names))
	for i := range toks.names {
		outcomes[i] = domain.Outcome{OutcomeID: toks.tokenIDs[i], Name: toks.names[i]}
	}
	return outcomes, nil
}

// GetQuotes fetches the CLOB book per outcome token. A failed or empty book
// yields a quote with nil prices; only context cancellation aborts the whole
// call.
func (c *Client) GetQuotes(ctx context.Context, _ domain.Market, outcomes []domain.Outcome) ([]domain.Quote, error) {
	quotes := make([]domain.Quote, 0, len(outcomes))
	for _, o := range outcomes {
		q := domain.Quote{OutcomeID: o.OutcomeID, Timestamp: time.Now()}

		book, err := c.getBook(ctx, o.OutcomeID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("polymarket: get quotes: %w", err)
			}
			quotes = append(quotes, q)
			continue
		}

		if price, size, ok := bestLevel(book.Bids); ok {
			q.Bid = domain.Float(price)
			q.BidSize = domain.Float(size)
		}
		if price, size, ok := bestLevel(book.Asks); ok {
			q.Ask = domain.Float(price)
			q.AskSize = domain.Float(size)
		}
		q.Derive()
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (c *Client) getBook(ctx context.Context, tokenID string) (*clobBook, error) {
	params := url.Values{}
	params.Set("token_id", tokenID)

	body, err := source.Get(ctx, c.httpClient, c.clobURL+"/book?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", tokenID, err)
	}

	var book clobBook
	if err := json.Unmarshal(body, &book); err != nil {
		return nil, fmt.Errorf("decode book %s: %w", tokenID, err)
	}
	return &book, nil
}

// bestLevel returns the top-of-book price and size. Book arrays arrive best
// level first.
func bestLevel(levels []clobLevel) (price, size float64, ok bool) {
	if len(levels) == 0 {
		return 0, 0, false
	}
	price, err := strconv.ParseFloat(levels[0].Price, 64)
	if err != nil {
		return 0, 0, false
	}
	size, _ = strconv.ParseFloat(levels[0].Size, 64)
	return price, size, true
}
