// Package kalshi reads markets and order books from the Kalshi trade API v2.
// The market-data endpoints are public; when an API key is configured the
// client signs every request so it also works against authenticated
// deployments and higher rate-limit tiers.
package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
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
	Name = "kalshi"

	// DefaultBaseURL is the trade API v2 root.
	DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	defaultMarketsLimit = 50
)

// Client is the Kalshi REST client.
type Client struct {
	baseURL    string
	limit      int
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
}

// NewClient creates a Kalshi client for the public market-data endpoints.
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

// SetAuth configures RSA-PSS request signing. Without it requests go out
// unsigned, which the public market-data endpoints accept.
func (c *Client) SetAuth(apiKeyID string, key *rsa.PrivateKey) {
	c.apiKeyID = apiKeyID
	c.privateKey = key
}

func (c *Client) Name() string { return Name }

// ListActiveMarkets fetches open markets from /markets.
func (c *Client) ListActiveMarkets(ctx context.Context) ([]domain.Market, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", strconv.Itoa(c.limit))

	body, err := c.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("kalshi: list markets: %w", err)
	}

	var resp struct {
		Markets []apiMarket `json:"markets"`
		Cursor  string      `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode markets: %w", err)
	}

	markets := make([]domain.Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		if m.Ticker == "" {
			continue
		}
		markets = append(markets, m.toDomain())
	}
	return markets, nil
}

// ListOutcomes returns the two sides of a binary Kalshi market. Outcome IDs
// are synthesized from the ticker since Kalshi has no separate outcome
// identifiers.
func (c *Client) ListOutcomes(_ context.Context, market domain.Market) ([]domain.Outcome, error) {
	return []domain.Outcome{
		{OutcomeID: market.MarketID + "_YES", Name: "YES"},
		{OutcomeID: market.MarketID + "_NO", Name: "NO"},
	}, nil
}

// GetQuotes derives YES/NO quotes from /markets/{ticker}/orderbook. Prices
// arrive in cents; a NO bid at x cents implies a YES ask at 100-x, and vice
// versa, which is how the ask side is filled in.
func (c *Client) GetQuotes(ctx context.Context, market domain.Market, outcomes []domain.Outcome) ([]domain.Quote, error) {
	path := "/markets/" + url.PathEscape(market.MarketID) + "/orderbook"

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get orderbook %s: %w", market.MarketID, err)
	}

	var resp struct {
		Orderbook struct {
			Yes []bookLevel `json:"yes"`
			No  []bookLevel `json:"no"`
		} `json:"orderbook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode orderbook %s: %w", market.MarketID, err)
	}

	yesBid, yesBidSize, yesOK := bestBid(resp.Orderbook.Yes)
	noBid, noBidSize, noOK := bestBid(resp.Orderbook.No)

	now := time.Now()
	quotes := make([]domain.Quote, 0, len(outcomes))
	for _, o := range outcomes {
		q := domain.Quote{OutcomeID: o.OutcomeID, Timestamp: now}
		if o.Name == "YES" {
			if yesOK {
				q.Bid = domain.Float(yesBid / 100)
				q.BidSize = domain.Float(yesBidSize)
			}
			if noOK {
				q.Ask = domain.Float((100 - noBid) / 100)
				q.AskSize = domain.Float(noBidSize)
			}
		} else {
			if noOK {
				q.Bid = domain.Float(noBid / 100)
				q.BidSize = domain.Float(noBidSize)
			}
			if yesOK {
				q.Ask = domain.Float((100 - yesBid) / 100)
				q.AskSize = domain.Float(yesBidSize)
			}
		}
		q.Derive()
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// doGet builds, optionally signs, and sends a GET request.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.privateKey != nil {
		if err := c.sign(req); err != nil {
			return nil, err
		}
	}

	return source.Do(c.httpClient, req)
}

// sign adds the RSA authentication headers. Kalshi verifies an RSA-PSS-SHA256
// signature over timestamp + method + URL path, query string excluded.
func (c *Client) sign(req *http.Request) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + req.Method + req.URL.Path

	hash := sha256.Sum256([]byte(message))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// bestBid returns the highest-priced level. Level order in the orderbook
// response is not guaranteed, so all levels are scanned.
func bestBid(levels []bookLevel) (price, count float64, ok bool) {
	for _, l := range levels {
		if !ok || l.PriceCents > price {
			price = l.PriceCents
			count = l.Count
			ok = true
		}
	}
	return price, count, ok
}
