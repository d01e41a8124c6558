package polymarket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

const gammaBody = `[
  {
    "id": "0xabc",
    "question": "Will Bitcoin reach $100k?",
    "slug": "will-bitcoin-reach-100k",
    "active": "true",
    "closed": false,
    "createdAt": "2026-08-01T12:00:00Z",
    "outcomes": "[\"Yes\",\"No\"]",
    "clobTokenIds": "[\"tok-yes\",\"tok-no\"]"
  },
  {
    "id": "0xdef",
    "question": "Fed cuts rates in September?",
    "slug": "fed-cuts-rates-september",
    "active": true,
    "closed": false,
    "outcomes": ["Yes", "No"],
    "clobTokenIds": ["tok-a", "tok-b"]
  },
  {
    "id": "",
    "question": "ignored, no id"
  }
]`

// newTestClient serves both Gamma (/markets) and CLOB (/book) paths from one
// server and points the client at it.
func newTestClient(t *testing.T, books map[string]string) (*Client, *[]string) {
	t.Helper()
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path+"?"+r.URL.RawQuery)
		switch r.URL.Path {
		case "/markets":
			w.Write([]byte(gammaBody))
		case "/book":
			body, ok := books[r.URL.Query().Get("token_id")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.URL, 25)
	c.httpClient = srv.Client()
	return c, &paths
}

func TestListActiveMarketsParsesGamma(t *testing.T) {
	c, paths := newTestClient(t, nil)

	markets, err := c.ListActiveMarkets(context.Background())
	if err != nil {
		t.Fatalf("ListActiveMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2 (empty-id market dropped)", len(markets))
	}

	m := markets[0]
	if m.Source != "polymarket" || m.MarketID != "0xabc" {
		t.Errorf("identity = %s:%s", m.Source, m.MarketID)
	}
	if m.Title != "Will Bitcoin reach $100k?" {
		t.Errorf("title = %q", m.Title)
	}
	if m.URL != "https://polymarket.com/event/will-bitcoin-reach-100k" {
		t.Errorf("url = %q", m.URL)
	}
	if !m.Active {
		t.Error("market with active=\"true\" closed=false not Active")
	}
	if m.CreatedTime.IsZero() {
		t.Error("createdAt not parsed")
	}

	query := (*paths)[0]
	for _, want := range []string{"active=true", "closed=false", "enableOrderBook=true", "order=volumeNum", "limit=25"} {
		if !strings.Contains(query, want) {
			t.Errorf("markets query %q missing %q", query, want)
		}
	}
}

func TestListOutcomesUsesTokenCache(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	if _, err := c.ListActiveMarkets(ctx); err != nil {
		t.Fatalf("ListActiveMarkets: %v", err)
	}

	// String-encoded and plain-array token fields must both be cached.
	for id, wantTokens := range map[string][2]string{
		"0xabc": {"tok-yes", "tok-no"},
		"0xdef": {"tok-a", "tok-b"},
	} {
		outcomes, err := c.ListOutcomes(ctx, domain.Market{Source: "polymarket", MarketID: id})
		if err != nil {
			t.Fatalf("ListOutcomes(%s): %v", id, err)
		}
		if len(outcomes) != 2 {
			t.Fatalf("ListOutcomes(%s) = %d outcomes", id, len(outcomes))
		}
		if outcomes[0].OutcomeID != wantTokens[0] || outcomes[0].Name != "Yes" {
			t.Errorf("%s outcome[0] = %+v", id, outcomes[0])
		}
		if outcomes[1].OutcomeID != wantTokens[1] || outcomes[1].Name != "No" {
			t.Errorf("%s outcome[1] = %+v", id, outcomes[1])
		}
	}

	_, err := c.ListOutcomes(ctx, domain.Market{Source: "polymarket", MarketID: "never-listed"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown market error = %v, want ErrNotFound", err)
	}
}

func TestGetQuotesReadsTopOfBook(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"tok-yes": `{"bids":[{"price":"0.40","size":"120"}],"asks":[{"price":"0.44","size":"80"}]}`,
	})
	ctx := context.Background()

	if _, err := c.ListActiveMarkets(ctx); err != nil {
		t.Fatalf("ListActiveMarkets: %v", err)
	}

	quotes, err := c.GetQuotes(ctx, domain.Market{MarketID: "0xabc"}, []domain.Outcome{
		{OutcomeID: "tok-yes", Name: "Yes"},
		{OutcomeID: "tok-no", Name: "No"},
	})
	if err != nil {
		t.Fatalf("GetQuotes: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d quotes, want 2", len(quotes))
	}

	yes := quotes[0]
	if yes.Bid == nil || *yes.Bid != 0.40 {
		t.Errorf("yes bid = %v", yes.Bid)
	}
	if yes.Ask == nil || *yes.Ask != 0.44 {
		t.Errorf("yes ask = %v", yes.Ask)
	}
	if yes.Mid == nil || *yes.Mid != 0.42 {
		t.Errorf("yes mid = %v", yes.Mid)
	}
	if yes.BidSize == nil || *yes.BidSize != 120 {
		t.Errorf("yes bid size = %v", yes.BidSize)
	}

	// tok-no has no book: the quote survives with nil prices instead of
	// failing the whole market.
	no := quotes[1]
	if no.OutcomeID != "tok-no" {
		t.Errorf("second quote outcome = %q", no.OutcomeID)
	}
	if no.Bid != nil || no.Ask != nil || no.Mid != nil {
		t.Errorf("bookless outcome has prices: %+v", no)
	}
}

func TestParseStringArray(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
	}{
		{"encoded string", `"[\"Yes\",\"No\"]"`, 2},
		{"plain array", `["Yes","No"]`, 2},
		{"empty string", `""`, 0},
		{"null", `null`, 0},
		{"garbage", `"not-json"`, 0},
		{"number", `42`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseStringArray([]byte(tt.raw))
			if len(got) != tt.want {
				t.Errorf("parseStringArray(%s) = %v, want %d items", tt.raw, got, tt.want)
			}
		})
	}
}
