package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// flexBool unmarshals from a JSON bool or string ("true"/"false") so Gamma
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// gammaMarket is a market as returned by the Gamma /markets endpoint.
// Outcomes and ClobTokenIDs are documented as strings containing
// JSON-encoded arrays, but some responses send real arrays, so both are
// kept raw and decoded by parseStringArray.
type gammaMarket struct {
	ID           string          `json:"id"`
	Question     string          `json:"question"`
	Title        string          `json:"title"`
	Slug         string          `json:"slug"`
	Description  string          `json:"description"`
	Outcomes     json.RawMessage `json:"outcomes"`
	ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	Active       flexBool        `json:"active"`
	Closed       bool            `json:"closed"`
	CreatedAt    string          `json:"createdAt"`
	EndDate      string          `json:"endDate"`
}

func (m *gammaMarket) toDomain() domain.Market {
	dm := domain.Market{
		Source:      Name,
		MarketID:    m.ID,
		Title:       strings.TrimSpace(m.Question),
		Description: m.Description,
		Active:      bool(m.Active) && !m.Closed,
	}
	if dm.Title == "" {
		dm.Title = strings.TrimSpace(m.Title)
	}
	if dm.Title == "" {
		dm.Title = m.ID
	}
	if m.Slug != "" {
		dm.URL = "https://polymarket.com/event/" + m.Slug
	}
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		dm.CreatedTime = t
	}
	if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
		dm.EndTime = &t
	}
	return dm
}

// parseStringArray decodes a Gamma array field that arrives either as a JSON
// array of strings or as a string containing a JSON-encoded array. Anything
// else decodes to nil.
func parseStringArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var direct []string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var nested []string
	if err := json.Unmarshal([]byte(s), &nested); err != nil {
		return nil
	}
	return nested
}

// clobBook is the CLOB /book response for one token.
type clobBook struct {
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Bids      []clobLevel `json:"bids"`
	Asks      []clobLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}

// clobLevel is a single price level; the CLOB sends prices and sizes as
// decimal strings.
type clobLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
