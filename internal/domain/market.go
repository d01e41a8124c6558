package domain

import "time"

// Market represents a binary-outcome prediction market listed on one source.
// Identity is (Source, MarketID); a market object is immutable within a
// polling cycle and replaced wholesale on the next fetch.
type Market struct {
	Source      string
	MarketID    string
	Title       string
	Description string
	URL         string
	CreatedTime time.Time
	EndTime     *time.Time
	Active      bool
}

// Key returns the cross-cycle identity of the market.
func (m Market) Key() string {
	return m.Source + ":" + m.MarketID
}

// Outcome is one side of a binary market (typically YES / NO).
type Outcome struct {
	OutcomeID string
	Name      string
}

// Quote is a single price observation for an outcome. All price fields are
// probabilities in [0,1]. Absent values are nil, never zero: several sources
// expose only a probability (Mid) with no order book at all.
type Quote struct {
	OutcomeID string
	Bid       *float64
	Ask       *float64
	Mid       *float64
	Spread    *float64
	BidSize   *float64
	AskSize   *float64
	Timestamp time.Time
}

// Derive fills Mid and Spread from Bid and Ask when both are present and the
// derived field was not supplied directly.
func (q *Quote) Derive() {
	if q.Bid == nil || q.Ask == nil {
		return
	}
	if q.Mid == nil {
		mid := (*q.Bid + *q.Ask) / 2
		q.Mid = &mid
	}
	if q.Spread == nil {
		spread := *q.Ask - *q.Bid
		q.Spread = &spread
	}
}

// Float returns a pointer to v. Convenience for building Quote literals.
func Float(v float64) *float64 {
	return &v
}

// SourceStatus tracks the health of one data source across polling cycles.
type SourceStatus struct {
	Source            string
	Healthy           bool
	LastSuccess       *time.Time
	LastError         string
	LastErrorAt       *time.Time
	ErrorCount        int
	ConsecutiveErrors int
	Markets           int
	LatencyMS         int64
}
