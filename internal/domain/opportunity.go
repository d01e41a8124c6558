package domain

import "time"

// Tier is the discrete quality bucket assigned to an opportunity from its
// spread magnitude. The boundary table lives in the score package.
type Tier string

const (
	TierExceptional Tier = "exceptional"
	TierExcellent   Tier = "excellent"
	TierVeryGood    Tier = "very_good"
	TierGood        Tier = "good"
	TierFair        Tier = "fair"
	TierPoor        Tier = "poor"
)

// Priority marks how an opportunity should sort relative to its peers.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Signal is the coarse trade-or-watch guidance attached to an opportunity.
type Signal string

const (
	SignalBuy   Signal = "BUY"
	SignalWatch Signal = "WATCH"
)

// Action is derived guidance for a fully-hedged binary pair: buy YES on the
// cheaper venue, buy NO on the dearer one.
type Action struct {
	BuyYesAt        string
	BuyYesPrice     float64
	BuyNoAt         string
	BuyNoPrice      float64
	ProfitPerDollar float64
	ProfitCents     float64
	Signal          Signal
	Explanation     string
}

// Opportunity is a detected cross-source price discrepancy for one matched
// event. It is ephemeral: recomputed every cycle, persisted only as history.
type Opportunity struct {
	ID              string
	Title           string
	NormalizedTitle string
	Category        Category
	SourceA         string
	SourceB         string
	MidA            float64
	MidB            float64
	Spread          float64
	SpreadPct       float64
	Tier            Tier
	TierPriority    int
	QualityScore    float64
	Priority        Priority
	Action          Action
	Markets         []Market
	DetectedAt      time.Time
}

// IsAlertable reports whether the opportunity's tier clears the alert gate
// (good or better).
func (o Opportunity) IsAlertable() bool {
	return o.TierPriority >= 1 && o.TierPriority <= 4
}
