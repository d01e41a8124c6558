// Package score turns match groups into ranked arbitrage opportunities: a
// pairwise spread per source pair, a discrete tier, a continuous quality
// score, and the buy-cheap-side action.
package score

import (
	"math"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// qualityCapPct is the spread percentage at and above which quality maxes out.
const qualityCapPct = 5.0

// TierInfo is one row of the tier table. MinSpreadPct is the inclusive lower
// boundary on the 0-100 spread scale; QualityBase and QualityTop bound the
// quality band the tier interpolates over.
type TierInfo struct {
	Tier         domain.Tier
	MinSpreadPct float64
	Priority     int
	Emoji        string
	Color        int
	Action       string
	QualityBase  float64
	QualityTop   float64
}

// tierTable is the single authoritative boundary table, highest tier first.
// Classification walks it top down and the first row whose boundary is at or
// below the observed spread wins.
var tierTable = []TierInfo{
	{domain.TierExceptional, 3.0, 1, "🔵", 0x0066ff, "IMMEDIATE ATTENTION REQUIRED", 9.0, 10.0},
	{domain.TierExcellent, 2.51, 2, "🟢", 0x00ff00, "ACT QUICKLY", 8.0, 9.0},
	{domain.TierVeryGood, 2.01, 3, "💛", 0xffff00, "STRONG YES", 7.0, 8.0},
	{domain.TierGood, 1.0, 4, "🟠", 0xffa500, "YOUR STRATEGY", 6.0, 7.0},
	{domain.TierFair, 0.75, 5, "⚪", 0x808080, "FILTERED OUT", 5.0, 6.0},
	{domain.TierPoor, 0.0, 6, "⚫", 0x808080, "FILTERED OUT", 0.0, 5.0},
}

// ClassifyTier maps a spread percentage onto its tier row.
func ClassifyTier(spreadPct float64) TierInfo {
	for _, ti := range tierTable {
		if spreadPct >= ti.MinSpreadPct {
			return ti
		}
	}
	return tierTable[len(tierTable)-1]
}

// TierByName returns the row for a tier name.
func TierByName(tier domain.Tier) (TierInfo, bool) {
	for _, ti := range tierTable {
		if ti.Tier == tier {
			return ti, true
		}
	}
	return TierInfo{}, false
}

// Tiers returns the full table, highest tier first.
func Tiers() []TierInfo {
	out := make([]TierInfo, len(tierTable))
	copy(out, tierTable)
	return out
}

// Quality maps a spread percentage onto [0,10]. Within each tier the score
// interpolates linearly from the tier's base at its lower boundary to its top
// at the next boundary, so the mapping is continuous and monotonic; spreads
// at or above qualityCapPct score the full 10.
func Quality(spreadPct float64) float64 {
	if spreadPct <= 0 {
		return 0
	}
	if spreadPct >= qualityCapPct {
		return 10
	}

	ti := ClassifyTier(spreadPct)
	upper := qualityCapPct
	for i, row := range tierTable {
		if row.Tier == ti.Tier && i > 0 {
			upper = tierTable[i-1].MinSpreadPct
			break
		}
	}

	span := upper - ti.MinSpreadPct
	if span <= 0 {
		return ti.QualityBase
	}
	score := ti.QualityBase + (spreadPct-ti.MinSpreadPct)/span*(ti.QualityTop-ti.QualityBase)
	return math.Min(math.Max(score, 0), 10)
}
