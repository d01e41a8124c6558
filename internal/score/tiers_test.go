package score

import (
	"math"
	"testing"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		spreadPct float64
		want      domain.Tier
		priority  int
	}{
		{15.0, domain.TierExceptional, 1},
		{3.5, domain.TierExceptional, 1},
		{3.0, domain.TierExceptional, 1},
		{2.99, domain.TierExcellent, 2},
		{2.51, domain.TierExcellent, 2},
		{2.5, domain.TierVeryGood, 3},
		{2.01, domain.TierVeryGood, 3},
		{2.0, domain.TierGood, 4},
		{1.5, domain.TierGood, 4},
		{1.0, domain.TierGood, 4},
		{0.99, domain.TierFair, 5},
		{0.75, domain.TierFair, 5},
		{0.74, domain.TierPoor, 6},
		{0.0, domain.TierPoor, 6},
	}

	for _, tt := range tests {
		ti := ClassifyTier(tt.spreadPct)
		if ti.Tier != tt.want || ti.Priority != tt.priority {
			t.Errorf("ClassifyTier(%v) = %s (priority %d), want %s (priority %d)",
				tt.spreadPct, ti.Tier, ti.Priority, tt.want, tt.priority)
		}
	}
}

// Each boundary is inclusive-lower and the quality curve hits the tier base
// exactly at its boundary.
func TestQualityAtBoundaries(t *testing.T) {
	tests := []struct {
		spreadPct float64
		want      float64
	}{
		{0.0, 0.0},
		{0.75, 5.0},
		{1.0, 6.0},
		{2.01, 7.0},
		{2.51, 8.0},
		{3.0, 9.0},
		{4.0, 9.5},
		{5.0, 10.0},
		{12.0, 10.0},
	}

	for _, tt := range tests {
		got := Quality(tt.spreadPct)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Quality(%v) = %v, want %v", tt.spreadPct, got, tt.want)
		}
	}
}

func TestQualityAndTierMonotonic(t *testing.T) {
	prevQuality := -1.0
	prevPriority := ClassifyTier(0).Priority

	for pct := 0.0; pct <= 6.0; pct += 0.01 {
		q := Quality(pct)
		if q < prevQuality-1e-9 {
			t.Fatalf("quality decreased at %v%%: %v -> %v", pct, prevQuality, q)
		}
		if q < 0 || q > 10 {
			t.Fatalf("quality out of range at %v%%: %v", pct, q)
		}
		p := ClassifyTier(pct).Priority
		if p > prevPriority {
			t.Fatalf("tier priority worsened at %v%%: %d -> %d", pct, prevPriority, p)
		}
		prevQuality, prevPriority = q, p
	}
}

func TestTierByName(t *testing.T) {
	ti, ok := TierByName(domain.TierGood)
	if !ok || ti.MinSpreadPct != 1.0 || ti.Priority != 4 {
		t.Errorf("TierByName(good) = %+v ok=%v", ti, ok)
	}
	if _, ok := TierByName(domain.Tier("nonsense")); ok {
		t.Error("TierByName(nonsense) should not resolve")
	}
}
