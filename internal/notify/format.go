package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/arbwatch/internal/domain"
	"github.com/alanyoungcy/arbwatch/internal/score"
)

// FormatOpportunity renders an opportunity as a plain title and message for
// senders without channel-native formatting.
func FormatOpportunity(opp domain.Opportunity) (title, message string) {
	ti, ok := score.TierByName(opp.Tier)
	emoji := ti.Emoji
	if !ok {
		emoji = "❓"
	}

	title = fmt.Sprintf("%s %s arbitrage: %.1f%% spread",
		emoji, strings.ToUpper(string(opp.Tier)), opp.SpreadPct)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", opp.Title)
	fmt.Fprintf(&b, "Spread %.1f%% | Quality %.1f/10 | %d markets\n",
		opp.SpreadPct, opp.QualityScore, len(opp.Markets))
	fmt.Fprintf(&b, "%s: buy YES on %s at %.3f, buy NO on %s at %.3f",
		opp.Action.Signal,
		opp.Action.BuyYesAt, opp.Action.BuyYesPrice,
		opp.Action.BuyNoAt, opp.Action.BuyNoPrice)
	for _, m := range opp.Markets {
		if m.URL == "" {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", m.Source, m.URL)
	}

	return title, b.String()
}
