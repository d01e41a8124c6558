package alert

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// reasonVars are the substitutions available to a rule's reason_template.
// Unset thresholds render as zero.
type reasonVars struct {
	MarketID       string
	Probability    float64
	Delta          float64
	MinProbability float64
	MinDelta       float64
	Severity       domain.Severity
}

var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z_][a-zA-Z0-9_]*(:[^{}]*)?\}`)

// renderReason fills the template's named placeholders. A template that still
// contains an unresolved placeholder after substitution is reported as failed
// so the caller can fall back to the generated reason.
func renderReason(tmpl string, vars reasonVars) (string, bool) {
	r := strings.NewReplacer(
		"{market_id}", vars.MarketID,
		"{probability}", formatFloat(vars.Probability),
		"{delta}", formatFloat(vars.Delta),
		"{min_probability}", formatFloat(vars.MinProbability),
		"{min_delta}", formatFloat(vars.MinDelta),
		"{severity}", string(vars.Severity),
	)
	out := r.Replace(tmpl)
	if placeholderPattern.MatchString(out) {
		return "", false
	}
	return out, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
