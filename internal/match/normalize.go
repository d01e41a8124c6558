// Package match normalizes market titles and groups markets from different
// sources that describe the same event. Title equality after normalization is
// a heuristic: false positives and negatives are expected and bounded by the
// minimum-source gate on groups.
package match

import (
	"regexp"
	"strings"
)

var (
	punctPattern     = regexp.MustCompile(`[^\w\s]`)
	qualifierPattern = regexp.MustCompile(`\b(by|before|after|on|in|during|at|for|with|without|up to|more than|less than|above|below)\b`)
)

// titlePrefixes are question leads that differ across platforms for the same
// event. Checked in order; matching repeats until the head is stable.
var titlePrefixes = []string{
	"will ", "will the ", "will there be ", "will we see ",
	"are ", "are the ", "are we going to have ",
	"is ", "is the ", "is there going to be ",
	"would ", "could ", "should ",
	"do ", "does ", "did ",
}

// synonyms standardize terms that platforms spell differently. Applied in
// order, so multi-word forms must precede any overlapping single words.
var synonyms = []struct{ from, to string }{
	{"bitcoin", "btc"},
	{"ethereum", "eth"},
	{"federal reserve", "fed"},
	{"interest rate", "rates"},
	{"united states", "us"},
	{"america", "us"},
	{"president trump", "trump"},
	{"president biden", "biden"},
	{"donald trump", "trump"},
	{"joe biden", "biden"},
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "by": {}, "for": {}, "with": {},
	"to": {}, "of": {}, "as": {}, "is": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "from": {}, "up": {}, "down": {},
	"out": {}, "off": {}, "over": {}, "under": {}, "again": {},
	"further": {}, "then": {}, "once": {}, "here": {}, "there": {},
	"when": {}, "where": {}, "why": {}, "how": {}, "all": {},
	"any": {}, "both": {}, "each": {}, "few": {}, "more": {},
	"most": {}, "other": {}, "some": {}, "such": {}, "no": {},
	"nor": {}, "not": {}, "only": {}, "own": {}, "same": {},
	"so": {}, "than": {}, "too": {}, "very": {}, "can": {},
	"will": {}, "just": {}, "don": {}, "should": {}, "now": {},
	"also": {}, "be": {}, "been": {}, "being": {}, "have": {},
	"has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"doing": {}, "would": {}, "could": {}, "may": {}, "might": {},
}

// Normalize produces the grouping key for a market title. The result is a
// fixpoint: Normalize(Normalize(x)) == Normalize(x), so re-normalizing a key
// never changes it. Empty results mean the title carried no usable tokens and
// the market must be excluded from grouping.
func Normalize(title string) string {
	out := normalizeOnce(title)
	for {
		next := normalizeOnce(out)
		if next == out {
			return out
		}
		out = next
	}
}

func normalizeOnce(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = punctPattern.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")

	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range titlePrefixes {
			if strings.HasPrefix(s, prefix) {
				s = s[len(prefix):]
				stripped = true
				break
			}
		}
	}

	s = qualifierPattern.ReplaceAllString(s, " ")

	for _, syn := range synonyms {
		s = strings.ReplaceAll(s, syn.from, syn.to)
	}

	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, stop := stopWords[tok]; !stop {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}
