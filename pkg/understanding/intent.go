package understanding

import (
	"regexp"

	"github.com/statline-ai/statline/pkg/models"
)

const (
	certaintyNone    = 0.0
	certaintyWeak    = 0.7
	certaintySeveral = 0.85
	certaintyStrong  = 0.9
)

// intentRule lists the cues for one intent. Any strong cue is decisive on
// its own; weak cues add up.
type intentRule struct {
	intent models.Intent
	strong []*regexp.Regexp
	weak   []*regexp.Regexp
}

func cues(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)\b` + p + `\b`)
	}
	return out
}

// intentRules is ordered by priority, highest first.
var intentRules = []intentRule{
	{
		intent: models.IntentComparison,
		strong: cues(`vs\.?`, `versus`, `compare[sd]?`, `comparison`, `better than`, `worse than`, `head[- ]to[- ]head`),
		weak:   cues(`difference between`, `similar to`, `against`),
	},
	{
		intent: models.IntentRanking,
		strong: cues(`led the league`, `leads? the league`, `league leaders?`, `top \d+`, `top (?:three|five|ten)`, `rank(?:ed|ing|s)?`),
		weak:   cues(`best`, `worst`, `most`, `fewest`, `highest`, `lowest`, `leading`, `leaders?`, `top`),
	},
	{
		intent: models.IntentStatistics,
		strong: cues(`how many`, `how much`, `per game`, `averaged?`, `stat(?:istic)?s`, `percentage`),
		weak:   cues(`points`, `rebounds`, `assists`, `steals`, `blocks`, `turnovers`, `scored`, `total`, `record`, `minutes`),
	},
	{
		intent: models.IntentNarrative,
		strong: cues(`tell me about`, `describe`, `summari[sz]e`, `what happened`, `story`),
		weak:   cues(`why`, `how did`, `career`, `history`, `explain`, `recap`),
	},
	{
		intent: models.IntentPrediction,
		strong: cues(`will`, `predict(?:ion|ed)?`, `forecast`, `projected`, `going to`),
		weak:   cues(`next season`, `chances?`, `likely`, `expect(?:ed)?`, `odds`),
	},
}

var (
	conjunction = regexp.MustCompile(`(?i)\b(?:or|and)\b`)
	comparative = regexp.MustCompile(`(?i)\b(?:better|worse|more|fewer|less|higher|lower|greater|bigger)\b`)
)

// classify returns the highest-priority intent with any cue and its
// certainty. Two or more named entities joined by "or"/"and" with a
// comparative word count as a strong comparison cue.
func classify(text string, named []models.Entity) (models.Intent, float64) {
	for _, rule := range intentRules {
		c := certainty(text, rule)
		if rule.intent == models.IntentComparison && c < certaintyStrong &&
			len(named) >= 2 && conjunction.MatchString(text) && comparative.MatchString(text) {
			c = certaintyStrong
		}
		if c > certaintyNone {
			return rule.intent, c
		}
	}
	return models.IntentUnknown, certaintyNone
}

func certainty(text string, rule intentRule) float64 {
	for _, re := range rule.strong {
		if re.MatchString(text) {
			return certaintyStrong
		}
	}
	n := 0
	for _, re := range rule.weak {
		if re.MatchString(text) {
			n++
		}
	}
	switch {
	case n >= 2:
		return certaintySeveral
	case n == 1:
		return certaintyWeak
	default:
		return certaintyNone
	}
}
