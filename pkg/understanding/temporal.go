package understanding

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/statline-ai/statline/pkg/models"
)

const monthNames = `(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)`

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var counts = map[string]int{
	"two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// temporalRule turns one phrase shape into an entity. Rules are tried in
// order and a later rule never matches text an earlier rule consumed.
type temporalRule struct {
	re *regexp.Regexp
	// notBefore rejects a match when the text right after it matches.
	notBefore *regexp.Regexp
	resolve   func(m []string, ref time.Time, cal Calendar) (models.Entity, bool)
}

// statCount follows a number that counts something rather than naming a
// season, as in "2000 points".
var statCount = regexp.MustCompile(`(?i)^\s+(?:career\s+|total\s+)?` +
	`(?:points?|pts|assists?|rebounds?|boards|steals?|blocks?|turnovers?|fouls?|minutes|mins|` +
	`yards?|yds|touchdowns?|tds|receptions?|carries|sacks?|interceptions?|goals?|saves?|shots?|` +
	`runs?|hits?|rbis?|strikeouts?|innings|games?|wins?|losses|starts?|threes|three-pointers|` +
	`dunks?|free throws?|field goals?|passes)\b`)

var temporalRules = []temporalRule{
	{
		re: regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`),
		resolve: func(m []string, _ time.Time, _ Calendar) (models.Entity, bool) {
			d, err := time.Parse(time.DateOnly, m[0])
			if err != nil {
				return models.Entity{}, false
			}
			return dateRange(models.TimeRange{Start: d, End: d}), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
		resolve: func(m []string, _ time.Time, _ Calendar) (models.Entity, bool) {
			dom, _ := strconv.Atoi(m[2])
			y, ok := year(m[3])
			mon := months[strings.ToLower(m[1])]
			if !ok || dom < 1 || dom > daysIn(y, mon) {
				return models.Entity{}, false
			}
			d := time.Date(y, mon, dom, 0, 0, 0, 0, time.UTC)
			return dateRange(models.TimeRange{Start: d, End: d}), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:between|from)\s+(?:the\s+)?(\d{4})(?:\s+season)?\s+(?:and|to|through|until)\s+(?:the\s+)?(\d{4})\b`),
		resolve: func(m []string, _ time.Time, cal Calendar) (models.Entity, bool) {
			a, okA := year(m[1])
			b, okB := year(m[2])
			if !okA || !okB {
				return models.Entity{}, false
			}
			return dateRange(cal.Seasons(a, b)), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bsince\s+(?:the\s+)?(\d{4})\b`),
		resolve: func(m []string, _ time.Time, cal Calendar) (models.Entity, bool) {
			y, ok := year(m[1])
			if !ok {
				return models.Entity{}, false
			}
			return dateRange(models.TimeRange{Start: cal.Season(y).Start}), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bbefore\s+(?:the\s+)?(\d{4})\b`),
		resolve: func(m []string, _ time.Time, cal Calendar) (models.Entity, bool) {
			y, ok := year(m[1])
			if !ok {
				return models.Entity{}, false
			}
			return dateRange(models.TimeRange{End: cal.Season(y - 1).End}), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d{1,2}|two|three|four|five|six|seven|eight|nine|ten)\s+seasons\b`),
		resolve: func(m []string, ref time.Time, cal Calendar) (models.Entity, bool) {
			n, ok := counts[strings.ToLower(m[1])]
			if !ok {
				n, _ = strconv.Atoi(m[1])
			}
			if n < 1 {
				return models.Entity{}, false
			}
			last := cal.LastCompleted(ref)
			return dateRange(cal.Seasons(last-n+1, last)), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:last|previous)\s+season\b`),
		resolve: func(_ []string, ref time.Time, cal Calendar) (models.Entity, bool) {
			return season(cal.LastCompleted(ref), cal), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:this|current)\s+season\b`),
		resolve: func(_ []string, ref time.Time, cal Calendar) (models.Entity, bool) {
			return season(cal.Current(ref), cal), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(last|this)\s+year\b`),
		resolve: func(m []string, ref time.Time, _ Calendar) (models.Entity, bool) {
			y := ref.Year()
			if strings.EqualFold(m[1], "last") {
				y--
			}
			return dateRange(models.TimeRange{
				Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
			}), true
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+(?:of\s+)?(\d{4})\b`),
		resolve: func(m []string, _ time.Time, _ Calendar) (models.Entity, bool) {
			y, ok := year(m[2])
			if !ok {
				return models.Entity{}, false
			}
			mon := months[strings.ToLower(m[1])]
			return dateRange(models.TimeRange{
				Start: time.Date(y, mon, 1, 0, 0, 0, 0, time.UTC),
				End:   time.Date(y, mon, daysIn(y, mon), 0, 0, 0, 0, time.UTC),
			}), true
		},
	},
	{
		re: regexp.MustCompile(`\b(\d{4})\s*[-/–]\s*(\d{4}|\d{2})\b`),
		resolve: func(m []string, _ time.Time, cal Calendar) (models.Entity, bool) {
			a, ok := year(m[1])
			if !ok {
				return models.Entity{}, false
			}
			b, _ := strconv.Atoi(m[2])
			if len(m[2]) == 2 {
				b += (a + 1) / 100 * 100
			}
			if b != a+1 {
				return models.Entity{}, false
			}
			return season(b, cal), true
		},
	},
	{
		re:      regexp.MustCompile(`(?i)\b(?:the\s+)?((?:19|20)\d{2})\s+season\b`),
		resolve: yearSeason,
	},
	{
		re:        regexp.MustCompile(`(?i)\b(?:the\s+)?((?:19|20)\d{2})\b`),
		notBefore: statCount,
		resolve:   yearSeason,
	},
}

func yearSeason(m []string, _ time.Time, cal Calendar) (models.Entity, bool) {
	y, ok := year(m[1])
	if !ok {
		return models.Entity{}, false
	}
	return season(y, cal), true
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

func overlapsAny(s span, spans []span) bool {
	for _, o := range spans {
		if s.overlaps(o) {
			return true
		}
	}
	return false
}

// parseTemporal extracts season and date-range entities from text and
// returns them with the byte spans they consumed.
func parseTemporal(text string, ref time.Time, cal Calendar) ([]models.Entity, []span) {
	var (
		out      []models.Entity
		consumed []span
	)
	for _, rule := range temporalRules {
		for _, idx := range rule.re.FindAllStringSubmatchIndex(text, -1) {
			sp := span{idx[0], idx[1]}
			if overlapsAny(sp, consumed) {
				continue
			}
			if rule.notBefore != nil && rule.notBefore.MatchString(text[sp.end:]) {
				continue
			}
			m := make([]string, len(idx)/2)
			for i := range m {
				if idx[2*i] >= 0 {
					m[i] = text[idx[2*i]:idx[2*i+1]]
				}
			}
			e, ok := rule.resolve(m, ref, cal)
			if !ok {
				continue
			}
			e.Surface = m[0]
			e.Offset = sp.start
			e.Quality = 1
			out = append(out, e)
			consumed = append(consumed, sp)
		}
	}
	return out, consumed
}

func season(label int, cal Calendar) models.Entity {
	r := cal.Season(label)
	id := strconv.Itoa(label)
	return models.Entity{Type: models.EntitySeason, ID: id, Canonical: id, Range: &r}
}

func dateRange(r models.TimeRange) models.Entity {
	return models.Entity{Type: models.EntityDateRange, Canonical: r.String(), Range: &r}
}

func year(s string) (int, bool) {
	y, err := strconv.Atoi(s)
	if err != nil || y < 1900 || y > 2199 {
		return 0, false
	}
	return y, true
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
