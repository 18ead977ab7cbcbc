package understanding

import (
	"sort"
	"strings"
	"unicode"

	"github.com/statline-ai/statline/pkg/gazetteer"
	"github.com/statline-ai/statline/pkg/models"
)

const maxSpanWords = 3

// stopwords never start, end, or make up a name span on their own.
var stopwords = toSet(
	"a", "an", "the", "of", "in", "on", "at", "to", "for", "from", "by", "with",
	"and", "or", "vs", "versus", "than", "is", "was", "were", "are", "be", "been",
	"who", "what", "which", "when", "where", "why", "how", "did", "does", "do",
	"has", "had", "have", "will", "would", "could", "should", "can", "me", "tell",
	"about", "his", "her", "their", "its", "this", "that", "these", "those",
	"last", "next", "season", "seasons", "year", "years", "game", "games",
	"league", "led", "lead", "leads", "leader", "leaders", "best", "worst",
	"most", "more", "less", "fewest", "top", "better", "worse", "compare",
	"points", "rebounds", "assists", "steals", "blocks", "turnovers", "shooters",
	"scorer", "scorers", "player", "players", "team", "teams", "stats",
	"average", "per", "many", "much", "record", "win", "won", "wins", "playoffs",
	"since", "before", "between", "during", "after", "over", "under", "past",
	"three", "point", "percentage", "did", "get", "got", "score", "scored",
)

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func isStopword(norm string) bool {
	_, ok := stopwords[norm]
	return ok
}

type word struct {
	start, end int
	norm       string
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '’' || r == '.'
}

// words splits text into word tokens with byte offsets, skipping any word
// that falls inside an already consumed span.
func words(text string, consumed []span) []word {
	var out []word
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		w := word{start: start, end: end}
		// Trailing periods belong to the sentence, not the word.
		for w.end > w.start && text[w.end-1] == '.' {
			w.end--
		}
		w.norm = gazetteer.Normalize(text[w.start:w.end])
		if w.norm != "" && !overlapsAny(span{w.start, w.end}, consumed) {
			out = append(out, w)
		}
		start = -1
	}
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return out
}

// adjacent reports whether only spacing separates a and b.
func adjacent(text string, a, b word) bool {
	return strings.TrimSpace(text[a.end:b.start]) == ""
}

// matchNames resolves player and team names in text against snap. Longer
// spans win over shorter ones, then closer matches; an entity is reported
// once, at its first chosen span.
func matchNames(text string, snap *gazetteer.Snapshot, consumed []span) []models.Entity {
	maxWords := min(snap.MaxWords(), maxSpanWords)
	if maxWords == 0 {
		return nil
	}
	ws := words(text, consumed)

	type candidate struct {
		span
		words int
		match gazetteer.Match
	}
	var cands []candidate
	for i := range ws {
		for n := maxWords; n >= 1; n-- {
			if i+n > len(ws) {
				continue
			}
			first, last := ws[i], ws[i+n-1]
			if isStopword(first.norm) || isStopword(last.norm) {
				continue
			}
			contiguous := true
			for k := i; k < i+n-1; k++ {
				if !adjacent(text, ws[k], ws[k+1]) {
					contiguous = false
					break
				}
			}
			if !contiguous {
				continue
			}
			sp := span{first.start, last.end}
			if m, ok := snap.Lookup(text[sp.start:sp.end]); ok {
				cands = append(cands, candidate{span: sp, words: n, match: m})
			}
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.words != b.words {
			return a.words > b.words
		}
		if a.match.Distance != b.match.Distance {
			return a.match.Distance < b.match.Distance
		}
		if a.match.Quality != b.match.Quality {
			return a.match.Quality > b.match.Quality
		}
		return a.start < b.start
	})

	var (
		taken []span
		seen  = make(map[string]bool)
		out   []models.Entity
	)
	for _, c := range cands {
		if overlapsAny(c.span, taken) {
			continue
		}
		taken = append(taken, c.span)
		key := string(c.match.Type) + ":" + c.match.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.Entity{
			Type:      c.match.Type,
			ID:        c.match.ID,
			Canonical: c.match.Canonical,
			Surface:   text[c.start:c.end],
			Offset:    c.start,
			Quality:   c.match.Quality,
		})
	}
	return out
}
