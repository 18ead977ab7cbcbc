// Package gazetteer holds the immutable name index used to resolve players
// and teams in free text. A Snapshot is built once and never mutated; updates
// replace the whole snapshot through a Holder.
package gazetteer

import (
	"sort"
	"strings"
	"unicode"

	"github.com/statline-ai/statline/pkg/models"
)

// Player is a gazetteer player row.
type Player struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Team    string   `json:"team,omitempty"`
}

// Team is a gazetteer team row.
type Team struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	City         string   `json:"city,omitempty"`
	Abbreviation string   `json:"abbreviation,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
}

// Entry is what a gazetteer key resolves to.
type Entry struct {
	Type      models.EntityType
	ID        string
	Canonical string
	// partial marks keys that are only part of a name (a unique surname).
	partial bool
}

// Match is the result of a lookup.
type Match struct {
	Entry
	Key      string
	Distance int
	Quality  float64
}

// partialQuality scales the quality of surname-only matches.
const partialQuality = 0.9

// Snapshot is an immutable gazetteer index.
type Snapshot struct {
	version  string
	exact    map[string]Entry
	byLen    map[int][]string
	maxWords int
	maxDist  int
	players  int
	teams    int
}

// New builds a snapshot. Key collisions resolve to the entry with the lowest
// ID so that the result does not depend on input order. maxDist caps the
// fuzzy edit distance; zero means the default length-based tolerance.
func New(version string, players []Player, teams []Team, maxDist int) *Snapshot {
	s := &Snapshot{
		version: version,
		exact:   make(map[string]Entry),
		byLen:   make(map[int][]string),
		maxDist: maxDist,
		players: len(players),
		teams:   len(teams),
	}

	surnames := make(map[string][]Entry)
	for _, p := range players {
		e := Entry{Type: models.EntityPlayer, ID: p.ID, Canonical: p.Name}
		s.add(p.Name, e)
		for _, a := range p.Aliases {
			s.add(a, e)
		}
		if fields := strings.Fields(Normalize(p.Name)); len(fields) > 1 {
			last := fields[len(fields)-1]
			surnames[last] = append(surnames[last], e)
		}
	}
	for _, t := range teams {
		e := Entry{Type: models.EntityTeam, ID: t.ID, Canonical: t.Name}
		if t.City != "" {
			e.Canonical = t.City + " " + t.Name
			s.add(e.Canonical, e)
		}
		s.add(t.Name, e)
		if t.Abbreviation != "" {
			s.add(t.Abbreviation, e)
		}
		for _, a := range t.Aliases {
			s.add(a, e)
		}
	}
	for last, entries := range surnames {
		if len(entries) != 1 {
			continue
		}
		if _, taken := s.exact[last]; taken {
			continue
		}
		e := entries[0]
		e.partial = true
		s.add(last, e)
	}

	for n := range s.byLen {
		sort.Strings(s.byLen[n])
	}
	return s
}

func (s *Snapshot) add(name string, e Entry) {
	key := Normalize(name)
	if key == "" {
		return
	}
	if prev, ok := s.exact[key]; ok {
		if prev.ID <= e.ID {
			return
		}
	} else {
		n := len([]rune(key))
		s.byLen[n] = append(s.byLen[n], key)
	}
	s.exact[key] = e
	if w := len(strings.Fields(key)); w > s.maxWords {
		s.maxWords = w
	}
}

// Version identifies the source the snapshot was built from.
func (s *Snapshot) Version() string { return s.version }

// MaxWords is the longest key, in words, held by the snapshot.
func (s *Snapshot) MaxWords() int { return s.maxWords }

// Size returns the number of players and teams indexed.
func (s *Snapshot) Size() (players, teams int) { return s.players, s.teams }

// Lookup resolves span against the index, tolerating misspellings.
func (s *Snapshot) Lookup(span string) (Match, bool) {
	key := Normalize(span)
	if key == "" {
		return Match{}, false
	}
	if e, ok := s.exact[key]; ok {
		return s.match(e, key, 0), true
	}

	n := len([]rune(key))
	best := Match{Distance: -1}
	for l := n - 2; l <= n+2; l++ {
		for _, cand := range s.byLen[l] {
			limit := s.tolerance(l)
			if limit == 0 {
				continue
			}
			d := distance(key, cand, limit)
			if d > limit {
				continue
			}
			if best.Distance < 0 || d < best.Distance || (d == best.Distance && cand < best.Key) {
				best = s.match(s.exact[cand], cand, d)
			}
		}
	}
	if best.Distance < 0 {
		return Match{}, false
	}
	return best, true
}

func (s *Snapshot) match(e Entry, key string, d int) Match {
	q := 1 - float64(d)/float64(len([]rune(key)))
	if e.partial {
		q *= partialQuality
	}
	return Match{Entry: e, Key: key, Distance: d, Quality: q}
}

// tolerance is the edit distance allowed for a key of n runes.
func (s *Snapshot) tolerance(n int) int {
	var t int
	switch {
	case n <= 4:
		t = 0
	case n <= 7:
		t = 1
	default:
		t = 2
	}
	if s.maxDist > 0 && t > s.maxDist {
		t = s.maxDist
	}
	return t
}

// Normalize lowercases s, drops punctuation and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case r == '\'' || r == '’' || r == '.':
			// "O'Neal" and "J.J." keep their letters together.
		default:
			space = true
		}
	}
	return b.String()
}
