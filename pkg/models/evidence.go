package models

import "time"

// SourceType names the kind of record an evidence item was drawn from.
type SourceType string

const (
	SourcePlayer SourceType = "player"
	SourceGame   SourceType = "game"
	SourcePlay   SourceType = "play"
)

// SourceTypes is the canonical ordering of source types, used to break ties.
var SourceTypes = []SourceType{SourcePlayer, SourceGame, SourcePlay}

// SourceRank returns the canonical position of s, or len(SourceTypes) for an
// unknown type.
func SourceRank(s SourceType) int {
	for i, st := range SourceTypes {
		if st == s {
			return i
		}
	}
	return len(SourceTypes)
}

// Anchor places an evidence item in time.
type Anchor struct {
	Date   time.Time `json:"date"`
	Season int       `json:"season,omitempty"`
}

// EvidenceItem is a single retrieved, optionally enriched, record.
type EvidenceItem struct {
	ID         string         `json:"id"`
	SourceType SourceType     `json:"source_type"`
	Score      float64        `json:"score"`
	Anchor     Anchor         `json:"anchor"`
	Snippet    string         `json:"snippet"`
	Fields     map[string]any `json:"fields,omitempty"`
	// Enriched is false when the record store had nothing for the item and
	// only the index snippet is available.
	Enriched bool `json:"enriched"`
}

// EvidenceSet is the ordered output of retrieval.
type EvidenceSet struct {
	Items []EvidenceItem `json:"items"`
	// Allocation is the per-source quota the set was filled against.
	Allocation map[SourceType]int `json:"allocation"`
	Budget     int                `json:"budget"`
	Degraded   bool               `json:"degraded"`
	// DegradedReasons explains each upstream failure that was absorbed.
	DegradedReasons []string `json:"degraded_reasons,omitempty"`
}

// CountBySource returns how many items of each source type the set holds.
func (s EvidenceSet) CountBySource() map[SourceType]int {
	out := make(map[SourceType]int, len(SourceTypes))
	for _, it := range s.Items {
		out[it.SourceType]++
	}
	return out
}

// Record is a structured row from the record store.
type Record struct {
	ID         string         `json:"id"`
	SourceType SourceType     `json:"source_type"`
	Fields     map[string]any `json:"fields"`
}
