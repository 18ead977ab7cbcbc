package models

import (
	"fmt"
	"time"
)

// Query is a single user question as received. It is never modified after
// construction.
type Query struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	SubmittedAt     time.Time `json:"submitted_at"`
	ModelPreference string    `json:"model_preference,omitempty"`
}

// Intent is the classified purpose of a query.
type Intent string

const (
	IntentComparison Intent = "comparison"
	IntentRanking    Intent = "ranking"
	IntentStatistics Intent = "statistics"
	IntentNarrative  Intent = "narrative"
	IntentPrediction Intent = "prediction"
	IntentUnknown    Intent = "unknown"
)

// IntentPriority lists intents from highest to lowest tie-break priority.
var IntentPriority = []Intent{
	IntentComparison,
	IntentRanking,
	IntentStatistics,
	IntentNarrative,
	IntentPrediction,
	IntentUnknown,
}

// EntityType identifies what an extracted entity refers to.
type EntityType string

const (
	EntityPlayer    EntityType = "player"
	EntityTeam      EntityType = "team"
	EntitySeason    EntityType = "season"
	EntityDateRange EntityType = "date_range"
)

// Entity is a span of the query resolved against a gazetteer or a temporal
// pattern.
type Entity struct {
	Type EntityType `json:"type"`
	// ID is the gazetteer identifier for players and teams, or the season
	// label ("2021") for seasons.
	ID        string `json:"id,omitempty"`
	Canonical string `json:"canonical"`
	Surface   string `json:"surface"`
	// Offset is the byte offset of Surface in the query text.
	Offset int `json:"offset"`
	// Quality is 1 for exact matches and lower for fuzzy ones.
	Quality float64    `json:"quality"`
	Range   *TimeRange `json:"range,omitempty"`
}

func (e Entity) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.Canonical)
}

// TimeRange is an inclusive date range. A zero Start or End means the range
// is open on that side.
type TimeRange struct {
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
}

// Unbounded reports whether the range places no constraint at all.
func (r TimeRange) Unbounded() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Contains reports whether t falls inside the range. Open sides always match.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Union returns the smallest range covering both r and o. An open side on
// either input stays open.
func (r TimeRange) Union(o TimeRange) TimeRange {
	out := r
	if r.Start.IsZero() || o.Start.IsZero() {
		out.Start = time.Time{}
	} else if o.Start.Before(r.Start) {
		out.Start = o.Start
	}
	if r.End.IsZero() || o.End.IsZero() {
		out.End = time.Time{}
	} else if o.End.After(r.End) {
		out.End = o.End
	}
	return out
}

func (r TimeRange) String() string {
	start, end := "*", "*"
	if !r.Start.IsZero() {
		start = r.Start.Format(time.DateOnly)
	}
	if !r.End.IsZero() {
		end = r.End.Format(time.DateOnly)
	}
	return start + ".." + end
}

// QueryInterpretation is the structured reading of a Query. It is created
// once and never mutated.
type QueryInterpretation struct {
	Query      Query     `json:"query"`
	Intent     Intent    `json:"intent"`
	Entities   []Entity  `json:"entities"`
	Range      TimeRange `json:"range"`
	Confidence float64   `json:"confidence"`
}

// EntitiesOf returns the entities of the given type in query order.
func (qi QueryInterpretation) EntitiesOf(t EntityType) []Entity {
	var out []Entity
	for _, e := range qi.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
