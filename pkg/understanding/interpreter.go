// Package understanding turns free-text questions into a structured
// QueryInterpretation: an intent, the players, teams and time periods the
// question mentions, and a confidence score.
package understanding

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/statline-ai/statline/pkg/gazetteer"
	"github.com/statline-ai/statline/pkg/logging"
	"github.com/statline-ai/statline/pkg/models"
	"go.uber.org/zap"
)

const (
	// maxQueryBytes bounds the text that is analysed; the rest is ignored.
	maxQueryBytes = 2048

	intentWeight = 0.6
	entityWeight = 0.4
	// noEntityQuality stands in for entity quality when nothing was found.
	noEntityQuality = 0.3
)

// Interpreter classifies queries against the gazetteer snapshot in effect.
type Interpreter struct {
	names    *gazetteer.Holder
	calendar Calendar
	logger   *zap.Logger
}

// New returns an Interpreter. A nil holder behaves as an empty gazetteer.
func New(names *gazetteer.Holder, calendar Calendar, logger *zap.Logger) *Interpreter {
	if names == nil {
		names = gazetteer.NewHolder(nil)
	}
	return &Interpreter{names: names, calendar: calendar, logger: logging.OrNop(logger)}
}

// Interpret reads q relative to reference. It never fails: input it cannot
// make sense of yields IntentUnknown, no entities and a low confidence.
func (in *Interpreter) Interpret(q models.Query, reference time.Time) (out models.QueryInterpretation) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("interpretation panicked", zap.Any("panic", r), zap.String("query_id", q.ID))
			out = models.QueryInterpretation{Query: q, Intent: models.IntentUnknown, Entities: []models.Entity{}}
		}
	}()

	if reference.IsZero() {
		reference = q.SubmittedAt
	}
	text := prepare(q.Text)

	temporal, consumed := parseTemporal(text, reference, in.calendar)
	named := matchNames(text, in.names.Snapshot(), consumed)

	entities := make([]models.Entity, 0, len(temporal)+len(named))
	entities = append(entities, named...)
	entities = append(entities, temporal...)
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].Offset < entities[j].Offset })

	intent, certainty := classify(text, named)

	out = models.QueryInterpretation{
		Query:      q,
		Intent:     intent,
		Entities:   entities,
		Range:      resolveRange(entities),
		Confidence: Confidence(certainty, entityQuality(entities)),
	}
	in.logger.Debug("query interpreted",
		zap.String("query_id", q.ID),
		zap.String("intent", string(out.Intent)),
		zap.Int("entities", len(out.Entities)),
		zap.Stringer("range", out.Range),
		zap.Float64("confidence", out.Confidence))
	return out
}

// Confidence combines intent certainty and entity quality. It is
// non-decreasing in both arguments and always in [0,1].
func Confidence(certainty, quality float64) float64 {
	return clamp(intentWeight*clamp(certainty) + entityWeight*clamp(quality))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func entityQuality(entities []models.Entity) float64 {
	if len(entities) == 0 {
		return noEntityQuality
	}
	var sum float64
	for _, e := range entities {
		sum += e.Quality
	}
	return sum / float64(len(entities))
}

// resolveRange covers every temporal entity. Without any, the range is
// unbounded.
func resolveRange(entities []models.Entity) models.TimeRange {
	var (
		out   models.TimeRange
		found bool
	)
	for _, e := range entities {
		if e.Range == nil {
			continue
		}
		if !found {
			out, found = *e.Range, true
			continue
		}
		out = out.Union(*e.Range)
	}
	return out
}

// prepare makes text safe to scan: valid UTF-8, bounded length.
func prepare(text string) string {
	text = strings.ToValidUTF8(text, " ")
	if len(text) <= maxQueryBytes {
		return text
	}
	cut := maxQueryBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
