package prompt

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/statline-ai/statline/pkg/errors"
	"github.com/statline-ai/statline/pkg/models"
)

func testInterp() models.QueryInterpretation {
	r := models.TimeRange{
		Start: time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	return models.QueryInterpretation{
		Query:    models.Query{ID: "q1", Text: "Who led the league in assists in 2021?"},
		Intent:   models.IntentRanking,
		Entities: []models.Entity{{Type: models.EntitySeason, ID: "2021", Canonical: "2021", Range: &r}},
		Range:    r,
	}
}

func testSet(n int) models.EvidenceSet {
	types := []models.SourceType{models.SourcePlayer, models.SourceGame, models.SourcePlay}
	set := models.EvidenceSet{}
	for i := 0; i < n; i++ {
		st := types[i*len(types)/max(n, 1)]
		set.Items = append(set.Items, models.EvidenceItem{
			ID:         fmt.Sprintf("%s-%d", st, i),
			SourceType: st,
			Score:      1 - float64(i)/100,
			Anchor:     models.Anchor{Date: time.Date(2021, 1, 1+i%28, 0, 0, 0, 0, time.UTC), Season: 2021},
			Snippet:    strings.Repeat("assist ", 3+i%5),
			Fields:     map[string]any{"ast": 8 + i, "team": "GSW"},
		})
	}
	return set
}

func TestAssembleIncludesEverythingWhenItFits(t *testing.T) {
	a := NewAssembler(Approximate{}, nil)
	plan, err := a.Assemble(testInterp(), testSet(6), 4096)
	require.NoError(t, err)

	assert.Len(t, plan.Included, 6)
	assert.Zero(t, plan.Dropped)
	assert.Contains(t, plan.Instruction, "Who led the league in assists in 2021?")
	assert.Contains(t, plan.Instruction, "2020-10-01 to 2021-06-30")
	assert.Contains(t, plan.Instruction, "rank the candidates")
	assert.Contains(t, plan.EvidenceBlock, "### Player evidence")
	assert.Contains(t, plan.EvidenceBlock, "### Game evidence")
	assert.Contains(t, plan.EvidenceBlock, "### Play evidence")
	assert.Contains(t, plan.EvidenceBlock, "[player-0] (2021-01-01, season 2021, score 1.000)")
	assert.Contains(t, plan.EvidenceBlock, "; ast=8; team=GSW")
	assert.Equal(t, plan.Instruction+separator+plan.EvidenceBlock, plan.Text)
	assert.Equal(t, Approximate{}.Count(plan.Text), plan.TotalTokens)
	assert.Equal(t, Approximate{}.Count(plan.Instruction), plan.InstructionTokens)
}

func TestAssembleStopsAtFirstItemThatDoesNotFit(t *testing.T) {
	a := NewAssembler(Approximate{}, nil)
	full, err := a.Assemble(testInterp(), testSet(9), 4096)
	require.NoError(t, err)

	budget := full.InstructionTokens + (full.TotalTokens-full.InstructionTokens)/2
	plan, err := a.Assemble(testInterp(), testSet(9), budget)
	require.NoError(t, err)

	assert.LessOrEqual(t, plan.TotalTokens, budget)
	assert.NotEmpty(t, plan.Included)
	assert.Less(t, len(plan.Included), 9)
	assert.Equal(t, 9-len(plan.Included), plan.Dropped)
	// Inclusion is a prefix of the relevance order.
	assert.Equal(t, full.Included[:len(plan.Included)], plan.Included)
}

func TestAssembleTemplateOverBudget(t *testing.T) {
	a := NewAssembler(Approximate{}, nil)
	_, err := a.Assemble(testInterp(), testSet(3), 5)
	require.Error(t, err)
	assert.Equal(t, serrors.CategoryBudgetViolation, serrors.CategoryOf(err))
	assert.False(t, serrors.RetryableOf(err))
}

func TestAssembleEmptyEvidence(t *testing.T) {
	a := NewAssembler(Approximate{}, nil)
	set := models.EvidenceSet{Degraded: true}
	plan, err := a.Assemble(testInterp(), set, 4096)
	require.NoError(t, err)
	assert.Empty(t, plan.EvidenceBlock)
	assert.Equal(t, plan.Instruction, plan.Text)
	assert.Contains(t, plan.Instruction, "may be incomplete")
}

func TestEveryIntentHasTemplate(t *testing.T) {
	a := NewAssembler(Approximate{}, nil)
	for _, intent := range models.IntentPriority {
		in := testInterp()
		in.Intent = intent
		plan, err := a.Assemble(in, models.EvidenceSet{}, 4096)
		require.NoError(t, err, intent)
		assert.Contains(t, plan.Instruction, "Task:", intent)
	}
	in := testInterp()
	in.Intent = "trivia"
	_, err := a.Assemble(in, models.EvidenceSet{}, 4096)
	assert.NoError(t, err)
}

func TestAssembleDeterministic(t *testing.T) {
	a := NewAssembler(Approximate{}, nil)
	first, err := a.Assemble(testInterp(), testSet(8), 300)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := a.Assemble(testInterp(), testSet(8), 300)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAssembleBudgetProperties(t *testing.T) {
	a := NewAssembler(Approximate{}, nil)
	rng := rand.New(rand.NewSource(3))
	floor, err := a.Assemble(testInterp(), models.EvidenceSet{}, 4096)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		n := rng.Intn(15)
		max := floor.InstructionTokens + rng.Intn(400)
		set := testSet(n)

		plan, err := a.Assemble(testInterp(), set, max)
		require.NoError(t, err)
		assert.LessOrEqual(t, plan.TotalTokens, max)

		if n == 0 {
			continue
		}
		smaller := set
		smaller.Items = set.Items[:n-1]
		reduced, err := a.Assemble(testInterp(), smaller, max)
		require.NoError(t, err)
		assert.LessOrEqual(t, reduced.TotalTokens, plan.TotalTokens, "n=%d max=%d", n, max)
	}
}

func TestApproximateCounter(t *testing.T) {
	c := Approximate{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("a"))
	assert.Equal(t, 2, c.Count("a b"))
	assert.Equal(t, 2, c.Count("abcdefgh"))
	assert.Equal(t, 3, c.Count("abcdefghi"))
}

func TestNewCounterFallsBack(t *testing.T) {
	assert.Equal(t, "approximate", NewCounter("", nil).Name())
	assert.Equal(t, "approximate", NewCounter("no-such-encoding", nil).Name())
}
