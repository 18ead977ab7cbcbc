package understanding

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/statline-ai/statline/pkg/gazetteer"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestInterpreter() *Interpreter {
	snap := gazetteer.New("test", []gazetteer.Player{
		{ID: "p-curry", Name: "Stephen Curry", Aliases: []string{"Steph Curry"}},
		{ID: "p-james", Name: "LeBron James"},
		{ID: "p-paul", Name: "Chris Paul"},
	}, []gazetteer.Team{
		{ID: "t-lal", Name: "Lakers", City: "Los Angeles", Abbreviation: "LAL"},
		{ID: "t-bos", Name: "Celtics", City: "Boston", Abbreviation: "BOS"},
	}, 0)
	return New(gazetteer.NewHolder(snap), DefaultCalendar, nil)
}

func interpret(t *testing.T, text string, ref time.Time) models.QueryInterpretation {
	t.Helper()
	return newTestInterpreter().Interpret(models.Query{ID: "q", Text: text}, ref)
}

func TestLedTheLeagueScenario(t *testing.T) {
	got := interpret(t, "Who led the league in assists in 2021?", date(2022, 1, 1))

	assert.Equal(t, models.IntentRanking, got.Intent)
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "season:2021", got.Entities[0].String())
	assert.Equal(t, date(2020, 10, 1), got.Range.Start)
	assert.Equal(t, date(2021, 6, 30), got.Range.End)
	assert.Greater(t, got.Confidence, 0.7)
}

func TestIntentPriority(t *testing.T) {
	tests := []struct {
		text string
		want models.Intent
	}{
		{"Stephen Curry vs LeBron James career points", models.IntentComparison},
		{"Who had more assists, Chris Paul or LeBron James?", models.IntentComparison},
		{"Top 5 scorers this season", models.IntentRanking},
		{"How many rebounds did LeBron James average?", models.IntentStatistics},
		{"Tell me about the Lakers", models.IntentNarrative},
		{"Will the Celtics win next season?", models.IntentPrediction},
		{"Lakers", models.IntentUnknown},
		{"", models.IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := interpret(t, tt.text, date(2022, 1, 1))
			assert.Equal(t, tt.want, got.Intent)
		})
	}
}

func TestEntitiesInTextOrder(t *testing.T) {
	got := interpret(t, "Compare Steph Cury and the Boston Celtics in 2020-21", date(2022, 1, 1))

	require.Len(t, got.Entities, 3)
	assert.Equal(t, "p-curry", got.Entities[0].ID)
	assert.Equal(t, "Steph Cury", got.Entities[0].Surface)
	assert.Less(t, got.Entities[0].Quality, 1.0)
	assert.Equal(t, "t-bos", got.Entities[1].ID)
	assert.Equal(t, "Boston Celtics", got.Entities[1].Surface)
	assert.Equal(t, models.EntitySeason, got.Entities[2].Type)
	assert.Equal(t, "2021", got.Entities[2].ID)

	for i := 1; i < len(got.Entities); i++ {
		assert.Less(t, got.Entities[i-1].Offset, got.Entities[i].Offset)
	}
	assert.Equal(t, "Steph Cury", "Compare Steph Cury and the Boston Celtics in 2020-21"[got.Entities[0].Offset:][:len("Steph Cury")])
}

func TestEntityReportedOnce(t *testing.T) {
	got := interpret(t, "Lakers points and Lakers rebounds", date(2022, 1, 1))
	require.Len(t, got.EntitiesOf(models.EntityTeam), 1)
}

func TestTemporalPhrases(t *testing.T) {
	inSeason := date(2022, 1, 15)
	offSeason := date(2022, 8, 1)

	tests := []struct {
		name      string
		text      string
		ref       time.Time
		start     time.Time
		end       time.Time
		entityTyp models.EntityType
	}{
		{"season label", "assists in 2019", inSeason, date(2018, 10, 1), date(2019, 6, 30), models.EntitySeason},
		{"the season", "the 2021 season", inSeason, date(2020, 10, 1), date(2021, 6, 30), models.EntitySeason},
		{"short span", "2020-21", inSeason, date(2020, 10, 1), date(2021, 6, 30), models.EntitySeason},
		{"long span", "2020-2021", inSeason, date(2020, 10, 1), date(2021, 6, 30), models.EntitySeason},
		{"since", "since 2019", inSeason, date(2018, 10, 1), time.Time{}, models.EntityDateRange},
		{"before", "before 2015", inSeason, time.Time{}, date(2014, 6, 30), models.EntityDateRange},
		{"between", "between 2018 and 2020", inSeason, date(2017, 10, 1), date(2020, 6, 30), models.EntityDateRange},
		{"from to", "from 2018 to 2020", inSeason, date(2017, 10, 1), date(2020, 6, 30), models.EntityDateRange},
		{"last season in season", "last season", inSeason, date(2020, 10, 1), date(2021, 6, 30), models.EntitySeason},
		{"last season off season", "last season", offSeason, date(2021, 10, 1), date(2022, 6, 30), models.EntitySeason},
		{"this season in season", "this season", inSeason, date(2021, 10, 1), date(2022, 6, 30), models.EntitySeason},
		{"this season off season", "this season", offSeason, date(2022, 10, 1), date(2023, 6, 30), models.EntitySeason},
		{"last n seasons", "over the last 3 seasons", offSeason, date(2019, 10, 1), date(2022, 6, 30), models.EntityDateRange},
		{"last n seasons words", "past two seasons", inSeason, date(2019, 10, 1), date(2021, 6, 30), models.EntityDateRange},
		{"last year", "last year", inSeason, date(2021, 1, 1), date(2021, 12, 31), models.EntityDateRange},
		{"this year", "this year", inSeason, date(2022, 1, 1), date(2022, 12, 31), models.EntityDateRange},
		{"month year", "in March 2021", inSeason, date(2021, 3, 1), date(2021, 3, 31), models.EntityDateRange},
		{"iso date", "on 2021-03-15", inSeason, date(2021, 3, 15), date(2021, 3, 15), models.EntityDateRange},
		{"long date", "on March 15, 2021", inSeason, date(2021, 3, 15), date(2021, 3, 15), models.EntityDateRange},
		{"stat count is not a season", "Who scored 2000 points in 2021?", inSeason, date(2020, 10, 1), date(2021, 6, 30), models.EntitySeason},
		{"season before stat noun", "the 2021 season wins", inSeason, date(2020, 10, 1), date(2021, 6, 30), models.EntitySeason},
		{"career total is not a season", "1998 career assists during the 2019 season", inSeason, date(2018, 10, 1), date(2019, 6, 30), models.EntitySeason},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := interpret(t, tt.text, tt.ref)
			require.Len(t, got.Entities, 1, "entities: %v", got.Entities)
			assert.Equal(t, tt.entityTyp, got.Entities[0].Type)
			assert.Equal(t, tt.start, got.Range.Start)
			assert.Equal(t, tt.end, got.Range.End)
		})
	}
}

func TestMultipleTemporalMentionsCombine(t *testing.T) {
	got := interpret(t, "Lakers in 2018 and 2020", date(2022, 1, 1))
	assert.Len(t, got.EntitiesOf(models.EntitySeason), 2)
	assert.Equal(t, date(2017, 10, 1), got.Range.Start)
	assert.Equal(t, date(2020, 6, 30), got.Range.End)
}

func TestNoTemporalMentionIsUnbounded(t *testing.T) {
	got := interpret(t, "LeBron James career points", date(2022, 1, 1))
	assert.True(t, got.Range.Unbounded())
}

func TestInvalidSpanIsIgnored(t *testing.T) {
	got := interpret(t, "scores from 2019-23", date(2022, 1, 1))
	for _, e := range got.Entities {
		assert.NotEqual(t, "2023", e.ID)
	}
}

func TestConfidenceMonotonic(t *testing.T) {
	steps := []float64{0, 0.3, 0.7, 0.85, 0.9, 1}
	for _, c := range steps {
		prev := -1.0
		for _, q := range steps {
			got := Confidence(c, q)
			assert.GreaterOrEqual(t, got, prev)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
			prev = got
		}
	}
	assert.Equal(t, 0.0, Confidence(-2, -1))
	assert.Equal(t, 1.0, Confidence(3, 3))
}

func TestMalformedInputNeverFails(t *testing.T) {
	in := newTestInterpreter()
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abcxyz 0123456789-–/.,'’?!éß\x00ÿ")
	inputs := []string{
		"",
		"   ",
		"\xff\xfe\xfd",
		strings.Repeat("2021 ", 2000),
		strings.Repeat("a", 10000),
		"between 9999 and 0000",
		"last 0 seasons",
	}
	for i := 0; i < 200; i++ {
		n := rng.Intn(80)
		b := make([]rune, n)
		for j := range b {
			b[j] = alphabet[rng.Intn(len(alphabet))]
		}
		inputs = append(inputs, string(b))
	}

	for _, text := range inputs {
		got := in.Interpret(models.Query{Text: text}, date(2022, 1, 1))
		assert.GreaterOrEqual(t, got.Confidence, 0.0)
		assert.LessOrEqual(t, got.Confidence, 1.0)
		assert.NotEmpty(t, got.Intent)
	}
}

func TestReferenceDefaultsToSubmission(t *testing.T) {
	in := newTestInterpreter()
	got := in.Interpret(models.Query{Text: "last season", SubmittedAt: date(2022, 1, 1)}, time.Time{})
	require.Len(t, got.Entities, 1)
	assert.Equal(t, "2021", got.Entities[0].ID)
}

func TestNilHolder(t *testing.T) {
	got := New(nil, DefaultCalendar, nil).Interpret(models.Query{Text: "Lakers in 2021"}, date(2022, 1, 1))
	require.Len(t, got.Entities, 1)
	assert.Equal(t, models.EntitySeason, got.Entities[0].Type)
}
