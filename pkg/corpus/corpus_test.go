package corpus

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-ai/statline/pkg/embed"
	"github.com/statline-ai/statline/pkg/index"
	indexsqlite "github.com/statline-ai/statline/pkg/index/sqlite"
	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/records"
	recordsqlite "github.com/statline-ai/statline/pkg/records/sqlite"
)

const sample = `{"id":"player:jokic:2021","source_type":"player","date":"2021-05-16","season":2021,"snippet":"Nikola Jokic 2020-21: 26.4 points, 8.3 assists","fields":{"pts":26.4,"ast":8.3}}

{"id":"game:den-por:2021-05-03","source_type":"game","date":"2021-05-03","season":2021,"snippet":"Nuggets 120, Trail Blazers 115"}
{"id":"play:undated","source_type":"play","snippet":"Jokic assist to Porter Jr."}
`

func open(t *testing.T) (*indexsqlite.Index, *recordsqlite.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.db")
	idx, err := indexsqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	store, err := recordsqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return idx, store
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	idx, store := open(t)
	l := &Loader{Embedder: embed.NewHash(64), Index: idx, Records: store}

	res, err := l.Load(ctx, strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, Result{Documents: 3, Records: 1}, res)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	rec, err := store.Get(ctx, "player:jokic:2021")
	require.NoError(t, err)
	assert.Equal(t, 8.3, rec.Fields["ast"])

	_, err = store.Get(ctx, "game:den-por:2021-05-03")
	assert.ErrorIs(t, err, records.ErrNotFound)

	vec, err := embed.NewHash(64).Embed(ctx, "Nikola Jokic assists")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, index.Query{
		SourceType: models.SourcePlayer,
		Vector:     vec,
		Range: models.TimeRange{
			Start: time.Date(2020, 10, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC),
		},
		K: 5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2021, hits[0].Anchor.Season)
}

func TestLoadRejectsBadLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"malformed", `{"id":`},
		{"missing id", `{"source_type":"player","snippet":"x"}`},
		{"unknown type", `{"id":"a","source_type":"coach","snippet":"x"}`},
		{"empty snippet", `{"id":"a","source_type":"game","snippet":" "}`},
		{"bad date", `{"id":"a","source_type":"game","date":"05/03/2021","snippet":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, _ := open(t)
			l := &Loader{Embedder: embed.NewHash(64), Index: idx}
			_, err := l.Load(context.Background(), strings.NewReader(tt.line))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestLoadWithoutRecordStore(t *testing.T) {
	idx, _ := open(t)
	l := &Loader{Embedder: embed.NewHash(64), Index: idx}
	res, err := l.Load(context.Background(), strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Documents)
	assert.Zero(t, res.Records)
}
