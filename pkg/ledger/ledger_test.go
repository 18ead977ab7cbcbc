package ledger

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/tracker"
)

func TestRecordAccumulates(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Charge{
		Model: "gpt-4o-mini", CacheStatus: models.CacheMiss,
		Usage: models.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		Cost:  0.03,
	}))
	require.NoError(t, l.Record(ctx, Charge{Model: "gpt-4o-mini", CacheStatus: models.CacheHit}))
	require.NoError(t, l.Record(ctx, Charge{
		Model: "claude-3-haiku", CacheStatus: models.CacheMiss, Failed: true,
		Usage: models.Usage{PromptTokens: 50, TotalTokens: 50},
		Cost:  0.01,
	}))

	require.NoError(t, l.Record(ctx, Charge{Model: "gpt-4o-mini", CacheStatus: models.CacheNone, Failed: true}))

	snap := l.Snapshot()
	assert.EqualValues(t, 2, snap.QueriesServed)
	assert.EqualValues(t, 1, snap.CacheHits)
	assert.EqualValues(t, 2, snap.CacheMisses, "a call that never reached the cache is not a miss")
	assert.EqualValues(t, 2, snap.Failures)
	assert.EqualValues(t, 170, snap.TotalTokens)
	assert.InDelta(t, 0.04, snap.Cost, 1e-9)

	gpt := snap.ByModel["gpt-4o-mini"]
	assert.EqualValues(t, 2, gpt.QueriesServed)
	assert.EqualValues(t, 120, gpt.TotalTokens)
	assert.InDelta(t, 0.03, gpt.Cost, 1e-9)
	assert.EqualValues(t, 1, snap.ByModel["claude-3-haiku"].Failures)
}

func TestCacheHitAddsNoCost(t *testing.T) {
	l := New(nil, nil)
	before := l.Snapshot()
	require.NoError(t, l.Record(context.Background(), Charge{Model: "m", CacheStatus: models.CacheHit}))
	after := l.Snapshot()

	assert.Equal(t, before.Cost, after.Cost)
	assert.Equal(t, before.TotalTokens, after.TotalTokens)
	assert.Equal(t, before.QueriesServed+1, after.QueriesServed)
}

func TestRejectsNegativeCharge(t *testing.T) {
	l := New(nil, nil)
	err := l.Record(context.Background(), Charge{Model: "m", Cost: -1})
	require.Error(t, err)
	assert.Zero(t, l.Snapshot().QueriesServed)
}

func TestSnapshotIsACopy(t *testing.T) {
	l := New(nil, nil)
	_ = l.Record(context.Background(), Charge{Model: "m", Cost: 1})
	snap := l.Snapshot()
	snap.ByModel["m"] = Totals{}
	snap.Cost = 0

	again := l.Snapshot()
	assert.Equal(t, 1.0, again.Cost)
	assert.Equal(t, 1.0, again.ByModel["m"].Cost)
}

func TestConcurrentRecordsAreMonotonic(t *testing.T) {
	l := New(nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				p, c := rng.Intn(100), rng.Intn(50)
				_ = l.Record(ctx, Charge{
					Model:       "m",
					CacheStatus: models.CacheMiss,
					Usage:       models.Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c},
					Cost:        float64(p+c) / 1000,
				})
			}
		}(int64(g))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var prev Snapshot
	for {
		snap := l.Snapshot()
		require.GreaterOrEqual(t, snap.QueriesServed, prev.QueriesServed)
		require.GreaterOrEqual(t, snap.TotalTokens, prev.TotalTokens)
		require.GreaterOrEqual(t, snap.Cost, prev.Cost)
		prev = snap
		select {
		case <-done:
			assert.EqualValues(t, 1600, l.Snapshot().QueriesServed)
			return
		default:
		}
	}
}

func TestJournalPersistsCharges(t *testing.T) {
	tr, err := tracker.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	l := New(tr, nil)
	ctx := context.Background()
	require.NoError(t, l.Record(ctx, Charge{
		QueryID: "q-7", Model: "gpt-4o-mini", CacheStatus: models.CacheMiss,
		Usage: models.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		Cost:  0.002,
	}))

	records, err := tr.Query(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "q-7", records[0].QueryID)
	assert.Equal(t, 15, records[0].TotalTokens)
}

type failingJournal struct{}

func (failingJournal) Record(context.Context, models.UsageRecord) error {
	return errors.New("disk full")
}

func TestJournalFailureKeepsTotals(t *testing.T) {
	l := New(failingJournal{}, nil)
	err := l.Record(context.Background(), Charge{Model: "m", Cost: 0.5})
	require.Error(t, err)
	assert.Equal(t, 0.5, l.Snapshot().Cost)
}
