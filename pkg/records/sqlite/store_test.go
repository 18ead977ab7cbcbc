package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/records"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "records_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := models.Record{ID: "p-curry-2021", SourceType: models.SourcePlayer, Fields: map[string]any{"ast": 6.3, "team": "GSW"}}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "p-curry-2021")
	if err != nil {
		t.Fatal(err)
	}
	if got.SourceType != models.SourcePlayer {
		t.Errorf("unexpected source type: %s", got.SourceType)
	}
	if got.Fields["ast"] != 6.3 || got.Fields["team"] != "GSW" {
		t.Errorf("unexpected fields: %v", got.Fields)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
