package gazetteer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Holder publishes the current snapshot. Readers always see a complete
// snapshot; replacements are wholesale.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder returns a holder serving s. A nil s is replaced by an empty
// snapshot.
func NewHolder(s *Snapshot) *Holder {
	if s == nil {
		s = New("empty", nil, nil, 0)
	}
	h := &Holder{}
	h.current.Store(s)
	return h
}

// Snapshot returns the snapshot in effect.
func (h *Holder) Snapshot() *Snapshot {
	return h.current.Load()
}

// Replace swaps in s.
func (h *Holder) Replace(s *Snapshot) {
	if s != nil {
		h.current.Store(s)
	}
}

// Watch reloads path into h whenever the file changes, until ctx is done.
// An invalid file is logged and the previous snapshot stays in effect.
func Watch(ctx context.Context, path string, maxDist int, h *Holder, logger *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Editors often replace the file rather than write it, so watch the
	// directory and filter by name.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			snap, err := LoadFile(path, maxDist)
			if err != nil {
				logger.Warn("gazetteer reload failed, keeping previous snapshot",
					zap.String("path", path), zap.Error(err))
				continue
			}
			h.Replace(snap)
			players, teams := snap.Size()
			logger.Info("gazetteer reloaded",
				zap.String("version", snap.Version()),
				zap.Int("players", players), zap.Int("teams", teams))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("gazetteer watcher error", zap.Error(err))
		}
	}
}
