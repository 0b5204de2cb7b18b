package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the store when the configuration file changes on disk.
// Events are debounced: editors often emit several writes per save, and one
// reload per save is enough.
type Watcher struct {
	store    *Store
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a watcher for the configuration file at path.
func NewWatcher(store *Store, path string, logger *zap.Logger) *Watcher {
	return &Watcher{
		store:    store,
		path:     path,
		debounce: 200 * time.Millisecond,
		logger:   logger,
	}
}

// Watch blocks, reloading the store after each settled change to the file,
// until ctx is cancelled. A failed reload is logged and leaves the previous
// snapshot active, the same as a failed reload over HTTP.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch the directory, not the file: editors that save via rename drop
	// a watch registered on the file itself.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("Watching configuration file", zap.String("file", w.path))

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				pending = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))

		case <-pending:
			timer = nil
			pending = nil
			if _, err := w.store.Reload(w.path); err != nil {
				w.logger.Warn("Automatic reload failed", zap.String("file", w.path), zap.Error(err))
			}
		}
	}
}
