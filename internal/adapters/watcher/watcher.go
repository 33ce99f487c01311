// Package watcher provides file system watching for the drop directory.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Notifier is called once a burst of drop directory changes has settled.
type Notifier func()

// Watcher watches the drop directory and nudges the sweeper when files
// arrive or change. Deletions are ignored, the sweeper prunes its own
// bookkeeping on the next scan.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	notify    Notifier
	logger    *slog.Logger
	dir       string
	debounce  time.Duration

	mu      sync.Mutex
	lastHit time.Time
	armed   bool
}

// Config holds watcher configuration.
type Config struct {
	Dir      string
	Debounce time.Duration
}

// New creates a new drop directory watcher.
func New(cfg Config, notify Notifier, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		notify:    notify,
		logger:    logger,
		dir:       cfg.Dir,
		debounce:  cfg.Debounce,
	}, nil
}

// Start starts watching the drop directory.
func (w *Watcher) Start(ctx context.Context) error {
	absDir, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}

	if err := w.fsWatcher.Add(absDir); err != nil {
		return err
	}

	w.logger.Info("watching drop directory", "dir", absDir)

	// Start event loop
	go w.eventLoop(ctx)

	// Start debounce processor
	go w.debounceLoop(ctx)

	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.fsWatcher.Close()
}

// eventLoop processes fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleFsEvent arms the debounce window for relevant drop files.
func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		return
	}
	if !isDropFile(event.Name) {
		return
	}

	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	w.lastHit = time.Now()
	w.armed = true
	w.mu.Unlock()
}

// debounceLoop fires the notifier once events stop arriving. A copy
// burst into the drop directory causes a single sweep request.
func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.fireIfSettled()
		}
	}
}

// fireIfSettled calls the notifier once the debounce window has passed
// without further events.
func (w *Watcher) fireIfSettled() {
	w.mu.Lock()
	ready := w.armed && time.Since(w.lastHit) >= w.debounce
	if ready {
		w.armed = false
	}
	w.mu.Unlock()

	if ready {
		w.logger.Debug("drop directory changed, requesting sweep")
		w.notify()
	}
}

// isDropFile checks whether the path has an extension the sweeper
// picks up.
func isDropFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json", ".zip", ".gpkg", ".tif", ".tiff":
		return true
	}
	return false
}
