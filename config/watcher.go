package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long the watcher waits for editors to finish
// their write/rename dance before reloading.
const defaultDebounce = 500 * time.Millisecond

// Watcher reloads a config file on change and hands validated configs to
// a callback. Invalid configs are logged and skipped; the previous config
// stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   bool

	onReload func(*Config)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the reload debounce interval.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for the given config file. onReload is
// called with each successfully loaded and validated config.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config), opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		path:     path,
		debounce: defaultDebounce,
		watcher:  fsw,
		logger:   logger,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Watching the parent directory rather than the
// file itself survives the rename-and-replace editors and config
// management tools do.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Config watcher started",
		"path", w.path,
		"debounce", w.debounce)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.pendingMu.Lock()
			w.pending = true
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// flushPending reloads the file if a change is pending.
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	pending := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !pending {
		return
	}

	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Warn("Skipping config reload", "path", w.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("Skipping invalid config reload", "path", w.path, "error", err)
		return
	}

	w.logger.Info("Reloading config", "path", w.path)
	w.onReload(cfg)
}
