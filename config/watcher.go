package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce duration for file change events.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher monitors a config file for changes and invokes a callback.
// It watches the directory containing the file so atomic saves are seen.
type Watcher struct {
	source   *FileSource
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lastHash  string

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher creates a Watcher for source. onChange runs on the watcher's
// goroutine whenever the file's content hash changes and it parses cleanly.
func NewWatcher(source *FileSource, onChange func(ChangeEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source:   source,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the config file's directory for changes.
func (w *Watcher) Start() error {
	hash, err := w.source.Hash(context.Background())
	if err != nil {
		return fmt.Errorf("config watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	dir := filepath.Dir(w.source.Path())
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the background goroutine to exit.
// It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	target := filepath.Clean(w.source.Path())
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Symlink swaps (Kubernetes ConfigMaps) touch other names in the
			// directory, so only ignore events for unrelated YAML files.
			if filepath.Clean(event.Name) != target && isYAMLFile(event.Name) {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.processChange()
			}
		}
	}
}

// processChange reloads the config and calls onChange if the content has
// changed since the last known hash.
func (w *Watcher) processChange() {
	ctx := context.Background()
	path := w.source.Path()

	newHash, err := w.source.Hash(ctx)
	if err != nil {
		w.logger.Error("config watcher: failed to hash config", "path", path, "err", err)
		return
	}
	if newHash == w.lastHash {
		w.logger.Debug("config watcher: content unchanged, skipping", "path", path)
		return
	}

	cfg, err := w.source.Load(ctx)
	if err != nil {
		w.logger.Error("config watcher: failed to load config", "path", path, "err", err)
		return
	}

	oldHash := w.lastHash
	w.lastHash = newHash

	w.logger.Info("config changed", "path", path, "old_hash", oldHash[:8], "new_hash", newHash[:8])

	w.onChange(ChangeEvent{
		Source:  w.source.Name(),
		OldHash: oldHash,
		NewHash: newHash,
		Config:  cfg,
	})
}

func isYAMLFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
