// Package watcher reloads layers when their persisted files change, using fsnotify with
// per-layer debouncing.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/models"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher watches the directories holding the layer files and invokes onChange once per
// burst of writes to a layer's vector or metadata file. Temp files written during an
// atomic replace are not layer files and are ignored; the final rename is what triggers.
type Watcher struct {
	files       map[string]models.Layer // absolute file path -> layer
	dirs        []string
	onChange    func(layer models.Layer)
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[models.Layer]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets the quiet period after the last event before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the files in layout. onChange receives the layer whose
// files changed; it runs on a timer goroutine.
func NewWatcher(layout map[models.Layer]config.LayerFiles, onChange func(layer models.Layer), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		files:       make(map[string]models.Layer),
		onChange:    onChange,
		debounce:    defaultDebounce,
		debounceMap: make(map[models.Layer]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	dirs := make(map[string]struct{})
	for layer, files := range layout {
		for _, p := range []string{files.Vectors, files.Metadata} {
			if p == "" {
				continue
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, fmt.Errorf("watch %s: %w", p, err)
			}
			w.files[abs] = layer
			dirs[filepath.Dir(abs)] = struct{}{}
		}
	}
	for d := range dirs {
		w.dirs = append(w.dirs, d)
	}
	sort.Strings(w.dirs)
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called. Missing
// directories are created so a layer can be published into them later.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range w.dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			_ = watcher.Close()
			return err
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.watcher = watcher
	w.started = true
	w.logger.Debug("watcher starting", zap.Strings("dirs", w.dirs), zap.Duration("debounce", w.debounce))
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	layer, ok := w.files[filepath.Clean(ev.Name)]
	if !ok {
		return
	}
	w.logger.Debug("watcher event",
		zap.String("op", ev.Op.String()),
		zap.String("path", ev.Name),
		zap.String("layer", layer.String()),
	)
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.debounceLayer(layer)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// The current index stays published until a complete replacement arrives.
		w.logger.Warn("layer file removed", zap.String("layer", layer.String()), zap.String("path", ev.Name))
	}
}

func (w *Watcher) debounceLayer(layer models.Layer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.debounceMap[layer]; ok {
		t.Stop()
	}
	w.debounceMap[layer] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, layer)
		w.mu.Unlock()
		w.logger.Info("layer files changed", zap.String("layer", layer.String()))
		if w.onChange != nil {
			w.onChange(layer)
		}
	})
}

// Directories returns the watched directories.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.dirs...)
}

// Stop stops the watcher and releases resources. Pending debounced callbacks are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for layer, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, layer)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
