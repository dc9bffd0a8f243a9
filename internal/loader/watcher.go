package loader

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of fs events a build tool produces
// while writing a plugin artifact.
const debounceWindow = 500 * time.Millisecond

// ChangeKind classifies a watched plugin directory change.
type ChangeKind int

const (
	ChangeUpdated ChangeKind = iota
	ChangeRemoved
)

// Change reports one debounced plugin directory change.
type Change struct {
	Dir  string
	Kind ChangeKind
}

// Watcher follows the plugin roots and reports debounced changes so the
// runtime can hot-reload affected plugins.
type Watcher struct {
	scanner *Scanner
	logger  *slog.Logger
	onEvent func(Change)

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	debounce map[string]*time.Timer
}

// NewWatcher creates a watcher delivering changes to onEvent.
func NewWatcher(scanner *Scanner, logger *slog.Logger, onEvent func(Change)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		scanner:  scanner,
		logger:   logger,
		onEvent:  onEvent,
		debounce: make(map[string]*time.Timer),
	}
}

// Start begins watching every configured root and its plugin directories.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.watcher = fsw
	w.cancel = cancel
	w.mu.Unlock()

	for _, root := range w.scanner.cfg.Roots {
		if err := fsw.Add(root); err != nil {
			w.logger.Warn("watch root failed", "root", root, "error", err)
			continue
		}
		dirs, err := w.scanner.candidateDirs(root)
		if err != nil {
			continue
		}
		for _, d := range dirs {
			fsw.Add(d)
		}
	}

	w.logger.Info("plugin hot reload enabled", "roots", w.scanner.cfg.Roots)
	go w.loop(ctx)
	return nil
}

// Stop halts the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
}

func (w *Watcher) loop(ctx context.Context) {
	w.mu.Lock()
	fsw := w.watcher
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handle debounces rapid changes per plugin directory.
func (w *Watcher) handle(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	interesting := base == manifestName || base == raycastManifestName ||
		filepath.Ext(base) == ".wasm" || filepath.Ext(base) == ".js"
	if !interesting {
		return
	}

	dir := filepath.Dir(event.Name)
	kind := ChangeUpdated
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && (base == manifestName || base == raycastManifestName) {
		kind = ChangeRemoved
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.debounce[dir]; exists {
		timer.Stop()
	}
	w.debounce[dir] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.debounce, dir)
		w.mu.Unlock()
		if w.onEvent != nil {
			w.onEvent(Change{Dir: dir, Kind: kind})
		}
	})
}
