package changetracker

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"dedupvault/internal/logging"
	"dedupvault/internal/vaulterr"
)

// DefaultDebounce is the default coalescing window for repeated writes to
// the same path (e.g. an editor's save-then-fsync sequence).
const DefaultDebounce = 500 * time.Millisecond

// WatchConfig configures a WatchService.
type WatchConfig struct {
	Root            string
	ExcludePatterns []string // doublestar glob patterns, relative to Root
	Debounce        time.Duration
	Logger          *slog.Logger
}

// WatchService subscribes to filesystem notifications under a root,
// normalizes them to FileChangeEvent, and debounces repeated events for the
// same path within the configured window.
type WatchService struct {
	cfg     WatchConfig
	watcher *fsnotify.Watcher
	events  chan FileChangeEvent
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewWatchService creates a WatchService rooted at cfg.Root. Call Start to
// begin watching; Events returns the channel of debounced,
// exclude-filtered events.
func NewWatchService(cfg WatchConfig) (*WatchService, error) {
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, vaulterr.New(vaulterr.IOError, err)
	}
	if err := watcher.Add(cfg.Root); err != nil {
		_ = watcher.Close()
		return nil, vaulterr.New(vaulterr.IOError, err)
	}

	return &WatchService{
		cfg:     cfg,
		watcher: watcher,
		events:  make(chan FileChangeEvent, 256),
		logger:  logging.Default(cfg.Logger).With("component", "watchservice"),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Events returns the channel of normalized, debounced change events.
func (w *WatchService) Events() <-chan FileChangeEvent {
	return w.events
}

// Start runs the watch loop until ctx is cancelled or Close is called.
func (w *WatchService) Start(ctx context.Context) {
	go func() {
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}()
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *WatchService) Close() error {
	w.mu.Lock()
	w.closed = true
	for _, t := range w.pending {
		t.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *WatchService) handle(raw fsnotify.Event) {
	rel, err := filepath.Rel(w.cfg.Root, raw.Name)
	if err != nil {
		rel = raw.Name
	}
	rel = filepath.ToSlash(rel)

	if w.excluded(rel) {
		return
	}

	kind, ok := classify(raw)
	if !ok {
		return
	}

	w.debounce(rel, func() {
		w.mu.Lock()
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return
		}
		w.events <- FileChangeEvent{
			Kind: kind,
			Path: rel,
			Ts:   time.Now(),
		}
	})
}

func classify(raw fsnotify.Event) (ChangeKind, bool) {
	switch {
	case raw.Has(fsnotify.Create):
		return Created, true
	case raw.Has(fsnotify.Write):
		return Modified, true
	case raw.Has(fsnotify.Remove):
		return Removed, true
	case raw.Has(fsnotify.Rename):
		return Renamed, true
	default:
		return 0, false
	}
}

func (w *WatchService) excluded(rel string) bool {
	for _, pattern := range w.cfg.ExcludePatterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// debounce coalesces repeated events for the same path within the
// configured window, firing fn once the window elapses quietly.
func (w *WatchService) debounce(path string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		fn()
	})
}
