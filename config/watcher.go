package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounceDelay coalesces rapid editor write bursts into one
// reload.
const DefaultDebounceDelay = 250 * time.Millisecond

// Callback receives the reloaded configuration.
type Callback func(*Config)

// ErrorCallback receives reload failures.
type ErrorCallback func(error)

// Watcher reloads the configuration file when it changes on disk. The
// parent directory is watched so atomic rename-in-place saves are
// caught.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      Callback
	errorCallback ErrorCallback
	logger        *zap.Logger
	debounceDelay time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WatcherOption is a functional option for the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		if delay > 0 {
			w.debounceDelay = delay
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithErrorCallback sets the reload failure callback.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// NewWatcher creates a watcher for path. Start begins delivery.
func NewWatcher(path string, callback Callback, opts ...WatcherOption) (*Watcher, error) {
	if callback == nil {
		return nil, fmt.Errorf("config watcher requires a callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	w := &Watcher{
		path:          abs,
		callback:      callback,
		logger:        zap.NewNop(),
		debounceDelay: DefaultDebounceDelay,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. The current file must parse before watching
// starts.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if _, err := Load(w.path); err != nil {
		return fmt.Errorf("initial config load: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	w.watcher = fsw
	w.running = true
	go w.loop()
	return nil
}

// Stop ends watching. Safe to call twice.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounceDelay)
			} else {
				debounce.Reset(w.debounceDelay)
			}
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", zap.Error(err))
		if w.errorCallback != nil {
			w.errorCallback(err)
		}
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.callback(cfg)
}
