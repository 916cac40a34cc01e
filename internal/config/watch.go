package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/chatgate/internal/logging"
)

// Watcher reloads the config file when it changes on disk and hands the
// new Config to the subscriber. Only fields that are safe to change at
// runtime are expected to be applied by subscribers (log level, timeouts).
type Watcher struct {
	watcher      *fsnotify.Watcher
	path         string
	debounce     time.Duration
	onChange     func(*Config)
	stopCh       chan struct{}
	mu           sync.Mutex
	pendingTimer *time.Timer
}

// NewWatcher creates a watcher for the config at path.
// The parent directory is watched so editors that replace the file
// (write temp + rename) are picked up.
func NewWatcher(path string, debounce time.Duration, onChange func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  fsWatcher,
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

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
			L_debug("config: file changed", "path", event.Name, "op", event.Op.String())
			w.trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("config: watcher error", "error", err)
		}
	}
}

// trigger schedules a reload with debouncing.
func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.pendingTimer = nil
		w.mu.Unlock()
		w.reload()
	})
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		L_warn("config: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	L_info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	close(w.stopCh)

	w.mu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}
