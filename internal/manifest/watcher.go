package manifest

import (
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the registry when files change under the plugin roots.
// Events are debounced so an editor save (write + rename + chmod) triggers
// a single reload.
type Watcher struct {
	registry *Registry
	fs       *fsnotify.Watcher
	logger   *slog.Logger
	done     chan struct{}
}

// NewWatcher starts watching the registry's plugin roots. Roots that do not
// exist yet are skipped; call Close to stop the watch loop.
func NewWatcher(registry *Registry, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		registry: registry,
		fs:       fsw,
		logger:   logger.With("component", "manifest_watcher"),
		done:     make(chan struct{}),
	}
	for _, root := range registry.Paths() {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		if err := fsw.Add(root); err != nil {
			w.logger.Warn("cannot watch plugin root", "root", root, "error", err)
		}
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		case <-pending:
			pending = nil
			if err := w.registry.Load(); err != nil {
				w.logger.Warn("reload failed", "error", err)
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watch loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
