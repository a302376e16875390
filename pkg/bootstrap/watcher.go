package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherLogPrefix = "bootstrap:watcher"

// DefaultDebounce is how long the watcher waits after the last change.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-applies the manifest when its file changes. It watches the
// containing directory so editors that replace the file are handled.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	reload   func(path string) error
	debounce time.Duration
}

// NewWatcher creates a Watcher for path calling reload after changes.
func NewWatcher(path string, reload func(path string) error) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s - resolve %s: %w", watcherLogPrefix, path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create file watcher: %w", watcherLogPrefix, err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("%s - failed to watch %q: %w", watcherLogPrefix, abs, err)
	}
	return &Watcher{watcher: fw, path: abs, reload: reload, debounce: DefaultDebounce}, nil
}

// Run handles change events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				if err := w.reload(w.path); err != nil {
					slog.Error(fmt.Sprintf("%s - reload of %s failed, keeping previous manifest: %v", watcherLogPrefix, w.path, err))
					return
				}
				slog.Info(fmt.Sprintf("%s - reloaded %s", watcherLogPrefix, w.path))
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn(fmt.Sprintf("%s - watcher error: %v", watcherLogPrefix, err))
		}
	}
}
