package janitor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Purger drops registry records whose backing file has disappeared.
type Purger interface {
	PurgeLocation(path string) bool
}

// Watcher notices files removed from the scratch directory behind the
// registry's back and purges their records right away instead of waiting
// for the next lookup.
type Watcher struct {
	dir     string
	purger  Purger
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	once    sync.Once
}

func NewWatcher(dir string, purger Purger, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, purger: purger, logger: logger}
}

func (w *Watcher) Start() error {
	watcher, watcherErr := fsnotify.NewWatcher()
	if watcherErr != nil {
		return fmt.Errorf("failed to create watcher: %w", watcherErr)
	}
	if addErr := watcher.Add(w.dir); addErr != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, addErr)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if w.purger.PurgeLocation(event.Name) {
					w.logger.Debug("Purged record for vanished file", "path", event.Name, "op", event.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Scratch directory watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) Stop() {
	w.once.Do(func() {
		if w.watcher == nil {
			return
		}
		if err := w.watcher.Close(); err != nil {
			w.logger.Error("Failed to close watcher", "error", err)
		}
		w.wg.Wait()
	})
}
