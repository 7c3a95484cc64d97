// SPDX-License-Identifier: MIT

package state

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/streamwarden/internal/log"
	"github.com/fsnotify/fsnotify"
)

// reloader is implemented by every store that can re-read itself from disk.
type reloader interface {
	Reload() error
}

// Watcher reloads stores when their files change on disk, so operators can
// edit the JSON blobs directly or sync them from another machine. Our own
// atomic writes also trigger events; reloading then is a harmless no-op
// because it reads back exactly what was written.
type Watcher struct {
	dir     string
	stores  map[string]reloader
	watcher *fsnotify.Watcher

	// OnReload, when set before Start, runs after a store has been
	// re-read from disk. It receives the file's base name.
	OnReload func(file string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

const watchDebounce = 500 * time.Millisecond

// NewWatcher wires the default file → store mapping for a Stores bundle.
func NewWatcher(dir string, s *Stores) *Watcher {
	return &Watcher{
		dir: dir,
		stores: map[string]reloader{
			FileAutomationConfig:    s.Config,
			FileStreamCheckerConfig: s.Config,
			FileChannelRegex:        s.Regex,
			FileChannelSettings:     s.Settings,
			FileGroupSettings:       s.Settings,
			FileProfileConfig:       s.Profiles,
			FileChannelUpdates:      s.Updates,
			FileDeadStreams:         s.Dead,
			FileChangelog:           s.Changelog,
		},
		timers: make(map[string]*time.Timer),
	}
}

// Start begins watching the data directory. It returns once the watcher is
// installed; reloads happen in the background until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.watcher = watcher

	logger := log.WithComponent("state")
	logger.Info().
		Str("event", "state.watcher_started").
		Str("dir", w.dir).
		Msg("watching data directory for external edits")

	go w.loop(ctx)
	return nil
}

// ReloadAll re-reads every store once, used on SIGHUP.
func (w *Watcher) ReloadAll() {
	logger := log.WithComponent("state")
	seen := make(map[reloader]bool)
	for name, store := range w.stores {
		if seen[store] {
			continue
		}
		seen[store] = true
		if err := store.Reload(); err != nil {
			logger.Error().Err(err).
				Str("event", "state.reload_failed").
				Str("file", name).
				Msg("reload failed, keeping in-memory state")
			continue
		}
		if w.OnReload != nil {
			w.OnReload(name)
		}
	}
}

func (w *Watcher) loop(ctx context.Context) {
	logger := log.WithComponent("state")
	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			logger.Info().Str("event", "state.watcher_stopped").Msg("data directory watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			store, known := w.stores[name]
			if !known {
				continue
			}
			w.debounce(name, func() {
				if err := store.Reload(); err != nil {
					logger.Error().Err(err).
						Str("event", "state.reload_failed").
						Str("file", name).
						Msg("reload failed, keeping in-memory state")
					return
				}
				logger.Debug().
					Str("event", "state.reloaded").
					Str("file", name).
					Msg("store reloaded from disk")
				if w.OnReload != nil {
					w.OnReload(name)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).
				Str("event", "state.watcher_error").
				Msg("data directory watcher error")
		}
	}
}

// debounce coalesces event bursts per file; editors and renameio both emit
// several events per save.
func (w *Watcher) debounce(name string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[name]; ok {
		t.Stop()
	}
	w.timers[name] = time.AfterFunc(watchDebounce, fn)
}
