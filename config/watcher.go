package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Swind/go-taskkit/core"
)

// Watcher reloads a config file whenever it changes and publishes every
// valid result. Invalid edits are logged and skipped.
type Watcher struct {
	path    string
	logger  core.Logger
	updates chan Options
}

// NewWatcher creates a watcher for path. logger may be nil.
func NewWatcher(path string, logger core.Logger) *Watcher {
	if logger == nil {
		logger = core.NewDefaultLogger("config")
	}
	return &Watcher{
		path:    path,
		logger:  logger,
		updates: make(chan Options, 1),
	}
}

// Updates delivers reloaded options. Only the latest pending value is kept.
// The channel is closed when the watcher stops.
func (w *Watcher) Updates() <-chan Options { return w.updates }

// Start watches the file's directory so that editors replacing the file are
// noticed too. It returns once the watch is in place.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}
	target := filepath.Clean(w.path)

	go func() {
		defer fsw.Close()
		defer close(w.updates)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.reload()
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", core.F("error", err))
			}
		}
	}()
	return nil
}

func (w *Watcher) reload() {
	opts, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config", core.F("path", w.path), core.F("error", err))
		return
	}
	// drop a stale pending value so readers always see the newest file
	select {
	case <-w.updates:
	default:
	}
	select {
	case w.updates <- opts:
	default:
	}
	w.logger.Info("config reloaded", core.F("path", w.path))
}
