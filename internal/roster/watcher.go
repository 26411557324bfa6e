package roster

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/campusworks/rollsync/internal/reconcile"
)

// WatcherConfig configures a roster file watcher.
type WatcherConfig struct {
	// DebounceInterval coalesces rapid successive writes (editors often
	// truncate-then-write) into one apply. Default 500ms.
	DebounceInterval time.Duration

	// OnApply is called with the summary of each completed apply.
	OnApply func(Summary)

	// OnError is called when loading or watching fails; the watcher
	// keeps running.
	OnError func(error)

	Logger zerolog.Logger
}

// Watcher re-applies a roster file whenever it changes on disk. Many
// editors replace the file by rename, so the watch is on the parent
// directory and filtered to the roster path.
type Watcher struct {
	path    string
	rec     *reconcile.Reconciler
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewWatcher creates a watcher for the roster at path.
func NewWatcher(path string, rec *reconcile.Reconciler, config WatcherConfig) (*Watcher, error) {
	if config.DebounceInterval == 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("resolve roster path: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:    abs,
		rec:     rec,
		config:  config,
		watcher: fsWatcher,
		logger:  config.Logger,
	}, nil
}

// Run applies the roster once, then blocks re-applying on every change
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.apply(ctx)

	timer := time.NewTimer(w.config.DebounceInterval)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("path", w.path).Str("op", event.Op.String()).Msg("roster changed")
			timer.Reset(w.config.DebounceInterval)

		case <-timer.C:
			w.apply(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.config.OnError != nil {
				w.config.OnError(err)
			}
		}
	}
}

func (w *Watcher) apply(ctx context.Context) {
	requests, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("roster load failed")
		if w.config.OnError != nil {
			w.config.OnError(err)
		}
		return
	}

	summary := Apply(ctx, w.rec, requests)
	w.logger.Info().
		Int("entries", len(summary.Results)).
		Int("conflicts", summary.Counts[reconcile.Conflict]).
		Int("failures", summary.Counts[reconcile.Failed]).
		Msg("roster applied")
	if w.config.OnApply != nil {
		w.config.OnApply(summary)
	}
}
