// Package watch re-runs the simulation whenever the config file changes.
// It powers `driftlab watch`: edit driftlab.toml, save, and a fresh run
// launches with the new knobs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/driftlab/driftlab/pkg/log"
)

// DefaultDebounce is the quiet period after a file event before a run
// launches. Editors fire several events per save; one run per save is the
// contract.
const DefaultDebounce = 100 * time.Millisecond

// RunFunc executes one simulation with freshly loaded settings. It blocks
// until the run finishes; the watcher serializes calls, and changes saved
// mid-run coalesce into a single follow-up run.
type RunFunc func(ctx context.Context) error

// Watcher watches one config file and triggers runs.
type Watcher struct {
	path     string
	debounce time.Duration
	run      RunFunc
	logger   log.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New returns a watcher for path. A non-positive debounce falls back to
// DefaultDebounce.
func New(path string, debounce time.Duration, run RunFunc, logger log.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		run:      run,
		logger:   logger,
	}
}

// Run watches until ctx is canceled. One run launches immediately; every
// settled change of the watched file launches another. A failed run is
// logged and watching continues. Returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors that save via rename
	// would silently detach a watch registered on the file itself.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("watching config", log.String("path", w.path))

	// Capacity one: triggers fired while a run is in flight collapse into
	// a single follow-up run.
	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				w.logger.Info("launching run")
				if err := w.run(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					w.logger.Error("run failed, still watching", log.Err(err))
				}
			}
		}
	}()
	defer wg.Wait()
	defer w.stopTimer()

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("config file event", log.String("op", event.Op.String()))
			w.resetTimer(trigger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", log.Err(err))
		}
	}
}

// resetTimer restarts the debounce window; when it elapses undisturbed the
// trigger fires.
func (w *Watcher) resetTimer(trigger chan struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
