package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// DefaultWatchDebounce coalesces the burst of events an editor produces
// when saving a file.
const DefaultWatchDebounce = 250 * time.Millisecond

// WatchCleanupFunc stops a watch and waits for its goroutine to exit.
type WatchCleanupFunc func() error

// Watch reports changes to the file at path. One value is sent on the
// returned channel per burst of writes, renames or creations settling for
// debounce. The channel is closed once the watch has stopped, after ctx is
// cancelled or cleanup is called. Callers should always call cleanup.
//
// The containing directory is watched rather than the file itself, so
// editors that save by renaming a temporary file are still observed.
// Notification errors are logged to logger and do not end the watch.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger) (<-chan struct{}, WatchCleanupFunc, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("watch %s: %w", path, err)
	}
	dir, name := filepath.Split(abs)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)

	// mu guards timer and closed; a debounce timer may fire concurrently
	// with shutdown
	var mu sync.Mutex
	var timer *time.Timer
	closed := false

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		mu.Lock()
		closed = true
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		_ = watcher.Close()
		close(ch)
	})

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	fire := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- struct{}{}:
		default:
			// a change is already pending
		}
	}

	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, fire)
	}

	sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ctx.Done():
				sctx.Stop(0)
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				schedule()
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if watchErrorMayHideChange(logger, path, err) {
					schedule()
				}
			}
		}
	})

	return ch, cleanup, nil
}

// watchErrorMayHideChange logs a notification error and reports whether
// events may have been lost, in which case the file has to be treated as
// changed.
func watchErrorMayHideChange(logger *slog.Logger, path string, err error) bool {
	overflow := errors.Is(err, fsnotify.ErrEventOverflow)
	logger.Warn("config watch error", "path", path, "error", err, "events_lost", overflow)
	return overflow
}
