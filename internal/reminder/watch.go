package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const remindersFileName = "reminders.md"

// Watch signals wake whenever a reminders.md under root is written or a new
// user directory appears. Bursts of events within debounce collapse into a
// single signal. Sends never block; wake should be buffered. Watch returns
// when ctx is cancelled.
func Watch(ctx context.Context, root string, wake chan<- struct{}, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating storage root: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("listing %s: %w", root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(root, e.Name())); err != nil {
				slog.Warn("watching user directory", "dir", e.Name(), "error", err)
			}
		}
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if relevantEvent(w, root, ev) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("reminder watcher error", "error", err)
		case <-timer.C:
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

func relevantEvent(w *fsnotify.Watcher, root string, ev fsnotify.Event) bool {
	if filepath.Dir(ev.Name) == filepath.Clean(root) {
		if !ev.Has(fsnotify.Create) {
			return false
		}
		info, err := os.Stat(ev.Name)
		if err != nil || !info.IsDir() {
			return false
		}
		if err := w.Add(ev.Name); err != nil {
			slog.Warn("watching new user directory", "dir", ev.Name, "error", err)
		}
		return true
	}
	if filepath.Base(ev.Name) != remindersFileName {
		return false
	}
	// Rewrites land as a create (rename of the temp file).
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}
