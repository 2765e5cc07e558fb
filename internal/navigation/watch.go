package navigation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchStore emits an EventStoreChange on events whenever the store file at
// path is written, created or renamed into place. The parent directory is
// watched so atomic replace-by-rename is seen. It blocks until ctx is done.
func WatchStore(ctx context.Context, path string, events chan<- Event) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	slog.Debug("Watching rule store", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Store watcher error", slog.Any("error", err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			select {
			case events <- Event{Kind: EventStoreChange}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
