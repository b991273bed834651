package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/morozRed/cfgaudit/internal/ignore"
)

// notifier turns filesystem events under the watched roots into wake-ups.
// Events are never trusted as change signals; the loop re-hashes.
type notifier struct {
	watcher *fsnotify.Watcher
	exclude ignore.Predicate
	wake    chan struct{}
	logger  *slog.Logger
}

func newNotifier(roots []string, exclude ignore.Predicate, logger *slog.Logger) (*notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if exclude == nil {
		exclude = ignore.None
	}
	n := &notifier{watcher: w, exclude: exclude, wake: make(chan struct{}, 1), logger: logger}
	for _, root := range roots {
		if err := n.addRecursive(root); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	return n, nil
}

func (n *notifier) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil && rel != "." && n.exclude(filepath.ToSlash(rel), true) {
			return filepath.SkipDir
		}
		return n.watcher.Add(path)
	})
}

func (n *notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = n.addRecursive(event.Name)
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			select {
			case n.wake <- struct{}{}:
			default:
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Debug("filesystem notifier error", "error", err)
		}
	}
}

func (n *notifier) close() error {
	return n.watcher.Close()
}
