package livereload

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/gammazero/deque"
	"github.com/samber/lo"
)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long the watcher waits for more changes before notifying.
	Debounce time.Duration
}

// DefaultWatcherOptions returns a 250ms debounce.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce: 250 * time.Millisecond,
	}
}

// Watcher reports changed files under a directory tree, coalescing bursts
// such as an editor saving several files at once. Paths with a segment
// starting with a dot are ignored.
type Watcher struct {
	root      string
	options   WatcherOptions
	notify    func(paths []string)
	logger    *slog.Logger
	debounced func(f func())
	ready     chan struct{}

	mutex   sync.Mutex
	pending deque.Deque[string]
}

// NewWatcher returns a Watcher calling notify with slash-separated paths
// relative to root.
func NewWatcher(root string, options WatcherOptions, notify func(paths []string), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		root:      root,
		options:   options,
		notify:    notify,
		logger:    logger,
		debounced: debounce.New(options.Debounce),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once every directory is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is done. It fails only if the tree cannot be watched
// at startup.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	close(w.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(fw, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("live reload watch error", slog.String("error", err.Error()))
		}
	}
}

// addTree watches dir and every directory below it that is not hidden.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}

		if !d.IsDir() {
			return nil
		}
		if path != w.root && isHidden(d.Name()) {
			return filepath.SkipDir
		}

		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	rel, ok := w.relative(ev.Name)
	if !ok {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(fw, ev.Name); err != nil {
				w.logger.Warn("live reload watch failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
		}
	}

	w.mutex.Lock()
	w.pending.PushBack(rel)
	w.mutex.Unlock()

	w.debounced(w.flush)
}

// relative maps an event path to its slash-separated form under root, or
// reports false for root itself, paths outside it and hidden paths.
func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}

	rel = filepath.ToSlash(rel)
	if lo.SomeBy(strings.Split(rel, "/"), isHidden) {
		return "", false
	}

	return rel, true
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func (w *Watcher) flush() {
	w.mutex.Lock()
	paths := make([]string, 0, w.pending.Len())
	for w.pending.Len() > 0 {
		paths = append(paths, w.pending.PopFront())
	}
	w.mutex.Unlock()

	paths = lo.Uniq(paths)
	if len(paths) == 0 {
		return
	}

	w.notify(paths)
}
