package reload

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Notifier receives change notifications.
type Notifier interface {
	Notify()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

// Notify calls f.
func (f NotifierFunc) Notify() { f() }

// DirWatcher watches a build output directory tree and notifies once per
// burst of changes.
type DirWatcher struct {
	root     string
	notifier Notifier
	logger   *slog.Logger
	debounce time.Duration
}

// WatcherOption configures a DirWatcher.
type WatcherOption func(*DirWatcher)

// WithDebounce sets the debounce duration. Default is 200ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *DirWatcher) {
		w.debounce = d
	}
}

// NewDirWatcher creates a watcher for root. If logger is nil, a no-op logger is used.
func NewDirWatcher(root string, notifier Notifier, logger *slog.Logger, opts ...WatcherOption) *DirWatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &DirWatcher{
		root:     filepath.Clean(root),
		notifier: notifier,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled, then returns nil. The root may not exist
// yet; its parent is watched so the first build is picked up.
func (w *DirWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.root)); err != nil {
		return err
	}
	if err := w.addTree(fsw, w.root); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	notifyCh := make(chan struct{}, 1)
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.inTree(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.logger.Warn("failed to watch directory", "path", event.Name, "error", err)
					}
				}
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case notifyCh <- struct{}{}:
				default:
				}
			})

		case <-notifyCh:
			w.logger.Info("build output changed", "dir", w.root)
			w.notifier.Notify()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *DirWatcher) inTree(name string) bool {
	name = filepath.Clean(name)
	return name == w.root || strings.HasPrefix(name, w.root+string(filepath.Separator))
}

func (w *DirWatcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
