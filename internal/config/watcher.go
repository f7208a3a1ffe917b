package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback receives the record parsed after the config file changed.
// rec is nil when the new contents could not be parsed; errs then holds the
// parse error. Otherwise errs holds validation errors for a usable record.
type ReloadCallback func(rec *Record, errs []error)

// Watcher reloads a config file when its contents change.
type Watcher struct {
	path     string
	callback ReloadCallback
	logger   *slog.Logger
	debounce time.Duration

	// last holds the contents behind the most recent callback. nil means
	// the file did not exist.
	last []byte
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before it is
// reloaded. Default is 250ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a config file watcher. If logger is nil, a no-op logger is used.
func NewWatcher(path string, callback ReloadCallback, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &Watcher{
		path:     path,
		callback: callback,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the directory holding the config file so that editors which
// save by renaming a temp file are seen too. Once events for the file settle,
// the file is re-read and the callback runs if its contents differ from the
// last load. Removing the file reverts to Default. Run blocks until ctx is
// cancelled, then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	if w.last, err = readIfExists(w.path); err != nil {
		w.logger.Warn("failed to read config file", "path", w.path, "error", err)
	}

	name := filepath.Base(w.path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name || event.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	data, err := readIfExists(w.path)
	if err != nil {
		w.logger.Warn("failed to read config file", "path", w.path, "error", err)
		return
	}
	if (data == nil) == (w.last == nil) && bytes.Equal(data, w.last) {
		w.logger.Debug("config file touched without changes", "path", w.path)
		return
	}
	w.last = data

	var (
		rec  *Record
		errs []error
	)
	if data == nil {
		w.logger.Info("config file removed, reverting to defaults", "path", w.path)
		def := Default()
		rec = &def
	} else {
		w.logger.Debug("config file changed", "path", w.path)
		rec, errs = Parse(data)
	}
	w.callback(rec, errs)
}

// readIfExists returns the file contents, or nil if the file does not exist.
// An existing empty file yields a non-nil empty slice.
func readIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}
