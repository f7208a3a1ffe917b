package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rathix/devserver/internal/reload"
)

// outputWatcher keeps a reload.DirWatcher on the build output directory the
// server currently serves, restarting it when a config reload moves it.
type outputWatcher struct {
	ctx      context.Context
	notifier reload.Notifier
	logger   *slog.Logger
	opts     []reload.WatcherOption

	mu     sync.Mutex
	dir    string
	cancel context.CancelFunc
	done   chan struct{}
}

func newOutputWatcher(ctx context.Context, notifier reload.Notifier, logger *slog.Logger, opts ...reload.WatcherOption) *outputWatcher {
	return &outputWatcher{ctx: ctx, notifier: notifier, logger: logger, opts: opts}
}

// Watch points the watcher at dir. It is a no-op when dir is already watched.
// The previous watcher has stopped by the time Watch returns.
func (o *outputWatcher) Watch(dir string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		if dir == o.dir {
			return
		}
		o.cancel()
		<-o.done
		o.logger.Info("Output directory changed, live reload follows it", "from", o.dir, "to", dir)
	}

	ctx, cancel := context.WithCancel(o.ctx)
	done := make(chan struct{})
	o.dir, o.cancel, o.done = dir, cancel, done

	w := reload.NewDirWatcher(dir, o.notifier, o.logger, o.opts...)
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Warn("output watcher stopped with error", "dir", dir, "error", err)
		}
	}()
}

// Dir returns the directory being watched.
func (o *outputWatcher) Dir() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dir
}

// Stop stops the current watcher and waits for it to exit.
func (o *outputWatcher) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		<-o.done
		o.cancel = nil
	}
}
