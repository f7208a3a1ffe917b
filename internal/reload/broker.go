// Package reload tells connected browsers to refresh when the build output
// changes. Browsers subscribe over server-sent events.
package reload

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// EndpointPath is where browsers subscribe to reload events.
const EndpointPath = "/__devserver/reload"

const defaultKeepaliveInterval = 15 * time.Second

// Broker fans reload notifications out to subscribed SSE clients.
type Broker struct {
	mu                sync.Mutex
	subs              map[chan struct{}]struct{}
	done              chan struct{}
	closeOnce         sync.Once
	keepaliveInterval time.Duration
	logger            *slog.Logger
}

// NewBroker creates a broker. If logger is nil, a no-op logger is used.
func NewBroker(logger *slog.Logger) *Broker {
	return newBrokerWithKeepalive(logger, defaultKeepaliveInterval)
}

func newBrokerWithKeepalive(logger *slog.Logger, keepalive time.Duration) *Broker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if keepalive <= 0 {
		keepalive = defaultKeepaliveInterval
	}
	return &Broker{
		subs:              make(map[chan struct{}]struct{}),
		done:              make(chan struct{}),
		keepaliveInterval: keepalive,
		logger:            logger,
	}
}

func (b *Broker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Clients returns the number of connected subscribers.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Notify asks every subscriber to reload. Pending notifications coalesce.
func (b *Broker) Notify() {
	b.mu.Lock()
	n := len(b.subs)
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
	b.logger.Debug("reload broadcast", "clients", n)
}

// Close disconnects all subscribers. It is safe to call more than once.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	_, _ = io.WriteString(w, "event: ready\ndata: 1\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-b.done:
			return
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ch:
			if _, err := io.WriteString(w, "event: reload\ndata: 1\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
