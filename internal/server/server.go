// Package server assembles the development HTTP handler from a config
// record: proxy rules first, then the live reload endpoint, then either the
// build output or an upstream dev server under the public base path.
package server

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/metrics"
	"github.com/rathix/devserver/internal/plugin"
	"github.com/rathix/devserver/internal/reload"
)

// Options holds settings that come from the command line rather than the
// config record.
type Options struct {
	// Root is the project root that Build.OutDir is relative to. Default ".".
	Root string
	// Upstream, when set, receives every request no proxy rule claims.
	Upstream string
	// LiveReload enables the reload endpoint and script injection.
	LiveReload bool
	// Placeholder is served while the output directory has no index.html.
	Placeholder fs.FS
	// Transport is used for proxy rule requests. Nil means http.DefaultTransport.
	Transport http.RoundTripper
	// Metrics, when set, is exposed on metrics.EndpointPath and records
	// proxied requests.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the dev server's root handler. Its routing can be replaced at
// runtime with Reload.
type Server struct {
	opts    Options
	logger  *slog.Logger
	broker  *reload.Broker
	handler atomic.Pointer[http.Handler]
	record  atomic.Pointer[config.Record]
}

// New builds a Server for rec.
func New(rec config.Record, opts Options) (*Server, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		broker: reload.NewBroker(opts.Logger),
	}
	if err := opts.Metrics.TrackClients(s.broker.Clients); err != nil {
		return nil, err
	}
	if err := s.Reload(rec); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds routing for rec and swaps it in atomically. On error the
// previous routing stays active.
func (s *Server) Reload(rec config.Record) error {
	rec = rec.Clone()
	h, err := s.build(rec)
	if err != nil {
		return err
	}
	s.handler.Store(&h)
	s.record.Store(&rec)
	return nil
}

// Record returns a copy of the active record.
func (s *Server) Record() config.Record {
	return s.record.Load().Clone()
}

// Broker returns the live reload broker.
func (s *Server) Broker() *reload.Broker {
	return s.broker
}

// OutDir returns the output directory resolved against the project root.
func (s *Server) OutDir() string {
	return filepath.Join(s.opts.Root, s.record.Load().Build.OutDir)
}

// Handler returns the server as an http.Handler. Requests always reach the
// most recently loaded routing.
func (s *Server) Handler() http.Handler {
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.handler.Load()).ServeHTTP(w, r)
}

func (s *Server) build(rec config.Record) (http.Handler, error) {
	plugins, err := plugin.Resolve(rec.PluginNames())
	if err != nil {
		return nil, err
	}

	var fallback http.Handler
	if s.opts.Upstream != "" {
		fallback, err = NewDevProxyHandler(s.opts.Upstream)
		if err != nil {
			return nil, fmt.Errorf("failed to create upstream proxy: %w", err)
		}
	} else {
		fallback, err = s.outputHandler(rec, plugins)
		if err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	if s.opts.LiveReload {
		mux.Handle("GET "+reload.EndpointPath, s.broker)
	}
	if s.opts.Metrics != nil {
		mux.Handle("GET "+metrics.EndpointPath, s.opts.Metrics.Handler())
	}
	mux.Handle("/", NewBasePathHandler(rec.Base, fallback))

	router := NewProxyRouter(rec.Rules(), mux, s.logger,
		WithTransport(s.opts.Transport),
		WithMetrics(s.opts.Metrics),
	)
	return AccessLog(router, s.logger), nil
}

func (s *Server) outputHandler(rec config.Record, plugins []plugin.Descriptor) (http.Handler, error) {
	var spaOpts []SPAOption
	if s.opts.LiveReload {
		spaOpts = append(spaOpts, WithReloadScript())
	}

	outDir := filepath.Join(s.opts.Root, rec.Build.OutDir)
	dist, err := NewSPAHandler(os.DirFS(outDir), ".",
		append(spaOpts, WithBlockedExtensions(plugin.SourceExtensions(plugins)))...)
	if err != nil {
		return nil, fmt.Errorf("failed to serve %s: %w", outDir, err)
	}

	var placeholder http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "build output not found in "+outDir, http.StatusServiceUnavailable)
	})
	if s.opts.Placeholder != nil {
		placeholder, err = NewSPAHandler(s.opts.Placeholder, ".", spaOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create placeholder handler: %w", err)
		}
	}

	return &outputHandler{dist: dist, placeholder: placeholder}, nil
}
