package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/rathix/devserver/internal/config"
	"github.com/rathix/devserver/internal/metrics"
)

// ProxyRouter forwards requests whose path starts with a configured prefix
// to that rule's target, and hands everything else to next.
type ProxyRouter struct {
	routes  []route
	next    http.Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type route struct {
	rule  config.Rule
	proxy *httputil.ReverseProxy
}

// ProxyOption configures a ProxyRouter.
type ProxyOption func(*proxyOptions)

type proxyOptions struct {
	transport http.RoundTripper
	metrics   *metrics.Metrics
}

// WithTransport sets the transport used for outbound requests.
func WithTransport(rt http.RoundTripper) ProxyOption {
	return func(o *proxyOptions) {
		o.transport = rt
	}
}

// WithMetrics records every proxied request in m.
func WithMetrics(m *metrics.Metrics) ProxyOption {
	return func(o *proxyOptions) {
		o.metrics = m
	}
}

// NewProxyRouter builds a router for rules. Rules are tried in the order
// given; config.Record.Rules returns them longest prefix first. If next is
// nil, unmatched requests get a 404. If logger is nil, a no-op logger is used.
func NewProxyRouter(rules []config.Rule, next http.Handler, logger *slog.Logger, opts ...ProxyOption) *ProxyRouter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if next == nil {
		next = http.NotFoundHandler()
	}
	var o proxyOptions
	for _, opt := range opts {
		opt(&o)
	}

	routes := make([]route, 0, len(rules))
	for _, rule := range rules {
		routes = append(routes, route{
			rule:  rule,
			proxy: newRuleProxy(rule, o.transport, logger),
		})
	}
	return &ProxyRouter{routes: routes, next: next, logger: logger, metrics: o.metrics}
}

// Match returns the rule that would handle path.
func (p *ProxyRouter) Match(path string) (config.Rule, bool) {
	for _, rt := range p.routes {
		if strings.HasPrefix(path, rt.rule.Prefix) {
			return rt.rule, true
		}
	}
	return config.Rule{}, false
}

func (p *ProxyRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, rt := range p.routes {
		if strings.HasPrefix(r.URL.Path, rt.rule.Prefix) {
			if p.metrics == nil {
				rt.proxy.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w}
			rt.proxy.ServeHTTP(sr, r)
			if sr.status == 0 && r.Context().Err() != nil {
				// The client went away before any response was written.
				p.metrics.ObserveProxyCancelled(rt.rule.Prefix, r.Method)
				return
			}
			status := sr.status
			if status == 0 {
				status = http.StatusOK
			}
			p.metrics.ObserveProxy(rt.rule.Prefix, r.Method, status, time.Since(start))
			return
		}
	}
	p.next.ServeHTTP(w, r)
}

func newRuleProxy(rule config.Rule, transport http.RoundTripper, logger *slog.Logger) *httputil.ReverseProxy {
	target := rule.Target
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// SetURL also points the Host header at the target.
			pr.SetURL(target)
			pr.SetXForwarded()
			if !rule.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
			for k, v := range rule.Headers {
				pr.Out.Header.Set(k, v)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				logger.Debug("proxy request cancelled", "prefix", rule.Prefix, "path", r.URL.Path)
				return
			}
			logger.Warn("proxy request failed",
				"prefix", rule.Prefix,
				"target", target.String(),
				"path", r.URL.Path,
				"error", err,
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
