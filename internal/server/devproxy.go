package server

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// NewDevProxyHandler creates a reverse proxy handler that forwards all requests
// to a running front-end dev server, keeping its module graph and HMR socket
// reachable through the configured port.
func NewDevProxyHandler(target string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("upstream must be an absolute http(s) URL, got %q", target)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}
