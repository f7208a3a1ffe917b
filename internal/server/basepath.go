package server

import (
	"fmt"
	"net/http"
	"strings"
)

// NormalizeBasePath ensures the base path starts and ends with '/'.
func NormalizeBasePath(basePath string) string {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return "/"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath = basePath + "/"
	}
	return basePath
}

// BasePathHandler serves the app under a public base path. Requests under the
// base have it stripped before reaching the inner handler, the site root
// redirects to the base, and anything else is a 404 that names the base.
type BasePathHandler struct {
	basePath string
	inner    http.Handler
}

// NewBasePathHandler wraps inner. If basePath is "/", it returns inner
// directly (no-op wrapper).
func NewBasePathHandler(basePath string, inner http.Handler) http.Handler {
	bp := NormalizeBasePath(basePath)
	if bp == "/" {
		return inner
	}
	return &BasePathHandler{
		basePath: bp,
		inner:    inner,
	}
}

func (h *BasePathHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasPrefix(r.URL.Path, h.basePath):
		h.serveStripped(w, r, "/"+strings.TrimPrefix(r.URL.Path, h.basePath))
	case r.URL.Path+"/" == h.basePath:
		// Exact base path without trailing slash
		h.serveStripped(w, r, "/")
	case r.URL.Path == "/":
		http.Redirect(w, r, h.basePath, http.StatusFound)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "404 page not found: this server is configured with a public base URL of %s - did you mean to visit %s%s instead?\n",
			h.basePath, strings.TrimSuffix(h.basePath, "/"), r.URL.Path)
	}
}

func (h *BasePathHandler) serveStripped(w http.ResponseWriter, r *http.Request, p string) {
	r2 := r.Clone(r.Context())
	r2.URL.Path = p
	r2.URL.RawPath = ""
	h.inner.ServeHTTP(w, r2)
}
