package server

import (
	"bytes"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rathix/devserver/internal/reload"
)

const indexFile = "index.html"

// SPAHandler serves a build output directory and falls back to index.html
// for any extensionless path that doesn't match a file, enabling client-side
// routing while returning 404 for missing files with extensions.
type SPAHandler struct {
	fileServer http.Handler
	filesystem fs.FS
	blocked    []string
	inject     bool
}

// SPAOption configures an SPAHandler.
type SPAOption func(*SPAHandler)

// WithBlockedExtensions makes files with the given extensions answer 404.
func WithBlockedExtensions(exts []string) SPAOption {
	return func(h *SPAHandler) {
		h.blocked = make([]string, 0, len(exts))
		for _, ext := range exts {
			h.blocked = append(h.blocked, strings.ToLower(ext))
		}
	}
}

// WithReloadScript injects the live reload client into served index.html.
func WithReloadScript() SPAOption {
	return func(h *SPAHandler) {
		h.inject = true
	}
}

// NewSPAHandler creates a handler that serves files from fsys below prefix.
// Use "." to serve fsys as is.
func NewSPAHandler(fsys fs.FS, prefix string, opts ...SPAOption) (*SPAHandler, error) {
	sub, err := fs.Sub(fsys, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem: %w", err)
	}
	h := &SPAHandler{
		fileServer: http.FileServer(http.FS(sub)),
		filesystem: sub,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// HasIndex reports whether the filesystem currently contains index.html.
func (h *SPAHandler) HasIndex() bool {
	_, err := fs.Stat(h.filesystem, indexFile)
	return err == nil
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path
	if slices.Contains(h.blocked, strings.ToLower(path.Ext(urlPath))) {
		http.NotFound(w, r)
		return
	}
	if urlPath == "/" || urlPath == "/"+indexFile {
		h.serveIndex(w, r)
		return
	}

	// Check if the file exists using fs.Stat (avoids opening file content)
	filePath := urlPath[1:]
	if info, err := fs.Stat(h.filesystem, filePath); err == nil && !info.IsDir() {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// Paths with extensions are real file requests and get a 404 to avoid
	// MIME-type mismatches. r.URL.Path is already decoded, so %2Ecss counts.
	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	h.serveIndex(w, r)
}

func (h *SPAHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.filesystem, indexFile)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if h.inject {
		data = reload.InjectScript(data)
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeContent(w, r, indexFile, time.Time{}, bytes.NewReader(data))
}

// outputHandler serves the build output once it has an index.html and the
// placeholder page until then. The check runs per request so a build that
// finishes while the server is up is picked up without a restart.
type outputHandler struct {
	dist        *SPAHandler
	placeholder http.Handler
}

func (h *outputHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.dist.HasIndex() {
		h.dist.ServeHTTP(w, r)
		return
	}
	h.placeholder.ServeHTTP(w, r)
}
