package server

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startLocalHTTPServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	return srv
}

func TestDevProxyHandlerForwardsToTarget(t *testing.T) {
	// Mock front-end dev server
	upstream := startLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	handler, err := NewDevProxyHandler(upstream.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "upstream:/" {
		t.Errorf("expected 'upstream:/', got %q", rec.Body.String())
	}
}

func TestDevProxyHandlerPreservesPath(t *testing.T) {
	upstream := startLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	handler, err := NewDevProxyHandler(upstream.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/src/App.vue", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Body.String() != "upstream:/src/App.vue" {
		t.Errorf("expected 'upstream:/src/App.vue', got %q", rec.Body.String())
	}
}

func TestDevProxyHandlerInvalidURL(t *testing.T) {
	for _, target := range []string{"://invalid", "localhost:5173", "ftp://host", "http://"} {
		if _, err := NewDevProxyHandler(target); err == nil {
			t.Errorf("expected error for %q, got nil", target)
		}
	}
}
