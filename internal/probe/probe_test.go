package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rathix/devserver/internal/config"
)

type proberFunc func(req *http.Request) (*http.Response, error)

func (f proberFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func okResponse(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: http.NoBody}
}

func rulesFor(t *testing.T, pairs ...string) []config.Rule {
	t.Helper()
	var rules []config.Rule
	for i := 0; i+1 < len(pairs); i += 2 {
		u, err := url.Parse(pairs[i+1])
		if err != nil {
			t.Fatal(err)
		}
		rules = append(rules, config.Rule{Prefix: pairs[i], Target: u})
	}
	return rules
}

func TestCheckGroupsPrefixesByTarget(t *testing.T) {
	var calls atomic.Int32
	client := proberFunc(func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return okResponse(http.StatusNotFound), nil
	})

	results := NewChecker(client, nil).Check(context.Background(), config.Default().Rules())

	if len(results) != 1 {
		t.Fatalf("expected one result for the shared target, got %d", len(results))
	}
	if calls.Load() != 1 {
		t.Errorf("expected one probe, got %d", calls.Load())
	}
	res := results[0]
	if res.Target != "http://localhost:8019" {
		t.Errorf("target = %q", res.Target)
	}
	if !reflect.DeepEqual(res.Prefixes, []string{"/api", "/audio"}) {
		t.Errorf("prefixes = %v", res.Prefixes)
	}
	if !res.Reachable || res.StatusCode != http.StatusNotFound {
		t.Errorf("any HTTP response should count as reachable: %+v", res)
	}
}

func TestCheckReportsTransportErrors(t *testing.T) {
	boom := errors.New("connection refused")
	client := proberFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "down:1" {
			return nil, boom
		}
		return okResponse(http.StatusOK), nil
	})

	results := NewChecker(client, nil).Check(context.Background(),
		rulesFor(t, "/api", "http://up:1", "/audio", "http://down:1"))

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Sorted by target.
	down, up := results[0], results[1]
	if down.Target != "http://down:1" || down.Reachable || !errors.Is(down.Err, boom) {
		t.Errorf("unexpected down result: %+v", down)
	}
	if up.Target != "http://up:1" || !up.Reachable || up.StatusCode != 200 {
		t.Errorf("unexpected up result: %+v", up)
	}
}

func TestCheckNoRules(t *testing.T) {
	results := NewChecker(proberFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("no probe expected")
		return nil, nil
	}), nil).Check(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected no results, got %v", results)
	}
}

func TestCheckLiveServer(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backend.Close()

	results := NewChecker(backend.Client(), nil).Check(context.Background(), rulesFor(t, "/api", backend.URL))
	if len(results) != 1 || !results[0].Reachable || results[0].StatusCode != http.StatusNoContent {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestWaitReachableRetriesUntilUp(t *testing.T) {
	var calls atomic.Int32
	client := proberFunc(func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return okResponse(http.StatusOK), nil
	})

	err := NewChecker(client, nil).WaitReachable(context.Background(), "http://localhost:8019", 10*time.Second)
	if err != nil {
		t.Fatalf("WaitReachable() error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestWaitReachableGivesUp(t *testing.T) {
	client := proberFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	start := time.Now()
	err := NewChecker(client, nil).WaitReachable(context.Background(), "http://localhost:8019", 300*time.Millisecond)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("gave up too late: %v", elapsed)
	}
}

func TestWaitReachableHonoursContext(t *testing.T) {
	client := proberFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := NewChecker(client, nil).WaitReachable(ctx, "http://localhost:8019", time.Hour)
	if !errors.Is(err, ErrUnreachable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected unreachable + deadline error, got %v", err)
	}
}

func TestWaitReachableDeadlineBeforeNextAttempt(t *testing.T) {
	client := proberFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	// Shorter than the first few backoff intervals, so the retry loop stops
	// early while ctx itself has not expired yet.
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewChecker(client, nil).WaitReachable(ctx, "http://localhost:8019", time.Minute)
	if !errors.Is(err, ErrUnreachable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected unreachable + deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("returned after %v, want before the deadline passed by much", elapsed)
	}
}

func TestWaitReachableMaxElapsedIsNotADeadline(t *testing.T) {
	client := proberFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err := NewChecker(client, nil).WaitReachable(ctx, "http://localhost:8019", 200*time.Millisecond)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("giving up after maxElapsed should not report a deadline: %v", err)
	}
}
