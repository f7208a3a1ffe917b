// Package probe checks whether proxy targets answer HTTP requests.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rathix/devserver/internal/config"
)

// HTTPProber abstracts *http.Client for testability.
type HTTPProber interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is the outcome of probing one target.
type Result struct {
	Target string
	// Prefixes lists every proxy prefix that forwards to Target.
	Prefixes   []string
	Reachable  bool
	StatusCode int
	Latency    time.Duration
	Err        error
}

// Checker probes proxy targets.
type Checker struct {
	client HTTPProber
	logger *slog.Logger
}

// NewChecker creates a checker. If logger is nil, a no-op logger is used.
func NewChecker(client HTTPProber, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Checker{client: client, logger: logger}
}

// Check probes each distinct target once, concurrently. Results are sorted
// by target. Any HTTP response counts as reachable; only transport errors
// mark a target unreachable.
func (c *Checker) Check(ctx context.Context, rules []config.Rule) []Result {
	byTarget := map[string][]string{}
	for _, r := range rules {
		t := r.Target.String()
		byTarget[t] = append(byTarget[t], r.Prefix)
	}

	results := make([]Result, 0, len(byTarget))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for target, prefixes := range byTarget {
		slices.Sort(prefixes)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.probe(ctx, target)
			res.Prefixes = prefixes
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	slices.SortFunc(results, func(a, b Result) int {
		switch {
		case a.Target < b.Target:
			return -1
		case a.Target > b.Target:
			return 1
		}
		return 0
	})
	return results
}

func (c *Checker) probe(ctx context.Context, target string) Result {
	res := Result{Target: target}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		res.Err = err
		return res
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Err = err
		c.logger.Debug("probe failed", "target", target, "error", err)
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	res.Reachable = true
	res.StatusCode = resp.StatusCode
	c.logger.Debug("probe completed",
		"target", target,
		"httpCode", resp.StatusCode,
		"responseTimeMs", res.Latency.Milliseconds(),
	)
	return res
}

// ErrUnreachable is returned by WaitReachable when the target never answered.
var ErrUnreachable = errors.New("target unreachable")

// WaitReachable probes target with exponential backoff until it answers,
// maxElapsed passes, or ctx is done. When ctx's deadline ends the wait, the
// error wraps both ErrUnreachable and context.DeadlineExceeded.
func (c *Checker) WaitReachable(ctx context.Context, target string, maxElapsed time.Duration) error {
	start := time.Now()
	deadline, hasDeadline := ctx.Deadline()
	// backoff.WithContext stops as soon as the next interval would overrun
	// the deadline, before ctx reports an error.
	// A zero maxElapsed never gives up on its own.
	deadlineBound := hasDeadline && (maxElapsed <= 0 || deadline.Before(start.Add(maxElapsed)))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxElapsed

	attempts := 0
	var last error
	err := backoff.Retry(func() error {
		attempts++
		res := c.probe(ctx, target)
		if res.Reachable {
			return nil
		}
		last = res.Err
		c.logger.Info("waiting for proxy target", "target", target, "attempt", attempts, "error", res.Err)
		return res.Err
	}, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, target, ctxErr)
	}
	if deadlineBound {
		return fmt.Errorf("%w: %s after %d attempts: %w: %w", ErrUnreachable, target, attempts, context.DeadlineExceeded, last)
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrUnreachable, target, attempts, last)
}
