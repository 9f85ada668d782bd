// Package retry implements the nested retry+timeout combinator used
// throughout the agent pipeline and task runtime: every blocking call runs on
// its own goroutine under a wall-clock deadline, and a timeout is retried
// with exponential backoff before surfacing as a fatal error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrTimeout is returned when a call exceeds its per-attempt deadline on
// every retry attempt.
var ErrTimeout = errors.New("retry: call timed out")

// Policy configures the backoff/timeout combinator. MinBackoff/MaxBackoff
// bound an exponential backoff series (multiplier 1, matching the source's
// tenacity wait_exponential(multiplier=1, min=2, max=30)); MaxAttempts caps
// the number of tries.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	PerAttempt  time.Duration // wall-clock deadline for a single attempt
}

// AdapterPolicy is the store/transport-layer retry policy (spec §4.6,
// §7 item 1): up to 5 attempts, 2s-30s backoff.
func AdapterPolicy(perAttempt time.Duration) Policy {
	return Policy{MaxAttempts: 5, MinBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, PerAttempt: perAttempt}
}

// AgentPolicy is the agent-invocation retry policy (spec §4.2, §4.6): up to
// 3 attempts, 2s-30s backoff.
func AgentPolicy(perAttempt time.Duration) Policy {
	return Policy{MaxAttempts: 3, MinBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, PerAttempt: perAttempt}
}

func (p Policy) backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.MinBackoff) * math.Pow(2, float64(attempt-1)))
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Do runs fn under p.PerAttempt's wall-clock deadline on its own goroutine,
// retrying on timeout (and on any error for which retryable returns true)
// with exponential backoff up to p.MaxAttempts. retryable may be nil, in
// which case only timeouts are retried — matching the source's
// retry_if_exception_type(TimeoutError).
func Do[T any](ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := callWithDeadline(ctx, p.PerAttempt, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		isTimeout := errors.Is(err, ErrTimeout)
		if !isTimeout && (retryable == nil || !retryable(err)) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return zero, fmt.Errorf("retry: exhausted %d attempts: %w", p.MaxAttempts, lastErr)
}

// callWithDeadline runs fn on a single worker goroutine and converts a
// deadline exceedance into ErrTimeout, mirroring the source's
// ThreadPoolExecutor(max_workers=1) + future.result(timeout=...) pattern.
func callWithDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(callCtx)
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-callCtx.Done():
		return zero, ErrTimeout
	}
}
