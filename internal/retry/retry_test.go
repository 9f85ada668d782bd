package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	p := Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PerAttempt: time.Second}
	calls := 0
	v, err := Do(context.Background(), p, nil, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("unexpected result: v=%d err=%v", v, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesOnTimeoutThenSucceeds(t *testing.T) {
	p := Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PerAttempt: 20 * time.Millisecond}
	calls := 0
	v, err := Do(context.Background(), p, nil, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			time.Sleep(50 * time.Millisecond)
			return 0, nil
		}
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Fatalf("unexpected result: v=%d err=%v", v, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoSurfacesTimeoutAfterExhaustion(t *testing.T) {
	p := Policy{MaxAttempts: 2, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PerAttempt: 10 * time.Millisecond}
	_, err := Do(context.Background(), p, nil, func(ctx context.Context) (int, error) {
		time.Sleep(30 * time.Millisecond)
		return 0, nil
	})
	if err == nil || !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected wrapped ErrTimeout, got %v", err)
	}
}

func TestDoDoesNotRetryNonRetryableError(t *testing.T) {
	p := Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PerAttempt: time.Second}
	boom := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), p, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt for non-retryable error, got %d", calls)
	}
}

func TestDoRetriesWhenRetryablePredicateMatches(t *testing.T) {
	p := Policy{MaxAttempts: 3, MinBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PerAttempt: time.Second}
	flaky := errors.New("flaky")
	calls := 0
	v, err := Do(context.Background(), p, func(err error) bool { return errors.Is(err, flaky) }, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, flaky
		}
		return 9, nil
	})
	if err != nil || v != 9 {
		t.Fatalf("unexpected result: v=%d err=%v", v, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}
