package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingPolicy(sleeps *[]time.Duration) Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	}
}

func TestDoTransientBackoff(t *testing.T) {
	attempts := 0
	var sleeps []time.Duration

	err := Do(context.Background(), recordingPolicy(&sleeps), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("i/o timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected retry success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(sleeps))
	}
	if sleeps[0] != 10*time.Millisecond || sleeps[1] != 20*time.Millisecond {
		t.Fatalf("unexpected backoff schedule: %v", sleeps)
	}
}

func TestDoAuthFailFast(t *testing.T) {
	attempts := 0
	var sleeps []time.Duration

	err := Do(context.Background(), recordingPolicy(&sleeps), func() error {
		attempts++
		return errors.New("mssql: login failed for user 'dbusername'")
	})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if attempts != 1 {
		t.Fatalf("expected auth fail-fast after 1 attempt, got %d", attempts)
	}
	if len(sleeps) != 0 {
		t.Fatalf("expected no backoff sleeps for auth errors, got %d", len(sleeps))
	}
}

func TestDoPermanentHook(t *testing.T) {
	permanent := errors.New("connection refused by policy")
	attempts := 0
	var sleeps []time.Duration

	p := recordingPolicy(&sleeps)
	p.Permanent = func(err error) bool { return errors.Is(err, permanent) }

	err := Do(context.Background(), p, func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	var sleeps []time.Duration

	err := Do(context.Background(), recordingPolicy(&sleeps), func() error {
		attempts++
		return errors.New("syntax error near SELECT")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("expected single failing attempt, got attempts=%d err=%v", attempts, err)
	}
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, DefaultPolicy(), func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if called {
		t.Fatal("expected fn not to run on canceled context")
	}
}

func TestWithTotalTimeoutDeadlineCause(t *testing.T) {
	ctx, cancel := WithTotalTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected timeout context to finish")
	}

	if !errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded cause, got %v", context.Cause(ctx))
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: context.Canceled, want: false},
		{err: context.DeadlineExceeded, want: true},
		{err: errors.New("dial tcp: connection refused"), want: true},
		{err: errors.New("invalid column name"), want: false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
