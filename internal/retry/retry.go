package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	maxRetryAttempts    = 3
	initialRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 2 * time.Second
)

var (
	authErrorSubstrings = []string{
		"authentication failed",
		"authentication error",
		"invalid credentials",
		"invalid password",
		"password is incorrect",
		"wrong password",
		"unknown user",
		"unauthorized",
		"access denied",
		"login failed",
		"sqlstate[28000]",
		"sqlstate 28000",
	}
	retryableErrorSubstrings = []string{
		"timeout",
		"i/o timeout",
		"tls handshake timeout",
		"eof",
		"unexpected eof",
		"broken pipe",
		"connection reset",
		"connection refused",
		"connection aborted",
		"connection closed",
		"use of closed network connection",
		"network is unreachable",
		"no route to host",
		"no such host",
	}
)

// Policy controls how Do retries an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Sleep          func(context.Context, time.Duration) error
	// Permanent reports errors that must not be retried, on top of auth errors.
	Permanent func(error) bool
	// Retryable overrides the default transient-error detection when set.
	Retryable func(error) bool
}

// DefaultPolicy returns three attempts with 100ms doubling backoff capped at 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    maxRetryAttempts,
		InitialBackoff: initialRetryBackoff,
		MaxBackoff:     maxRetryBackoff,
		Sleep:          SleepWithContext,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = maxRetryAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = initialRetryBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = maxRetryBackoff
	}
	if p.Sleep == nil {
		p.Sleep = SleepWithContext
	}
	if p.Retryable == nil {
		p.Retryable = IsRetryable
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
func Do(ctx context.Context, p Policy, fn func() error) error {
	p = p.normalized()
	backoff := p.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := contextError(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctxErr := contextError(ctx); ctxErr != nil {
			return ctxErr
		}

		if IsAuthError(err) || (p.Permanent != nil && p.Permanent(err)) || !p.Retryable(err) || attempt == p.MaxAttempts {
			return err
		}

		if err := p.Sleep(ctx, backoff); err != nil {
			if ctxErr := contextError(ctx); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		if backoff < p.MaxBackoff {
			backoff *= 2
			if backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}
	}

	return lastErr
}

// WithTotalTimeout bounds ctx by timeout and records DeadlineExceeded as the cause.
// A non-positive timeout returns parent unchanged.
func WithTotalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}

	ctx, cancelCause := context.WithCancelCause(parent)
	timer := time.AfterFunc(timeout, func() {
		cancelCause(context.DeadlineExceeded)
	})

	return ctx, func() {
		timer.Stop()
		cancelCause(context.Canceled)
	}
}

func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return err
	}
	return nil
}

// SleepWithContext waits for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return contextError(ctx)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsAuthError reports credential failures, which are never retried.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	errText := strings.ToLower(err.Error())
	for _, marker := range authErrorSubstrings {
		if strings.Contains(errText, marker) {
			return true
		}
	}

	return false
}

// IsRetryable reports transient network failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	errText := strings.ToLower(err.Error())
	for _, marker := range retryableErrorSubstrings {
		if strings.Contains(errText, marker) {
			return true
		}
	}

	return false
}
