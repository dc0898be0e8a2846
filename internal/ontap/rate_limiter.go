package ontap

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// throttle paces requests to one cluster. All volume workers of a cluster
// share it, so concurrency never multiplies the request rate.
type throttle struct {
	host    string
	limiter *rate.Limiter
}

// newThrottle allows rps requests per second with bursts of 2*rps.
// rps <= 0 disables pacing.
func newThrottle(host string, rps int) *throttle {
	if rps <= 0 {
		return &throttle{host: host, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &throttle{host: host, limiter: rate.NewLimiter(rate.Limit(rps), rps*2)}
}

// wait blocks until a request may be sent or ctx ends.
func (t *throttle) wait(ctx context.Context) error {
	r := t.limiter.Reserve()
	if !r.OK() {
		return t.limiter.Wait(ctx)
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	slog.Debug("throttling cluster api request", slog.String("host", t.host), slog.Duration("delay", delay))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
