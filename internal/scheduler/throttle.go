package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so throttling can be tested without real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Throttle spaces upstream calls at least interval apart.
type Throttle struct {
	limiter *rate.Limiter
	clock   Clock
}

// NewThrottle creates a Throttle; an interval <= 0 disables spacing.
func NewThrottle(interval time.Duration, clock Clock) *Throttle {
	if clock == nil {
		clock = SystemClock{}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1), clock: clock}
}

// Wait blocks until the next call is allowed.
func (t *Throttle) Wait(ctx context.Context) error {
	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("throttle: reservation refused")
	}
	if d := r.DelayFrom(now); d > 0 {
		if err := t.clock.Sleep(ctx, d); err != nil {
			r.CancelAt(t.clock.Now())
			return err
		}
	}
	return nil
}
