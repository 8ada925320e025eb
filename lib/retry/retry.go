package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a reusable retry configuration: a maximum attempt count
// plus a factory producing a fresh backoff schedule per call. The
// factory is needed because backoff schedules are stateful.
type Policy struct {
	MaxAttempts uint64
	NewBackoff  func() backoff.BackOff
}

// runs op until it succeeds, the attempts run out, or ctx is
// cancelled. wrap an error with backoff.Permanent to stop early.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := p.NewBackoff()
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// linear backoff: wait step, 2*step, 3*step... capped at max.
type linearBackoff struct {
	step    time.Duration
	max     time.Duration
	attempt int
}

func (l *linearBackoff) NextBackOff() time.Duration {
	l.attempt++
	wait := time.Duration(l.attempt) * l.step
	if wait > l.max {
		return l.max
	}
	return wait
}

func (l *linearBackoff) Reset() {
	l.attempt = 0
}

func Linear(step, max time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		return &linearBackoff{step: step, max: max}
	}
}

func Constant(interval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.NewConstantBackOff(interval)
	}
}

// marks an error as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
