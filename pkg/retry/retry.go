// Package retry polls an operation on a fixed schedule until it reports done.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when the operation is still not done after the last attempt
var ErrExhausted = errors.New("retry: attempts exhausted")

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper backed by a timer
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Policy struct {
	MaxAttempts int
	// Delay is waited between attempts, never before the first one
	Delay time.Duration
	// Backoff multiplies Delay after every wait. Values below 1 keep it fixed.
	Backoff float64
	// Sleep defaults to Sleep
	Sleep Sleeper
}

// Func is a single attempt. It reports done together with its result, or
// an error that stops the loop.
type Func[T any] func(ctx context.Context, attempt int) (T, bool, error)

// Until calls fn until it is done, fails, or the policy runs out of
// attempts. The last result is returned together with ErrExhausted in the
// latter case.
func Until[T any](ctx context.Context, p Policy, fn Func[T]) (T, error) {
	var last T

	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Delay

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, delay); err != nil {
				return last, err
			}

			if p.Backoff > 1 {
				delay = time.Duration(float64(delay) * p.Backoff)
			}
		}

		if err := ctx.Err(); err != nil {
			return last, err
		}

		v, done, err := fn(ctx, attempt)
		if err != nil {
			return v, err
		}

		last = v

		if done {
			return v, nil
		}
	}

	return last, ErrExhausted
}
