package slotlock

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy controls how Do retries lock contention and transient write
// conflicts.
type Policy struct {
	Attempts uint
	Delay    time.Duration
	TTL      time.Duration
	// RetryIf marks errors from fn worth another attempt. Lock contention is
	// always retried.
	RetryIf func(error) bool
}

func DefaultPolicy(attempts uint, retryIf func(error) bool) Policy {
	if attempts == 0 {
		attempts = 1
	}
	return Policy{Attempts: attempts, Delay: 20 * time.Millisecond, TTL: 10 * time.Second, RetryIf: retryIf}
}

// Do runs fn while holding key. Contention and errors accepted by RetryIf
// are retried with exponential backoff; anything else is returned as is.
func Do(ctx context.Context, l Locker, key string, p Policy, fn func(ctx context.Context) error) error {
	return retry.Do(
		func() error {
			release, err := l.Acquire(ctx, key, p.TTL)
			if err != nil {
				if errors.Is(err, ErrBusy) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			defer release()

			if err := fn(ctx); err != nil {
				if p.RetryIf != nil && p.RetryIf(err) {
					return err
				}
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
