package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/persistence"
)

// transient reports whether a failed store call may succeed if repeated.
// Missing rows, conflicts and a cancelled caller are final.
func transient(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return !errors.Is(err, persistence.ErrNotFound) &&
		!errors.Is(err, persistence.ErrConflict) &&
		!errors.Is(err, context.Canceled)
}

// storeCall runs fn against the store. Each attempt gets its own
// OperationTimeout; transient failures are retried with exponential backoff
// until MaxRetryAttempts tries have been made. It returns the number of
// attempts made.
func storeCall[T any](ctx context.Context, o *Orchestrator, op string, fn func(context.Context) (T, error)) (T, int, error) {
	attempts := 0
	attempt := func() (T, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, o.et.OperationTimeout)
		defer cancel()

		v, err := fn(actx)
		if err != nil && !transient(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	if o.et.MaxRetryAttempts <= 1 {
		v, err := attempt()
		return v, attempts, unwrapPermanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.et.RetryInitialInterval
	b.MaxInterval = 10 * o.et.RetryInitialInterval

	v, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.et.MaxRetryAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			o.metrics.StoreRetry(op)
			log.Debug(log.CatDB, "retrying store call", "op", op, "attempt", attempts, "wait", wait, "error", err)
		}),
	)
	return v, attempts, unwrapPermanent(err)
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
