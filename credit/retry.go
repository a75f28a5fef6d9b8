/*
retry.go - Bounded retry loop for transient store conflicts

PURPOSE:
  Every multi-row mutation (credit issuance, payment application) goes
  through this coordinator. Concurrent writers on the same customer row
  produce transient conflicts under the store's locking; the retry loop
  makes them appear as eventual sequential application instead of failure,
  up to the retry budget.

RETRY POLICY:
  - Only ErrTransactionConflict is retried. Non-transient errors
    (connectivity loss, validation failures, invariant violations)
    propagate immediately: retrying them wastes time and risks duplicate
    side effects without a change of outcome.
  - Backoff is linear: baseDelay * attemptNumber between attempts.
  - On exhaustion the underlying error surfaces as *TransactionConflictError.
    The operation is never silently dropped.
  - A caller-supplied context deadline bounds the whole loop; expiry
    surfaces as *TimeoutError, distinct from conflict exhaustion.

DEFAULTS:
  3 attempts, 50ms base delay. Observed sufficient in practice for a
  single-writer-per-customer contention pattern.

SEE ALSO:
  - errors.go: TransactionConflictError, TimeoutError
  - store.go: Where the conflict signal originates
*/
package credit

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts is the retry budget for transient conflicts.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is multiplied by the attempt number between retries.
	DefaultBaseDelay = 50 * time.Millisecond
)

// Retrier wraps an operation in the bounded retry loop.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is overridable in tests; nil means real time.Sleep with
	// context cancellation.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a retrier with the default budget.
func NewRetrier() *Retrier {
	return &Retrier{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Do runs fn until it succeeds, fails non-transiently, exhausts the retry
// budget, or the context deadline expires.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &TimeoutError{Attempts: attempt - 1, Cause: err}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			// A deadline can also expire mid-attempt: the store call then
			// fails with a wrapped context error instead of a conflict.
			// That is still a timeout, not an operation failure.
			if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) {
				return &TimeoutError{Attempts: attempt, Cause: lastErr}
			}
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}

		if err := r.wait(ctx, r.delay(attempt)); err != nil {
			return &TimeoutError{Attempts: attempt, Cause: err}
		}
	}

	return &TransactionConflictError{Attempts: maxAttempts, Last: lastErr}
}

func (r *Retrier) delay(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base * time.Duration(attempt)
}

func (r *Retrier) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
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
