package ledger

import (
	"context"
	"fmt"
	"time"
)

// TimeoutLedger bounds every call to the wrapped ledger. The inner call keeps
// running in the background if it ignores ctx; its result is discarded.
type TimeoutLedger struct {
	next    Ledger
	timeout time.Duration
}

// WithTimeout wraps next so no call outlives timeout
func WithTimeout(next Ledger, timeout time.Duration) *TimeoutLedger {
	return &TimeoutLedger{next: next, timeout: timeout}
}

func (t *TimeoutLedger) CreateHold(ctx context.Context, req HoldRequest) (Hold, error) {
	return bounded(ctx, t.timeout, "create hold", func(ctx context.Context) (Hold, error) {
		return t.next.CreateHold(ctx, req)
	})
}

func (t *TimeoutLedger) FinishHold(ctx context.Context, hold Hold) (TxRef, error) {
	return bounded(ctx, t.timeout, "finish hold "+hold.ID, func(ctx context.Context) (TxRef, error) {
		return t.next.FinishHold(ctx, hold)
	})
}

func (t *TimeoutLedger) CancelHold(ctx context.Context, hold Hold) (TxRef, error) {
	return bounded(ctx, t.timeout, "cancel hold "+hold.ID, func(ctx context.Context) (TxRef, error) {
		return t.next.CancelHold(ctx, hold)
	})
}

func bounded[T any](ctx context.Context, timeout time.Duration, op string, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == context.DeadlineExceeded {
			return zero, fmt.Errorf("%w: %s after %s", ErrTimeout, op, timeout)
		}
		return r.value, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return zero, fmt.Errorf("%w: %s after %s", ErrTimeout, op, timeout)
		}
		return zero, ctx.Err()
	}
}
