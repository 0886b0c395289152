package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrDeadline is returned by CallWithTimeout when the call does not finish in time.
var ErrDeadline = errors.New("deadline exceeded")

// CallWithTimeout runs fn in a goroutine and waits at most timeout for it. When the
// deadline passes first, the late result is discarded and ErrDeadline is returned; fn
// receives a context that is cancelled at that point. A timeout <= 0 waits only on ctx.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		val T
		err error
	}
	// Buffered so the goroutine can always deliver and exit after we stop waiting.
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, ErrDeadline
		}
		return zero, callCtx.Err()
	}
}

// DescribeDeadline words an ErrDeadline returned for op. When ctx itself has expired the
// caller's deadline cut the call short, so timeout is not named.
func DescribeDeadline(ctx context.Context, op string, timeout time.Duration) string {
	if ctx.Err() != nil {
		return op + " stopped by request deadline"
	}
	return fmt.Sprintf("%s exceeded %s", op, timeout)
}
