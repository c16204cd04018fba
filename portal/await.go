package portal

import (
	"context"
	"time"
)

// Await races fn against a timer. It returns fn's value and true when fn
// succeeds first; a timeout, a cancelled context or an error from fn all
// yield the zero value and false. fn must return once its context is done.
func Await[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	var zero T
	select {
	case r := <-ch:
		if r.err != nil {
			return zero, false
		}
		return r.v, true
	case <-ctx.Done():
		return zero, false
	}
}

// Poll calls cond every interval until it reports true or timeout elapses.
func Poll(ctx context.Context, timeout, interval time.Duration, cond func(context.Context) bool) bool {
	_, ok := Await(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		for !cond(ctx) {
			if err := pause(ctx, interval); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	return ok
}

// pause sleeps for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
