package blob

import (
	"context"
	"time"
)

// Backoff computes base * 2^retry, capped at max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(retry int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	delay := b.Base
	for i := 0; i < retry; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

type result[T any] struct {
	value T
	err   error
}

// raceTimeout runs fn and returns when it finishes or when d elapses, whichever is first.
// On timeout the context handed to fn is cancelled and timedOut is true.
func raceTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (value T, timedOut bool, err error) {
	if d <= 0 {
		value, err = fn(ctx)
		return value, false, err
	}

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, e := fn(opCtx)
		done <- result[T]{value: v, err: e}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, false, r.err
	case <-timer.C:
		cancel()
		return value, true, nil
	case <-ctx.Done():
		cancel()
		return value, false, ctx.Err()
	}
}
