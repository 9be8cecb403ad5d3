package worker

import (
	"context"
	"time"
)

// Pacing is the delay between successive targets for a rate of perMinute
// (0 disables the rate term), never shorter than min.
func Pacing(perMinute int, min time.Duration) time.Duration {
	var d time.Duration

	if perMinute > 0 {
		d = time.Minute / time.Duration(perMinute)
	}

	if d < min {
		d = min
	}

	if d < 0 {
		return 0
	}

	return d
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
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
