// Package backoff computes jittered retry delays shared by the HTTP retry
// client, the Redis optimistic-write loop and lock waits.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Jittered returns a full-jitter delay for the given attempt (1-based):
// random(0, min(max, base * 2^(attempt-1))), floored at base/10.
func Jittered(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		exp = float64(max)
	}
	d := time.Duration(rand.Float64() * exp)
	if floor := base / 10; d < floor {
		d = floor
	}
	return d
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case. Non-positive durations return immediately.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
