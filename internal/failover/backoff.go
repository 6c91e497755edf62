// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package failover

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Jitter bounds, as fractions of the un-jittered delay.
const (
	JitterMin = 0.1
	JitterMax = 0.3
)

// maxDelay leaves headroom for the jitter on top of the largest delay.
const maxDelay = time.Duration(math.MaxInt64 / 2)

// Backoff returns base*2^attempt plus frac of that delay. attempt is zero
// based and frac is clamped to [JitterMin, JitterMax], so the result is
// never below the un-jittered delay.
func Backoff(base time.Duration, attempt int, frac float64) time.Duration {
	if base <= 0 || attempt < 0 {
		return 0
	}
	frac = min(max(frac, JitterMin), JitterMax)

	delay := base << attempt
	if attempt >= 63 || delay>>attempt != base || delay > maxDelay {
		return maxDelay
	}
	return delay + time.Duration(frac*float64(delay))
}

func uniformJitter() float64 {
	return JitterMin + rand.Float64()*(JitterMax-JitterMin)
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
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
