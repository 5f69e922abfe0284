package subscription

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff returns the next retry delay using decorrelated jitter.
//
// The delay is drawn from [base, prev*mult) and clamped to capDur. A zero prev
// starts at base, a multiplier below 1 is treated as 1, and a cap below base
// always wins.
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = DefaultRetryBackoff
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

// newRetryRNG returns a seeded RNG, or nil for seed 0 so the global source is used.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)

	return rand.New(rand.NewPCG(s1, s1^0x9e3779b97f4a7c15))
}
