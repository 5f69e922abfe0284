package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJitterBackoff_StaysWithinBounds(t *testing.T) {
	base := 200 * time.Millisecond
	capDur := 500 * time.Millisecond
	rng := newRetryRNG(42)

	prev := time.Duration(0)
	for range 10 {
		next := jitterBackoff(prev, base, 1.6, capDur, rng)
		require.GreaterOrEqual(t, next, base)
		require.LessOrEqual(t, next, capDur)
		prev = next
	}
}

func TestJitterBackoff_FirstDelayIsBase(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, jitterBackoff(0, 100*time.Millisecond, 2, time.Second, nil))
}

func TestJitterBackoff_CapLessThanBase(t *testing.T) {
	base := 200 * time.Millisecond
	capDur := 100 * time.Millisecond
	rng := newRetryRNG(1)

	require.Equal(t, capDur, jitterBackoff(0, base, 1.6, capDur, rng))
	require.Equal(t, capDur, jitterBackoff(base, base, 1.6, capDur, rng))
}

func TestJitterBackoff_SameSeedSameSequence(t *testing.T) {
	run := func(seed int64) []time.Duration {
		rng := newRetryRNG(seed)
		out := make([]time.Duration, 0, 8)
		prev := time.Duration(0)
		for range 8 {
			prev = jitterBackoff(prev, 50*time.Millisecond, 2, 5*time.Second, rng)
			out = append(out, prev)
		}

		return out
	}

	require.Equal(t, run(7), run(7))
	require.Nil(t, newRetryRNG(0))
}

func TestJitterBackoff_UnseededStaysWithinBounds(t *testing.T) {
	next := jitterBackoff(time.Second, 100*time.Millisecond, 2, 3*time.Second, nil)
	require.GreaterOrEqual(t, next, 100*time.Millisecond)
	require.LessOrEqual(t, next, 3*time.Second)
}
