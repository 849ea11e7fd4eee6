package backoff

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

func TestDelayWithinBounds(t *testing.T) {
	t.Parallel()

	p := New()
	base := 500 * time.Millisecond
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		for i := 0; i < 50; i++ {
			got, err := p.Delay(attempt, maxAttempts, base)
			require.NoError(t, err)
			raw := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
			capped := min(raw, DefaultMaxDelay)
			require.GreaterOrEqual(t, got, capped, "attempt %d", attempt)
			require.Less(t, got, time.Duration(float64(capped)*1.1), "attempt %d", attempt)
		}
	}
}

func TestDelayCapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	p := New(WithRand(func() float64 { return 0 }))
	got, err := p.Delay(20, 30, time.Second)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxDelay, got)

	p = New(WithMaxDelay(3*time.Second), WithRand(func() float64 { return 0.5 }))
	got, err = p.Delay(10, 11, time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second+150*time.Millisecond, got)
}

func TestDelayDeterministicJitter(t *testing.T) {
	t.Parallel()

	p := New(WithRand(func() float64 { return 0.5 }))
	got, err := p.Delay(2, 5, time.Second)
	require.NoError(t, err)
	// 4s plus half of the 10% jitter window.
	require.Equal(t, 4*time.Second+200*time.Millisecond, got)
}

func TestDelayFailsAtCeiling(t *testing.T) {
	t.Parallel()

	p := New()
	for _, attempt := range []int{5, 6, 100} {
		_, err := p.Delay(attempt, 5, time.Second)
		require.Error(t, err)
		require.True(t, errors.Is(err, forum.ErrRetryBudgetExhausted))
	}

	_, err := p.Delay(4, 5, time.Second)
	require.NoError(t, err, "final permitted attempt index is maxAttempts-1")
}
