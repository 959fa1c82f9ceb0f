package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

func TestBudget_RollingWindow(t *testing.T) {
	t.Parallel()

	b := newBudget(domain.RestartPolicy{MaxAttempts: 2, Window: time.Minute})
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	n, ok := b.take(start)
	require.True(t, ok)
	require.Equal(t, 1, n)

	n, ok = b.take(start.Add(10 * time.Second))
	require.True(t, ok)
	require.Equal(t, 2, n)

	_, ok = b.take(start.Add(30 * time.Second))
	require.False(t, ok)
	require.Equal(t, 2, b.used(start.Add(30*time.Second)))

	// The first attempt leaves the window.
	n, ok = b.take(start.Add(61 * time.Second))
	require.True(t, ok)
	require.Equal(t, 2, n)

	b.reset()
	require.Zero(t, b.used(start.Add(61*time.Second)))
}

func TestBudget_ZeroAttempts(t *testing.T) {
	t.Parallel()

	b := newBudget(domain.RestartPolicy{MaxAttempts: 0, Window: time.Minute})
	_, ok := b.take(time.Now())
	require.False(t, ok)
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	policy := domain.RestartPolicy{Backoff: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}}
	zero := func() float64 { return 0 }

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 7, want: 4 * time.Second},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, backoff(policy, tc.attempt, zero), "attempt %d", tc.attempt)
	}

	policy.Jitter = 0.5
	require.Equal(t, 2*time.Second+500*time.Millisecond, backoff(policy, 2, func() float64 { return 0.5 }))
	require.Equal(t, time.Duration(0), backoff(domain.RestartPolicy{}, 1, zero))
}
