package supervisor

import (
	"time"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// budget tracks restart attempts within a rolling window.
type budget struct {
	policy   domain.RestartPolicy
	attempts []time.Time
}

func newBudget(policy domain.RestartPolicy) *budget {
	return &budget{policy: policy}
}

// take records an attempt at now when the window still has room.
// It returns the 1-based attempt number within the window.
func (b *budget) take(now time.Time) (int, bool) {
	b.prune(now)
	if len(b.attempts) >= b.policy.MaxAttempts {
		return len(b.attempts), false
	}
	b.attempts = append(b.attempts, now)

	return len(b.attempts), true
}

// used returns the number of attempts still inside the window.
func (b *budget) used(now time.Time) int {
	b.prune(now)
	return len(b.attempts)
}

func (b *budget) reset() {
	b.attempts = nil
}

func (b *budget) prune(now time.Time) {
	cutoff := now.Add(-b.policy.Window)
	i := 0
	for i < len(b.attempts) && !b.attempts[i].After(cutoff) {
		i++
	}
	b.attempts = b.attempts[i:]
}

// backoff returns the delay before the given 1-based attempt.
// Attempts beyond the schedule reuse its last entry. random must return values in [0, 1).
func backoff(policy domain.RestartPolicy, attempt int, random func() float64) time.Duration {
	if len(policy.Backoff) == 0 {
		return 0
	}

	idx := min(max(attempt-1, 0), len(policy.Backoff)-1)
	delay := policy.Backoff[idx]
	if policy.Jitter > 0 && random != nil {
		delay += time.Duration(float64(delay) * policy.Jitter * random())
	}

	return delay
}
