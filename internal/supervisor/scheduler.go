package supervisor

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs at most one delayed retry per key.
// Use NewScheduler to create a Scheduler.
type Scheduler struct {
	clock   clockwork.Clock
	mu      sync.Mutex
	pending map[string]*scheduled
	stopped bool
}

type scheduled struct {
	timer clockwork.Timer
}

// NewScheduler creates a Scheduler driven by clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock:   clock,
		pending: make(map[string]*scheduled),
	}
}

// Schedule runs fn after delay, replacing any retry already pending for key.
// It returns false once the scheduler has been stopped.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}

	entry := &scheduled{}
	entry.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.pending[key]
		if !ok || current != entry {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()

		fn()
	})
	s.pending[key] = entry

	return true
}

// Cancel drops the retry pending for key, reporting whether there was one.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, key)

	return true
}

// Pending reports whether a retry is waiting for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[key]
	return ok
}

// Stop cancels every pending retry and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, key)
	}
}
