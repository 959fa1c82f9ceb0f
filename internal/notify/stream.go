package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mozilla-ai/fleetd/internal/domain"
)

// Stream is an append-only, bounded record of alerts that also fans them out to subscribers.
// Use NewStream to create a Stream.
type Stream struct {
	mu       sync.RWMutex
	capacity int
	alerts   []domain.Alert
	subs     map[int]chan domain.Alert
	nextSub  int
}

// NewStream creates a Stream retaining at most capacity alerts.
func NewStream(capacity int) (*Stream, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("stream capacity must be at least 1, got %d", capacity)
	}

	return &Stream{
		capacity: capacity,
		alerts:   make([]domain.Alert, 0, capacity),
		subs:     make(map[int]chan domain.Alert),
	}, nil
}

// Notify implements Notifier. Subscribers that are not keeping up miss the alert.
func (s *Stream) Notify(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.alerts) == s.capacity {
		s.alerts = slices.Delete(s.alerts, 0, 1)
	}
	s.alerts = append(s.alerts, alert)

	for _, ch := range s.subs {
		select {
		case ch <- alert:
		default:
		}
	}

	return nil
}

// Recent returns up to n of the most recent alerts, oldest first. A non-positive n returns everything retained.
func (s *Stream) Recent(n int) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n > 0 && n < len(s.alerts) {
		start = len(s.alerts) - n
	}

	return slices.Clone(s.alerts[start:])
}

// Subscribe returns a channel receiving alerts as they are appended and a function that ends the subscription.
func (s *Stream) Subscribe(buffer int) (<-chan domain.Alert, func()) {
	ch := make(chan domain.Alert, max(buffer, 1))

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}
