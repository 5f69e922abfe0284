package role

import "sync"

type subscriber struct {
	ch     chan Transition
	mu     sync.Mutex
	closed bool
}

// trySend delivers without blocking; a full buffer drops the transition.
func (s *subscriber) trySend(tr Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- tr:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
