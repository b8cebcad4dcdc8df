package flow

import (
	"sync"
	"time"
)

// Supervisor arms one reclamation timer per awaiting request and
// cancels it when the request resolves first. Cancellation is
// idempotent and safe against a concurrently firing timer; the
// registry's atomic take is what actually prevents a double release,
// so a late fire is benign.
type Supervisor struct {
	ttl  time.Duration
	fire func(requestID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewSupervisor creates a supervisor that invokes fire after ttl for
// every armed request id.
func NewSupervisor(ttl time.Duration, fire func(requestID string)) *Supervisor {
	return &Supervisor{
		ttl:    ttl,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules the deadline for a request. Re-arming an already armed
// id resets its deadline.
func (s *Supervisor) Arm(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if existing, ok := s.timers[requestID]; ok {
		existing.Stop()
	}
	s.timers[requestID] = time.AfterFunc(s.ttl, func() {
		s.expire(requestID)
	})
}

// Cancel stops the outstanding timer for a request, if any. Safe to
// call for unknown ids and after the timer has fired.
func (s *Supervisor) Cancel(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[requestID]; ok {
		timer.Stop()
		delete(s.timers, requestID)
	}
}

// Close cancels every outstanding timer. Fires already in flight may
// still run; the coordinator treats them as no-ops.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// Armed reports whether a timer is outstanding for the request.
func (s *Supervisor) Armed(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[requestID]
	return ok
}

func (s *Supervisor) expire(requestID string) {
	s.mu.Lock()
	delete(s.timers, requestID)
	closed := s.closed
	s.mu.Unlock()

	if closed || s.fire == nil {
		return
	}
	s.fire(requestID)
}
