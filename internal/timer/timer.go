// Package timer provides a registry of single-shot, cancellable callbacks
// keyed by device id. At most one handle exists per key.
package timer

import (
	"sync"
	"time"
)

// Service schedules keyed callbacks.
type Service struct {
	mu      sync.Mutex
	handles map[int64]*handle
	gen     uint64
	stopped bool
}

type handle struct {
	gen    uint64
	fireAt time.Time
	t      *time.Timer
}

// New creates an empty timer registry.
func New() *Service {
	return &Service{handles: make(map[int64]*handle)}
}

// Schedule registers fn to run after delay under key. An existing handle for
// the same key is cancelled first. Schedule is a no-op after Stop.
func (s *Service) Schedule(key int64, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.handles[key]; ok {
		old.t.Stop()
		delete(s.handles, key)
	}

	s.gen++
	h := &handle{gen: s.gen, fireAt: time.Now().Add(delay)}
	h.t = time.AfterFunc(delay, func() { s.fire(key, h.gen, fn) })
	s.handles[key] = h
}

// fire removes the handle before running fn so fn may schedule the key again.
// A handle that was replaced or cancelled after its runtime timer started
// firing is recognised by its generation and skipped.
func (s *Service) fire(key int64, gen uint64, fn func()) {
	s.mu.Lock()
	h, ok := s.handles[key]
	if !ok || h.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.handles, key)
	s.mu.Unlock()

	fn()
}

// Cancel stops and removes the handle for key. It reports whether a handle
// was registered.
func (s *Service) Cancel(key int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[key]
	if !ok {
		return false
	}
	h.t.Stop()
	delete(s.handles, key)
	return true
}

// Pending returns the fire time of the handle registered for key.
func (s *Service) Pending(key int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[key]
	if !ok {
		return time.Time{}, false
	}
	return h.fireAt, true
}

// Len returns the number of live handles.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Stop cancels every handle and rejects further scheduling.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, h := range s.handles {
		h.t.Stop()
		delete(s.handles, key)
	}
	s.stopped = true
}
