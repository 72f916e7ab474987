// Package timer implements the centralized, handle-keyed timer registry
// that drives request expiry. Go's runtime timers are already wheel-backed,
// so this package does not reimplement a hierarchical timer wheel; it
// keeps the part of that design worth keeping on its own: centralizing
// cancellation by request handle. Every fired callback submits a
// synthetic message rather than mutating CocoTable state directly,
// preserving the single-writer discipline of §5.
package timer

import (
	"sync"
	"time"
)

// FireFunc is invoked when a handle's timer expires.
type FireFunc func(handle int64)

// Service is a handle-keyed registry of pending expiry timers.
type Service struct {
	mu     sync.Mutex
	timers map[int64]*time.Timer
	onFire FireFunc
}

// New returns a Service that invokes onFire when a timer expires.
func New(onFire FireFunc) *Service {
	return &Service{
		timers: make(map[int64]*time.Timer),
		onFire: onFire,
	}
}

// Start arms a single-shot timer for handle, firing after d. If handle
// already has a pending timer, it is cancelled first (Retune semantics).
func (s *Service) Start(handle int64, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[handle]; ok {
		existing.Stop()
	}
	s.timers[handle] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, handle)
		s.mu.Unlock()
		s.onFire(handle)
	})
}

// Restart cancels handle's existing timer, if any, and starts a new one
// for d. Used by Retune: the core does not enforce extend-only semantics,
// shortening a request's remaining duration is allowed.
func (s *Service) Restart(handle int64, d time.Duration) {
	s.Start(handle, d)
}

// Cancel stops handle's pending timer, if any. Idempotent: cancelling an
// unknown or already-fired handle is a no-op, matching the Expiry error
// class ("never fails observably").
func (s *Service) Cancel(handle int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[handle]; ok {
		t.Stop()
		delete(s.timers, handle)
	}
}

// Pending reports whether handle currently has an armed timer.
func (s *Service) Pending(handle int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[handle]
	return ok
}

// StopAll cancels every pending timer, for shutdown.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.timers {
		t.Stop()
		delete(s.timers, h)
	}
}
