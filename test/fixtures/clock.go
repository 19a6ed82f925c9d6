// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements domain.Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ domain.Clock = (*ManualClock)(nil)

// ManualScheduler records wake-ups and fires them only on request.
type ManualScheduler struct {
	mu      sync.Mutex
	pending map[string]time.Time
	handler domain.WakeupHandler
}

// NewManualScheduler creates an empty scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: make(map[string]time.Time)}
}

// Schedule implements domain.WakeupScheduler.
func (s *ManualScheduler) Schedule(name string, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[name] = fireAt
}

// Cancel implements domain.WakeupScheduler.
func (s *ManualScheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, name)
}

// Pending implements domain.WakeupScheduler.
func (s *ManualScheduler) Pending(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.pending[name]
	return at, ok
}

// Handle implements domain.WakeupScheduler.
func (s *ManualScheduler) Handle(h domain.WakeupHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Expire moves clock to the pending fire time of name and delivers the fire.
// Returns false when nothing is pending.
func (s *ManualScheduler) Expire(ctx context.Context, clock *ManualClock, name string) bool {
	s.mu.Lock()
	at, ok := s.pending[name]
	if ok {
		delete(s.pending, name)
	}
	h := s.handler
	s.mu.Unlock()

	if !ok || h == nil {
		return false
	}
	clock.Set(at)
	h(ctx, name)
	return true
}

var _ domain.WakeupScheduler = (*ManualScheduler)(nil)
