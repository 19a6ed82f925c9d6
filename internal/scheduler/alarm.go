// Package scheduler implements named one-shot wake-ups.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// pending is one outstanding wake-up. gen distinguishes it from a
// predecessor with the same name whose timer may already be firing.
type pending struct {
	fireAt time.Time
	timer  *time.Timer
	gen    uint64
}

// AlarmScheduler implements domain.WakeupScheduler on time.AfterFunc.
// Wake-ups live in memory only; the controller re-registers them from the
// stored end time when the process restarts.
type AlarmScheduler struct {
	mu      sync.Mutex
	alarms  map[string]*pending
	gen     uint64
	handler domain.WakeupHandler
	closed  bool
	now     func() time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// New creates a scheduler. Fires are delivered with a context that is
// canceled by Close.
func New(logger *zap.Logger) *AlarmScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &AlarmScheduler{
		alarms: make(map[string]*pending),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Handle registers the single fire handler. A later call replaces it.
func (s *AlarmScheduler) Handle(h domain.WakeupHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Schedule registers a wake-up at fireAt, replacing any pending one under
// the same name. A fireAt in the past fires immediately.
func (s *AlarmScheduler) Schedule(name string, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.stopLocked(name)

	s.gen++
	gen := s.gen
	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	p := &pending{fireAt: fireAt, gen: gen}
	p.timer = time.AfterFunc(delay, func() { s.fire(name, gen) })
	s.alarms[name] = p

	s.logger.Debug("wake-up scheduled",
		zap.String("name", name),
		zap.Time("fire_at", fireAt),
		zap.Duration("delay", delay))
}

// Cancel removes a pending wake-up. No-op when none is pending.
func (s *AlarmScheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked(name) {
		s.logger.Debug("wake-up canceled", zap.String("name", name))
	}
}

// Pending returns the fire time of a pending wake-up.
func (s *AlarmScheduler) Pending(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.alarms[name]
	if !ok {
		return time.Time{}, false
	}
	return p.fireAt, true
}

// Len returns the number of pending wake-ups.
func (s *AlarmScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms)
}

// Close stops every pending wake-up. Nothing fires afterwards.
func (s *AlarmScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for name := range s.alarms {
		s.stopLocked(name)
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *AlarmScheduler) stopLocked(name string) bool {
	p, ok := s.alarms[name]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.alarms, name)
	return true
}

// fire delivers a wake-up once. A superseded or canceled generation is dropped.
func (s *AlarmScheduler) fire(name string, gen uint64) {
	s.mu.Lock()
	p, ok := s.alarms[name]
	if !ok || p.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.alarms, name)
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		s.logger.Warn("wake-up fired with no handler", zap.String("name", name))
		return
	}
	s.logger.Debug("wake-up fired",
		zap.String("name", name),
		zap.Duration("late_by", s.now().Sub(p.fireAt)))
	handler(s.ctx, name)
}

// Ensure AlarmScheduler implements domain.WakeupScheduler.
var _ domain.WakeupScheduler = (*AlarmScheduler)(nil)
