// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// wakeupSlack is how early a fire may arrive and still count as due.
const wakeupSlack = time.Second

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() domain.Clock { return systemClock{} }

// Controller implements domain.TimerController: the focus/break/lockout
// state machine. It exclusively owns the settings, timer record and cycle
// count; every read-modify-persist-broadcast sequence runs under mu.
type Controller struct {
	mu          sync.Mutex
	store       domain.StateStore
	scheduler   domain.WakeupScheduler
	broadcaster domain.Broadcaster
	tabs        domain.TabManager
	clock       domain.Clock
	logger      *zap.Logger
}

// NewController creates a controller on the wall clock and registers it
// as the scheduler's wake-up handler.
func NewController(
	store domain.StateStore,
	scheduler domain.WakeupScheduler,
	broadcaster domain.Broadcaster,
	tabs domain.TabManager,
	logger *zap.Logger,
) *Controller {
	return NewControllerWithClock(store, scheduler, broadcaster, tabs, SystemClock(), logger)
}

// NewControllerWithClock creates a controller with a custom time source (for testing).
func NewControllerWithClock(
	store domain.StateStore,
	scheduler domain.WakeupScheduler,
	broadcaster domain.Broadcaster,
	tabs domain.TabManager,
	clock domain.Clock,
	logger *zap.Logger,
) *Controller {
	c := &Controller{
		store:       store,
		scheduler:   scheduler,
		broadcaster: broadcaster,
		tabs:        tabs,
		clock:       clock,
		logger:      logger,
	}
	scheduler.Handle(c.onWakeup)
	return c
}

// Seed writes the initial records on first activation (no settings stored yet).
// Returns true if it seeded.
func (c *Controller) Seed(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var existing domain.Settings
	found, err := c.store.Get(ctx, domain.KeySettings, &existing)
	if err != nil {
		return false, fmt.Errorf("failed to read settings: %w", err)
	}
	if found {
		return false, nil
	}

	err = c.store.Set(ctx, map[string]any{
		domain.KeySettings:   domain.DefaultSettings(),
		domain.KeyTimerData:  domain.IdleRecord(),
		domain.KeyCycleCount: 0,
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed state: %w", err)
	}
	c.logger.Info("seeded default state")
	return true, nil
}

// Restore re-registers the pending wake-up after a process (re)start.
// An overdue end time fires immediately and is handled as a late wake-up.
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record := c.loadTimerLocked(ctx)
	if !record.State.Timed() || record.EndTime == 0 {
		c.scheduler.Cancel(domain.WakeupName)
		c.logger.Info("restored timer", zap.String("state", string(record.State)))
		return nil
	}

	c.scheduler.Schedule(domain.WakeupName, record.EndAt())
	c.logger.Info("restored timer",
		zap.String("state", string(record.State)),
		zap.Time("end_time", record.EndAt()),
		zap.Duration("remaining", record.Remaining(c.clock.Now())))
	return nil
}

// Start begins a focus session from any phase. A running focus session
// restarts; a break or lockout is abandoned.
func (c *Controller) Start(ctx context.Context) (domain.TimerRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.loadTimerLocked(ctx)
	c.scheduler.Cancel(domain.WakeupName)
	settings := c.loadSettingsLocked(ctx)
	record := domain.TimerRecord{
		State:   domain.StateFocusing,
		EndTime: c.clock.Now().Add(settings.FocusDuration()).UnixMilli(),
	}

	if err := c.commitLocked(ctx, record, nil); err != nil {
		return current, err
	}
	c.logger.Info("focus session started",
		zap.String("from", string(current.State)),
		zap.Int("minutes", settings.FocusDurationMinutes),
		zap.Time("end_time", record.EndAt()))
	return record, nil
}

// Stop forces IDLE from any phase and cancels the pending wake-up.
func (c *Controller) Stop(ctx context.Context) (domain.TimerRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx)
}

// StopWithPassword is Stop gated by the unlock password. The check and the
// transition run under one lock.
func (c *Controller) StopWithPassword(ctx context.Context, password string) (domain.TimerRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !CheckPassword(c.loadSettingsLocked(ctx).Credential(), password) {
		return c.loadTimerLocked(ctx), ErrInvalidPassword
	}
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) (domain.TimerRecord, error) {
	from := c.loadTimerLocked(ctx).State
	c.scheduler.Cancel(domain.WakeupName)

	record := domain.IdleRecord()
	if err := c.commitLocked(ctx, record, nil); err != nil {
		return record, err
	}
	c.logger.Info("timer stopped", zap.String("from", string(from)))
	return record, nil
}

// Snapshot returns a copy of the current record.
func (c *Controller) Snapshot(ctx context.Context) domain.TimerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadTimerLocked(ctx)
}

// CycleCount returns the completed focus sessions since the last lockout.
func (c *Controller) CycleCount(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadCycleCountLocked(ctx)
}

// HandleWakeup runs the transition owed to a fired wake-up. Stale, early or
// foreign fires return a nil result. The phase end is always taken from the
// stored record, never from the scheduler.
func (c *Controller) HandleWakeup(ctx context.Context, name string) (*domain.TransitionResult, error) {
	if name != domain.WakeupName {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record := c.loadTimerLocked(ctx)
	now := c.clock.Now()

	if !record.State.Timed() {
		c.logger.Debug("ignoring wake-up", zap.String("state", string(record.State)))
		return nil, nil
	}
	if record.EndTime != 0 && now.Before(record.EndAt().Add(-wakeupSlack)) {
		c.logger.Debug("wake-up before end time, rescheduling",
			zap.Duration("remaining", record.Remaining(now)))
		c.scheduler.Schedule(domain.WakeupName, record.EndAt())
		return nil, nil
	}

	if record.State == domain.StateFocusing {
		return c.completeFocusLocked(ctx, now)
	}
	return c.completeBreakLocked(ctx, now)
}

func (c *Controller) onWakeup(ctx context.Context, name string) {
	result, err := c.HandleWakeup(ctx, name)
	if err != nil {
		c.logger.Error("wake-up transition failed", zap.String("name", name), zap.Error(err))
		return
	}
	if result != nil {
		c.logger.Info("phase completed",
			zap.String("from", string(result.From)),
			zap.String("to", string(result.To)),
			zap.Int("cycle_count", result.CycleCount),
			zap.Int("pages_injected", len(result.Injected)),
			zap.Int("pages_failed", len(result.Errors)))
	}
}

// completeFocusLocked decides between a break and a lockout using the
// post-increment cycle count, so the Nth session ends in lockout.
func (c *Controller) completeFocusLocked(ctx context.Context, now time.Time) (*domain.TransitionResult, error) {
	result := &domain.TransitionResult{
		From:       domain.StateFocusing,
		Injected:   make([]string, 0),
		Skipped:    make([]string, 0),
		Errors:     make([]error, 0),
		ExecutedAt: now,
	}

	c.celebrateLocked(ctx, result)

	settings := c.loadSettingsLocked(ctx)
	count := c.loadCycleCountLocked(ctx) + 1
	pages := c.tabs.Query(ctx, domain.TabQuery{Schemes: domain.WebSchemes})

	var record domain.TimerRecord
	var overlay domain.Injection
	if count >= settings.CyclesBeforeLockout {
		count = 0
		record = domain.TimerRecord{State: domain.StateLockout, EndTime: 0}
		overlay = domain.LockoutOverlay
	} else {
		record = domain.TimerRecord{
			State:   domain.StateBreaking,
			EndTime: now.Add(settings.BreakDuration()).UnixMilli(),
		}
		overlay = domain.BreakOverlay
	}

	if err := c.commitLocked(ctx, record, &count); err != nil {
		return nil, err
	}

	result.To = record.State
	result.Record = record
	result.CycleCount = count
	c.injectAllLocked(ctx, pages, overlay, result)
	return result, nil
}

func (c *Controller) completeBreakLocked(ctx context.Context, now time.Time) (*domain.TransitionResult, error) {
	c.scheduler.Cancel(domain.WakeupName)
	record := domain.IdleRecord()
	if err := c.commitLocked(ctx, record, nil); err != nil {
		return nil, err
	}
	return &domain.TransitionResult{
		From:       domain.StateBreaking,
		To:         domain.StateIdle,
		Record:     record,
		CycleCount: c.loadCycleCountLocked(ctx),
		ExecutedAt: now,
	}, nil
}

// commitLocked persists the record (and cycle count when given) in one
// write, schedules the phase end, then broadcasts.
func (c *Controller) commitLocked(ctx context.Context, record domain.TimerRecord, cycleCount *int) error {
	values := map[string]any{domain.KeyTimerData: record}
	if cycleCount != nil {
		values[domain.KeyCycleCount] = *cycleCount
	}
	if err := c.store.Set(ctx, values); err != nil {
		return fmt.Errorf("failed to persist timer state: %w", err)
	}
	if record.State.Timed() {
		c.scheduler.Schedule(domain.WakeupName, record.EndAt())
	}
	c.broadcaster.Publish(ctx, domain.TimerUpdated(record))
	return nil
}

// celebrateLocked plays the completion effect on the focused page, best effort.
func (c *Controller) celebrateLocked(ctx context.Context, result *domain.TransitionResult) {
	active := c.tabs.Query(ctx, domain.TabQuery{ActiveOnly: true})
	if len(active) == 0 {
		return
	}
	tab := active[0]
	if !domain.IsScriptable(tab.URL) {
		result.Skipped = append(result.Skipped, tab.ID)
		return
	}
	if err := c.tabs.Inject(ctx, tab.ID, domain.Celebration); err != nil {
		c.logger.Warn("failed to inject celebration",
			zap.String("page", tab.ID),
			zap.Error(err))
		result.Errors = append(result.Errors, err)
		return
	}
	result.Injected = append(result.Injected, tab.ID)
}

// injectAllLocked pushes an overlay into every eligible page. A failing page
// never aborts the others.
func (c *Controller) injectAllLocked(ctx context.Context, pages []domain.Tab, inj domain.Injection, result *domain.TransitionResult) {
	for _, tab := range pages {
		if !domain.IsScriptable(tab.URL) {
			result.Skipped = append(result.Skipped, tab.ID)
			continue
		}
		if err := c.tabs.Inject(ctx, tab.ID, inj); err != nil {
			c.logger.Debug("overlay injection skipped",
				zap.String("page", tab.ID),
				zap.String("kind", string(inj.Kind)),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Injected = append(result.Injected, tab.ID)
	}
}

func (c *Controller) loadTimerLocked(ctx context.Context) domain.TimerRecord {
	var record domain.TimerRecord
	found, err := c.store.Get(ctx, domain.KeyTimerData, &record)
	if err != nil {
		c.logger.Warn("failed to read timer record, assuming idle", zap.Error(err))
		return domain.IdleRecord()
	}
	if !found || !record.State.Valid() {
		return domain.IdleRecord()
	}
	if !record.State.Timed() {
		record.EndTime = 0
	}
	return record
}

func (c *Controller) loadSettingsLocked(ctx context.Context) domain.Settings {
	var settings domain.Settings
	found, err := c.store.Get(ctx, domain.KeySettings, &settings)
	if err != nil {
		c.logger.Warn("failed to read settings, using defaults", zap.Error(err))
		return domain.DefaultSettings()
	}
	if !found {
		return domain.DefaultSettings()
	}
	return withDefaults(settings)
}

func (c *Controller) loadCycleCountLocked(ctx context.Context) int {
	var count int
	found, err := c.store.Get(ctx, domain.KeyCycleCount, &count)
	if err != nil {
		c.logger.Warn("failed to read cycle count", zap.Error(err))
		return 0
	}
	if !found || count < 0 {
		return 0
	}
	return count
}

// withDefaults replaces non-positive fields with their defaults.
func withDefaults(s domain.Settings) domain.Settings {
	d := domain.DefaultSettings()
	if s.FocusDurationMinutes <= 0 {
		s.FocusDurationMinutes = d.FocusDurationMinutes
	}
	if s.BreakDurationMinutes <= 0 {
		s.BreakDurationMinutes = d.BreakDurationMinutes
	}
	if s.CyclesBeforeLockout <= 0 {
		s.CyclesBeforeLockout = d.CyclesBeforeLockout
	}
	return s
}

// Ensure Controller implements domain.TimerController.
var _ domain.TimerController = (*Controller)(nil)
