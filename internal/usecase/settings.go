package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// Settings returns the effective settings (defaults when none are stored).
func (c *Controller) Settings(ctx context.Context) domain.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadSettingsLocked(ctx)
}

// VerifyPassword reports whether password unlocks the controller.
// Always true when no password is configured.
func (c *Controller) VerifyPassword(ctx context.Context, password string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CheckPassword(c.loadSettingsLocked(ctx).Credential(), password)
}

// UpdateSettings applies an options-page edit. With a password configured,
// every edit needs the current password. A running session keeps the
// durations it started with.
func (c *Controller) UpdateSettings(ctx context.Context, u domain.SettingsUpdate) (domain.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings := c.loadSettingsLocked(ctx)
	if !CheckPassword(settings.Credential(), u.CurrentPassword) {
		return settings, ErrInvalidPassword
	}

	next := settings
	if u.FocusDurationMinutes != nil {
		next.FocusDurationMinutes = *u.FocusDurationMinutes
	}
	if u.BreakDurationMinutes != nil {
		next.BreakDurationMinutes = *u.BreakDurationMinutes
	}
	if u.CyclesBeforeLockout != nil {
		next.CyclesBeforeLockout = *u.CyclesBeforeLockout
	}
	if err := next.Validate(); err != nil {
		return settings, fmt.Errorf("%w: durations and cycles must be positive", err)
	}

	if u.Password != nil {
		if *u.Password == "" {
			next.SetCredential(nil)
		} else {
			cred, err := HashPassword(*u.Password)
			if err != nil {
				return settings, err
			}
			next.SetCredential(cred)
		}
	}

	if err := c.store.Set(ctx, map[string]any{domain.KeySettings: next}); err != nil {
		return settings, fmt.Errorf("failed to persist settings: %w", err)
	}

	c.logger.Info("settings updated",
		zap.Int("focus_minutes", next.FocusDurationMinutes),
		zap.Int("break_minutes", next.BreakDurationMinutes),
		zap.Int("cycles_before_lockout", next.CyclesBeforeLockout),
		zap.Bool("password_set", next.Credential() != nil))
	return next, nil
}
