package domain

import (
	"context"
	"time"
)

// StateStore is the durable key-value store holding the persisted records.
// Values are JSON encoded. Implementations: JSON file, SQLite, SQLCipher.
type StateStore interface {
	// Get decodes the value stored under key into v.
	// Returns false (and no error) when the key is absent.
	Get(ctx context.Context, key string, v any) (bool, error)

	// Set writes all values atomically.
	Set(ctx context.Context, values map[string]any) error

	// Close releases resources (file lock, database connection).
	Close() error
}

// WakeupHandler receives a fired wake-up by name.
type WakeupHandler func(ctx context.Context, name string)

// WakeupScheduler keeps at most one pending deferred trigger per name.
type WakeupScheduler interface {
	// Schedule registers a wake-up at fireAt, replacing any pending one with the same name.
	Schedule(name string, fireAt time.Time)

	// Cancel removes a pending wake-up. No-op when none is pending.
	Cancel(name string)

	// Pending returns the fire time of a pending wake-up.
	Pending(name string) (time.Time, bool)

	// Handle registers the single fire handler.
	Handle(h WakeupHandler)
}

// Broadcaster fans a notification out to every registered listener, best effort.
type Broadcaster interface {
	Publish(ctx context.Context, msg Message)
}

// TabManager exposes the open pages to the controller.
type TabManager interface {
	// Query returns the pages matching q.
	Query(ctx context.Context, q TabQuery) []Tab

	// Inject asks the page agent of tabID to load the given assets.
	Inject(ctx context.Context, tabID string, inj Injection) error
}

// Clock is the time source. Tests replace it.
type Clock interface {
	Now() time.Time
}

// SettingsUpdate is a partial options-page edit. Nil fields stay unchanged.
type SettingsUpdate struct {
	FocusDurationMinutes *int    `json:"focusDuration,omitempty"`
	BreakDurationMinutes *int    `json:"breakDuration,omitempty"`
	CyclesBeforeLockout  *int    `json:"blueScreenCycles,omitempty"`
	Password             *string `json:"password,omitempty"`        // "" clears
	CurrentPassword      string  `json:"currentPassword,omitempty"` // required when a password is set
}

// TimerController is the single owner of the persisted records.
type TimerController interface {
	// Start begins a focus session (START_TIMER).
	Start(ctx context.Context) (TimerRecord, error)

	// Stop forces IDLE from any phase (STOP_TIMER).
	Stop(ctx context.Context) (TimerRecord, error)

	// StopWithPassword forces IDLE when password unlocks the controller.
	StopWithPassword(ctx context.Context, password string) (TimerRecord, error)

	// Snapshot returns a copy of the current record (GET_TIMER_DATA).
	Snapshot(ctx context.Context) TimerRecord

	// CycleCount returns the completed focus sessions since the last lockout.
	CycleCount(ctx context.Context) int

	// Settings returns the effective settings.
	Settings(ctx context.Context) Settings

	// UpdateSettings applies an options-page edit.
	UpdateSettings(ctx context.Context, u SettingsUpdate) (Settings, error)
}

// ProcessManager handles OS process checks.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry lets CLI commands discover the running daemon.
// Implementation: hidden JSON file in the data directory.
type DaemonRegistry interface {
	// Register saves the daemon's PID and listen address.
	Register(daemon Daemon) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat() error

	// Get returns the registry state, nil when nothing is registered.
	Get() (*RegistryEntry, error)

	// IsAlive checks the registered PID.
	IsAlive() (bool, error)

	// Clear removes the registry file.
	Clear() error

	// GetRegistryPath returns the registry file path (for tests).
	GetRegistryPath() string
}

// KeyProvider abstracts the source of the encrypted store's key.
type KeyProvider interface {
	// LoadKey returns the stored key; found is false when none exists yet.
	LoadKey() (key []byte, found bool, err error)

	// SaveKey persists a new key.
	SaveKey(key []byte) error
}

// LaunchAgentManager handles the macOS LaunchAgent that keeps the daemon alive.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string
}
