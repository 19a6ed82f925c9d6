// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"strings"
	"time"
)

// TimerState is the current operating phase. It is the sole discriminator
// of controller behavior.
type TimerState string

const (
	StateIdle     TimerState = "IDLE"
	StateFocusing TimerState = "FOCUSING"
	StateBreaking TimerState = "BREAKING"
	StateLockout  TimerState = "LOCKOUT"
)

// Valid reports whether s is one of the known phases.
func (s TimerState) Valid() bool {
	switch s {
	case StateIdle, StateFocusing, StateBreaking, StateLockout:
		return true
	}
	return false
}

// Timed reports whether the phase has a scheduled end time.
func (s TimerState) Timed() bool {
	return s == StateFocusing || s == StateBreaking
}

// TimerRecord is the single persisted timer instance.
// EndTime is epoch milliseconds and is 0 unless State is FOCUSING or BREAKING.
type TimerRecord struct {
	State   TimerState `json:"state"`
	EndTime int64      `json:"endTime"`
}

// IdleRecord returns the record used when nothing is running or nothing is stored.
func IdleRecord() TimerRecord {
	return TimerRecord{State: StateIdle, EndTime: 0}
}

// EndAt returns EndTime as a time.Time (zero time when EndTime is 0).
func (r TimerRecord) EndAt() time.Time {
	if r.EndTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.EndTime)
}

// Remaining derives the time left from the stored EndTime.
// Never negative; always 0 for untimed phases.
func (r TimerRecord) Remaining(now time.Time) time.Duration {
	if !r.State.Timed() || r.EndTime == 0 {
		return 0
	}
	left := r.EndAt().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Credential is the hashed unlock password.
type Credential struct {
	Hash string `json:"passwordHash"`
	Salt string `json:"salt"`
}

// Settings holds the user-configured durations and cycle threshold.
// JSON names follow the persisted `settings` record.
type Settings struct {
	FocusDurationMinutes int    `json:"focusDuration"`
	BreakDurationMinutes int    `json:"breakDuration"`
	CyclesBeforeLockout  int    `json:"blueScreenCycles"`
	PasswordHash         string `json:"passwordHash,omitempty"`
	Salt                 string `json:"salt,omitempty"`
}

// ErrInvalidSettings is returned when a duration or threshold is not positive.
var ErrInvalidSettings = errors.New("invalid settings")

// DefaultSettings returns the documented defaults (25m focus, 5m break, lockout every 3rd session).
func DefaultSettings() Settings {
	return Settings{
		FocusDurationMinutes: 25,
		BreakDurationMinutes: 5,
		CyclesBeforeLockout:  3,
	}
}

// Validate checks that every duration and the threshold are positive.
func (s Settings) Validate() error {
	if s.FocusDurationMinutes <= 0 || s.BreakDurationMinutes <= 0 || s.CyclesBeforeLockout <= 0 {
		return ErrInvalidSettings
	}
	return nil
}

// FocusDuration returns the focus session length.
func (s Settings) FocusDuration() time.Duration {
	return time.Duration(s.FocusDurationMinutes) * time.Minute
}

// BreakDuration returns the break length.
func (s Settings) BreakDuration() time.Duration {
	return time.Duration(s.BreakDurationMinutes) * time.Minute
}

// Credential returns the configured credential, or nil when no password is set.
func (s Settings) Credential() *Credential {
	if s.PasswordHash == "" {
		return nil
	}
	return &Credential{Hash: s.PasswordHash, Salt: s.Salt}
}

// SetCredential stores c (nil clears the password).
func (s *Settings) SetCredential(c *Credential) {
	if c == nil {
		s.PasswordHash, s.Salt = "", ""
		return
	}
	s.PasswordHash, s.Salt = c.Hash, c.Salt
}

// Persisted state keys.
const (
	KeySettings   = "settings"
	KeyTimerData  = "timerData"
	KeyCycleCount = "cycleCount"
)

// WakeupName is the single named wake-up used by the controller.
const WakeupName = "focusForgeAlarm"

// Command names accepted by the controller's transport.
const (
	CommandStartTimer   = "START_TIMER"
	CommandStopTimer    = "STOP_TIMER"
	CommandGetTimerData = "GET_TIMER_DATA"
)

// CommandRequest is a one-shot command message.
type CommandRequest struct {
	Command  string `json:"command"`
	Password string `json:"password,omitempty"`
}

// CommandResponse is the reply to START_TIMER and STOP_TIMER.
type CommandResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Message types delivered to listeners.
const (
	TypeTimerUpdated = "TIMER_UPDATED"
	TypeInject       = "INJECT"
)

// Message is what travels over the broadcast channel.
// TIMER_UPDATED carries Data; INJECT carries Injection and only goes to pages.
type Message struct {
	Type      string       `json:"type"`
	Data      *TimerRecord `json:"data,omitempty"`
	Injection *Injection   `json:"injection,omitempty"`
}

// TimerUpdated builds the broadcast notification for a record mutation.
func TimerUpdated(record TimerRecord) Message {
	return Message{Type: TypeTimerUpdated, Data: &record}
}

// InjectionKind names the overlay asset bundle pushed into a page.
type InjectionKind string

const (
	InjectBreakOverlay   InjectionKind = "break-overlay"
	InjectLockoutOverlay InjectionKind = "lockout-overlay"
	InjectCelebration    InjectionKind = "celebration"
)

// Injection is a request for a page agent to load overlay assets.
type Injection struct {
	Kind    InjectionKind `json:"kind"`
	CSS     []string      `json:"css,omitempty"`
	Scripts []string      `json:"scripts,omitempty"`
}

// Asset bundles per injection kind.
var (
	BreakOverlay = Injection{
		Kind:    InjectBreakOverlay,
		CSS:     []string{"assets/overlay.css"},
		Scripts: []string{"content-script.js"},
	}
	LockoutOverlay = Injection{
		Kind:    InjectLockoutOverlay,
		CSS:     []string{"assets/blue-screen.css"},
		Scripts: []string{"blue-screen-script.js"},
	}
	Celebration = Injection{
		Kind:    InjectCelebration,
		Scripts: []string{"fireworks-script.js"},
	}
)

// Tab is a currently open page known to the broadcast channel.
type Tab struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}

// TabQuery filters open pages. Zero value matches every page.
type TabQuery struct {
	ActiveOnly bool
	Schemes    []string // e.g. "http", "https"; empty matches any
}

// WebSchemes are the pages eligible for overlay injection.
var WebSchemes = []string{"http", "https"}

var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
}

// IsScriptable reports whether assets may be injected into a page at url.
func IsScriptable(url string) bool {
	if url == "" {
		return false
	}
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(url, p) {
			return false
		}
	}
	return true
}

// TransitionResult captures what happened during a single controller transition.
type TransitionResult struct {
	From       TimerState
	To         TimerState
	Record     TimerRecord
	CycleCount int
	Injected   []string // page IDs that accepted an injection
	Skipped    []string // page IDs that were not scriptable
	Errors     []error  // per-page failures, logged and discarded
	ExecutedAt time.Time
}

// Daemon describes the running background process.
type Daemon struct {
	PID        int       `json:"pid"`
	ListenAddr string    `json:"listen_addr"`
	AppVersion string    `json:"app_version,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// RegistryEntry is the persisted daemon discovery record.
type RegistryEntry struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	ListenAddr    string `json:"listen_addr"`
	AppVersion    string `json:"app_version,omitempty"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}
