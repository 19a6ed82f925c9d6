// Package agent is the per-page overlay agent: it reacts to injection
// requests and timer notifications delivered to one page.
package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/api"
	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

const (
	breakTitle   = "Time for a break!"
	breakHint    = "To unlock, please use the Focus Forge popup."
	lockoutTitle = ":( Your PC ran into a problem that it couldn't handle, and now it needs to restart."
	lockoutHint  = "Please open the Focus Forge popup to restore your session."
	celebrateMsg = "*** Focus session complete! ***"
)

// Source answers the agent's timer queries.
type Source interface {
	TimerData(ctx context.Context) (domain.TimerRecord, error)
	Settings(ctx context.Context) (*api.SettingsView, error)
}

// Agent renders the page's overlays as text lines.
type Agent struct {
	source Source
	out    io.Writer
	now    func() time.Time
	logger *zap.Logger

	mu         sync.Mutex
	visible    map[domain.InjectionKind]bool
	breakEnd   time.Time
	breakTotal time.Duration
}

// New creates an agent writing to out.
func New(source Source, out io.Writer, logger *zap.Logger) *Agent {
	return NewWithClock(source, out, time.Now, logger)
}

// NewWithClock creates an agent with a custom time source (for testing).
func NewWithClock(source Source, out io.Writer, now func() time.Time, logger *zap.Logger) *Agent {
	return &Agent{
		source:  source,
		out:     out,
		now:     now,
		logger:  logger,
		visible: make(map[domain.InjectionKind]bool),
	}
}

// Visible reports whether an overlay of kind is on screen.
func (a *Agent) Visible(kind domain.InjectionKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible[kind]
}

// Handle reacts to one delivered message.
func (a *Agent) Handle(ctx context.Context, msg domain.Message) {
	switch msg.Type {
	case domain.TypeInject:
		if msg.Injection == nil {
			return
		}
		a.inject(ctx, *msg.Injection)
	case domain.TypeTimerUpdated:
		if msg.Data != nil && msg.Data.State == domain.StateIdle {
			a.removeAll()
		}
	}
}

// Run attaches via events and renders until ctx ends or the stream closes.
// While the break overlay is up, the countdown is redrawn every second.
func (a *Agent) Run(ctx context.Context, events func(ctx context.Context, fn func(domain.Message) error) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Tick()
			}
		}
	}()

	return events(ctx, func(msg domain.Message) error {
		a.Handle(ctx, msg)
		return nil
	})
}

// Tick redraws the break countdown if the break overlay is visible. The
// final 00:00 frame is drawn once; the overlay then waits for IDLE.
func (a *Agent) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.visible[domain.InjectBreakOverlay] || a.breakEnd.IsZero() {
		return
	}
	a.printf("%s\n", a.countdownLocked())
	if !a.breakEnd.After(a.now()) {
		a.breakEnd = time.Time{}
	}
}

func (a *Agent) inject(ctx context.Context, inj domain.Injection) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch inj.Kind {
	case domain.InjectBreakOverlay:
		if a.visible[inj.Kind] {
			return
		}
		a.visible[inj.Kind] = true
		a.printf("%s\n", breakTitle)
		a.startCountdownLocked(ctx)
		a.printf("%s\n", breakHint)

	case domain.InjectLockoutOverlay:
		if a.visible[inj.Kind] {
			return
		}
		a.visible[inj.Kind] = true
		a.printf("%s\n%s\n", lockoutTitle, lockoutHint)

	case domain.InjectCelebration:
		a.printf("%s\n", celebrateMsg)

	default:
		a.logger.Debug("unknown injection", zap.String("kind", string(inj.Kind)))
	}
}

// startCountdownLocked asks for the timer record and, while breaking, fixes
// the countdown to the record's end time.
func (a *Agent) startCountdownLocked(ctx context.Context) {
	record, err := a.source.TimerData(ctx)
	if err != nil {
		a.logger.Warn("failed to get timer data", zap.Error(err))
		a.printf("--:--\n")
		return
	}
	if record.State != domain.StateBreaking {
		a.printf("--:--\n")
		return
	}

	total := domain.DefaultSettings().BreakDuration()
	if settings, err := a.source.Settings(ctx); err == nil && settings.BreakDurationMinutes > 0 {
		total = time.Duration(settings.BreakDurationMinutes) * time.Minute
	}
	a.breakEnd = record.EndAt()
	a.breakTotal = total
	a.printf("%s\n", a.countdownLocked())
}

func (a *Agent) countdownLocked() string {
	remaining := a.breakEnd.Sub(a.now())
	filled := domain.FilledCells(remaining, a.breakTotal, domain.ProgressCells)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", domain.ProgressCells-filled)
	return fmt.Sprintf("%s [%s]", domain.FormatClock(remaining), bar)
}

func (a *Agent) removeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.visible) == 0 {
		return
	}
	for kind := range a.visible {
		delete(a.visible, kind)
	}
	a.breakEnd = time.Time{}
	a.printf("overlay removed\n")
}

func (a *Agent) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(a.out, format, args...); err != nil {
		a.logger.Debug("failed to render", zap.Error(err))
	}
}
