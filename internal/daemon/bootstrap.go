package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// StartDetached spawns `<self> daemon <args...>` detached from the parent process.
// Returns the child PID.
func StartDetached(args ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}
	return StartDetachedWithPath(executable, args...)
}

// StartDetachedWithPath spawns execPath as a detached daemon.
func StartDetachedWithPath(execPath string, args ...string) (int, error) {
	cmd := exec.Command(execPath, append([]string{"daemon"}, args...)...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached; the daemon logs to its file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	// Don't keep the child as our zombie.
	_ = cmd.Process.Release()
	return pid, nil
}

// WaitReady polls the registry until a live daemon is registered or ctx ends.
// With pid > 0 it waits for that specific process.
func WaitReady(ctx context.Context, registry domain.DaemonRegistry, pid int) (*domain.RegistryEntry, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		entry, err := registry.Get()
		if err == nil && entry != nil && (pid <= 0 || entry.PID == pid) {
			if alive, _ := registry.IsAlive(); alive {
				return entry, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("daemon did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
