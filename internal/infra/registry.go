package infra

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

const registryFileName = ".daemon.json"

// FileDaemonRegistry implements domain.DaemonRegistry using a hidden JSON file
// in the data directory. CLI commands read it to find the daemon's address.
type FileDaemonRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileDaemonRegistry creates a registry in dataDir.
func NewFileDaemonRegistry(dataDir string, pm domain.ProcessManager) *FileDaemonRegistry {
	return NewFileDaemonRegistryWithPath(filepath.Join(dataDir, registryFileName), pm)
}

// NewFileDaemonRegistryWithPath creates a registry at a specific path (for testing).
func NewFileDaemonRegistryWithPath(path string, pm domain.ProcessManager) *FileDaemonRegistry {
	return &FileDaemonRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetRegistryPath returns the registry file path.
func (r *FileDaemonRegistry) GetRegistryPath() string {
	return r.path
}

// Register records the running daemon, replacing any previous entry.
func (r *FileDaemonRegistry) Register(daemon domain.Daemon) error {
	return withFileLock(r.path, func() error {
		startedAt := daemon.StartedAt
		if startedAt.IsZero() {
			startedAt = time.Now()
		}
		entry := &domain.RegistryEntry{
			Version:       1,
			PID:           daemon.PID,
			ListenAddr:    daemon.ListenAddr,
			AppVersion:    daemon.AppVersion,
			StartedAt:     startedAt.Unix(),
			LastHeartbeat: time.Now().Unix(),
		}
		return r.write(entry)
	})
}

// UpdateHeartbeat updates timestamp for liveness check.
func (r *FileDaemonRegistry) UpdateHeartbeat() error {
	return withFileLock(r.path, func() error {
		entry, err := r.Get()
		if err != nil {
			return err
		}
		if entry == nil {
			return os.ErrNotExist
		}
		entry.LastHeartbeat = time.Now().Unix()
		return r.write(entry)
	})
}

// IsAlive checks if the registered daemon is running via PID.
func (r *FileDaemonRegistry) IsAlive() (bool, error) {
	entry, err := r.Get()
	if err != nil {
		return false, err
	}
	if entry == nil || entry.PID == 0 {
		return false, nil // Not registered = not alive
	}
	return r.processManager.IsRunning(entry.PID), nil
}

// Get returns the registry state, nil when nothing is registered.
func (r *FileDaemonRegistry) Get() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Clear removes registry file.
func (r *FileDaemonRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (r *FileDaemonRegistry) write(entry *domain.RegistryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return atomicWrite(r.path, data)
}

// Ensure FileDaemonRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileDaemonRegistry)(nil)
