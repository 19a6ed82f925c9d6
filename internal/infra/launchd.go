package infra

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
)

// LaunchAgent plist template. KeepAlive makes launchd restart the daemon
// whenever it exits, after which Restore re-registers the pending wake-up.
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>daemon</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Background</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
	LogPath        string
	ErrorLogPath   string
}

// LaunchdManagerImpl implements domain.LaunchAgentManager.
type LaunchdManagerImpl struct {
	plistDir  string
	plistPath string
	logDir    string
	launchctl func(args ...string) error
}

// NewLaunchdManager creates a LaunchAgent manager for the given paths.
func NewLaunchdManager(paths *Paths) *LaunchdManagerImpl {
	return &LaunchdManagerImpl{
		plistDir:  paths.PlistDir,
		plistPath: paths.PlistPath,
		logDir:    paths.DataDir,
		launchctl: runLaunchctl,
	}
}

// NewLaunchdManagerWithRunner replaces launchctl (for testing).
func NewLaunchdManagerWithRunner(paths *Paths, runner func(args ...string) error) *LaunchdManagerImpl {
	m := NewLaunchdManager(paths)
	m.launchctl = runner
	return m
}

func runLaunchctl(args ...string) error {
	return exec.Command("launchctl", args...).Run()
}

// generatePlistContent creates plist content for the given exec path.
func (m *LaunchdManagerImpl) generatePlistContent(execPath string) ([]byte, error) {
	config := plistConfig{
		Label:          LaunchdLabel,
		ExecutablePath: execPath,
		LogPath:        filepath.Join(m.logDir, "launchd.out.log"),
		ErrorLogPath:   filepath.Join(m.logDir, "launchd.err.log"),
	}

	tmpl, err := template.New("plist").Parse(launchAgentTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}

	return buf.Bytes(), nil
}

// Install writes and loads the plist. An outdated plist is reloaded.
func (m *LaunchdManagerImpl) Install(execPath string) error {
	if err := os.MkdirAll(m.plistDir, 0755); err != nil {
		return err
	}

	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}

	if m.IsInstalled() {
		// Ignore errors if not loaded
		_ = m.launchctl("unload", m.plistPath)
	}

	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}

	if err := m.launchctl("load", m.plistPath); err != nil {
		return fmt.Errorf("failed to load launch agent: %w", err)
	}
	return nil
}

// Uninstall unloads and removes the plist.
func (m *LaunchdManagerImpl) Uninstall() error {
	// Ignore errors if not loaded
	_ = m.launchctl("unload", m.plistPath)

	err := os.Remove(m.plistPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsInstalled checks if plist is installed.
func (m *LaunchdManagerImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate checks if plist exists but has different content than expected.
func (m *LaunchdManagerImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false // Doesn't exist, needs install not update
	}

	currentContent, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}

	expectedContent, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}

	return !bytes.Equal(currentContent, expectedContent)
}

// GetPlistPath returns the plist file path.
func (m *LaunchdManagerImpl) GetPlistPath() string {
	return m.plistPath
}

// Ensure LaunchdManagerImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchdManagerImpl)(nil)
