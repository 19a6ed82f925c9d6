package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

const (
	// LaunchdLabel is the LaunchAgent label of the daemon.
	LaunchdLabel = "com.focusforge.daemon"

	defaultDataDirName = ".focusforge"
)

// Paths holds the per-user locations of the daemon's files.
type Paths struct {
	DataDir    string // state stores, key, registry, config
	ConfigFile string
	LogFile    string
	PlistDir   string
	PlistPath  string
}

// DetectPaths returns the locations for the current user.
// Under sudo, the invoking user's home is used.
func DetectPaths() *Paths {
	return PathsForHome(GetRealUserHome())
}

// PathsForHome returns the locations rooted at home (for testing).
func PathsForHome(home string) *Paths {
	dataDir := filepath.Join(home, defaultDataDirName)
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	return &Paths{
		DataDir:    dataDir,
		ConfigFile: filepath.Join(dataDir, "config.yaml"),
		LogFile:    filepath.Join(dataDir, "focusforge.log"),
		PlistDir:   plistDir,
		PlistPath:  filepath.Join(plistDir, LaunchdLabel+".plist"),
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
