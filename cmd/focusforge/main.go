// Package main is the CLI entry point for focusforge.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/focusforge/internal/api"
	"github.com/eliteGoblin/focusd/focusforge/internal/config"
	"github.com/eliteGoblin/focusd/focusforge/internal/daemon"
	"github.com/eliteGoblin/focusd/focusforge/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "focusforge",
	Short: "Focus timer with breaks and periodic lockouts",
	Long: `focusforge runs a focus timer in a background daemon. Each focus
session ends in a break, and every Nth session ends in a lockout that
lasts until the timer is stopped.

Pages registered with 'focusforge page' receive the break and lockout
overlays; 'focusforge watch' shows the live countdown.`,
	Version:      Version,
	SilenceUsage: true,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the timer daemon",
	Long: `Runs the timer daemon in the foreground. With --detach the daemon is
started in its own session and this command returns once it is serving.`,
	RunE: runDaemon,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a LaunchAgent so the daemon starts on login",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the LaunchAgent",
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE:  runConfigInit,
}

var (
	flagDataDir    string
	flagListenAddr string
	flagStore      string
	flagLogLevel   string

	detach      bool
	jsonOutput  bool
	forceConfig bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDataDir, "data-dir", "", "Data directory (default ~/.focusforge)")
	pf.StringVar(&flagListenAddr, "listen-addr", "", "Daemon listen address")
	pf.StringVar(&flagStore, "store", "", "State store backend (file, sqlite, encrypted)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	daemonCmd.Flags().BoolVar(&detach, "detach", false, "Start the daemon in the background")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	configInitCmd.Flags().BoolVar(&forceConfig, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd, configInitCmd)

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pageCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func resolveConfig() (*config.Config, error) {
	return config.Resolve(config.Overrides{
		DataDir:    flagDataDir,
		ListenAddr: flagListenAddr,
		Store:      flagStore,
		LogLevel:   flagLogLevel,
	}, os.Getenv)
}

// passthroughFlags repeats the global flags given on this command line.
func passthroughFlags() []string {
	var args []string
	for name, value := range map[string]string{
		"data-dir":    flagDataDir,
		"listen-addr": flagListenAddr,
		"store":       flagStore,
		"log-level":   flagLogLevel,
	} {
		if value != "" {
			args = append(args, "--"+name, value)
		}
	}
	return args
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileDaemonRegistry(cfg.DataDir, pm)

	if detach {
		pid, err := daemon.StartDetached(passthroughFlags()...)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		entry, err := daemon.WaitReady(ctx, registry, pid)
		if err != nil {
			return fmt.Errorf("daemon (pid %d) did not become ready: %w", pid, err)
		}
		fmt.Printf("focusforge daemon running (pid %d) on %s\n", entry.PID, entry.ListenAddr)
		return nil
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	store, err := infra.OpenStore(cfg.Store, cfg.DataDir, logger.Named("store"))
	if err != nil {
		logger.Error("failed to open state store", zap.Error(err))
		return err
	}

	d := daemon.New(daemon.Config{
		ListenAddr:        cfg.ListenAddr,
		AppVersion:        Version,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ShutdownTimeout:   daemon.DefaultConfig().ShutdownTimeout,
	}, store, registry, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Println("focusforge daemon is already running")
		}
		return err
	}
	return nil
}

func createLogger(cfg *config.Config) *zap.Logger {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0700); err != nil {
		logger, _ := zap.NewProduction()
		return logger
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	zc.OutputPaths = []string{cfg.LogFile}
	zc.ErrorOutputPaths = []string{strings.TrimSuffix(cfg.LogFile, filepath.Ext(cfg.LogFile)) + ".error.log"}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// newClient finds the running daemon through the registry, falling back
// to the configured address.
func newClient(cfg *config.Config) *api.Client {
	registry := infra.NewFileDaemonRegistry(cfg.DataDir, infra.NewProcessManager())
	if entry, err := registry.Get(); err == nil && entry != nil && entry.ListenAddr != "" {
		if alive, _ := registry.IsAlive(); alive {
			return api.NewClient(entry.ListenAddr)
		}
	}
	return api.NewClient(cfg.ListenAddr)
}

func launchdManager(cfg *config.Config) *infra.LaunchdManagerImpl {
	paths := infra.DetectPaths()
	paths.DataDir = cfg.DataDir
	return infra.NewLaunchdManager(paths)
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	m := launchdManager(cfg)
	if m.IsInstalled() && !m.NeedsUpdate(execPath) {
		fmt.Printf("LaunchAgent already installed at %s\n", m.GetPlistPath())
		return nil
	}
	if err := m.Install(execPath); err != nil {
		return err
	}
	fmt.Printf("Installed LaunchAgent at %s\n", m.GetPlistPath())
	fmt.Println("The daemon starts on login and is restarted if it exits.")
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	m := launchdManager(cfg)
	if !m.IsInstalled() {
		fmt.Println("LaunchAgent is not installed")
		return nil
	}
	if err := m.Uninstall(); err != nil {
		return err
	}
	fmt.Println("Removed LaunchAgent")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(raw))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.DataDir, config.FileName)
	if _, err := os.Stat(path); err == nil && !forceConfig {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.DefaultConfig(cfg.DataDir)); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("focusforge %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
