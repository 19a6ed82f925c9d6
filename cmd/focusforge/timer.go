package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/agent"
	"github.com/eliteGoblin/focusd/focusforge/internal/api"
	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
	"github.com/eliteGoblin/focusd/focusforge/internal/tui"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a focus session",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the timer from any phase",
	Long: `Stops the timer and returns to idle, ending a focus session, a break
or a lockout. When an unlock password is set it must be given with --password.`,
	RunE: runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer phase and daemon status",
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show the live countdown",
	RunE:  runWatch,
}

var pageCmd = &cobra.Command{
	Use:   "page",
	Short: "Register a page and render the overlays it receives",
	Long: `Registers a page with the daemon and prints the break and lockout
overlays injected into it until interrupted.`,
	RunE: runPage,
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the timer settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the timer settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the timer settings",
	Long: `Changes the given settings and leaves the rest untouched. A running
session keeps its end time; new durations apply from the next session.
When an unlock password is set, --current-password is required.`,
	RunE: runSettingsSet,
}

var (
	stopPassword string

	pageURL    string
	pageActive bool

	setFocus           int
	setBreak           int
	setCycles          int
	setPassword        string
	setCurrentPassword string
)

func init() {
	stopCmd.Flags().StringVar(&stopPassword, "password", "", "Unlock password")

	pageCmd.Flags().StringVar(&pageURL, "url", "", "Page URL")
	pageCmd.Flags().BoolVar(&pageActive, "active", true, "Page is the focused page")
	_ = pageCmd.MarkFlagRequired("url")

	f := settingsSetCmd.Flags()
	f.IntVar(&setFocus, "focus", 0, "Focus duration in minutes")
	f.IntVar(&setBreak, "break", 0, "Break duration in minutes")
	f.IntVar(&setCycles, "cycles", 0, "Focus sessions before a lockout")
	f.StringVar(&setPassword, "password", "", "New unlock password (empty clears it)")
	f.StringVar(&setCurrentPassword, "current-password", "", "Current unlock password")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), api.DefaultClientTimeout)
}

// describeError turns transport errors into CLI messages.
func describeError(err error) error {
	var se *api.StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusForbidden {
			return fmt.Errorf("unlock refused: %s", se.Message)
		}
		return err
	}
	return fmt.Errorf("daemon not reachable (run 'focusforge daemon --detach'): %w", err)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	client := newClient(cfg)
	ctx, cancel := requestContext()
	defer cancel()

	if err := client.Start(ctx); err != nil {
		return describeError(err)
	}
	record, err := client.TimerData(ctx)
	if err != nil {
		return describeError(err)
	}
	fmt.Printf("Focus session started, ends at %s\n", record.EndAt().Local().Format(time.Kitchen))
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	if err := newClient(cfg).Stop(ctx, stopPassword); err != nil {
		return describeError(err)
	}
	fmt.Println("Timer stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	client := newClient(cfg)
	ctx, cancel := requestContext()
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		fmt.Println("\n=== focusforge Status ===")
		fmt.Println("Daemon: NOT RUNNING")
		fmt.Println("\nRun 'focusforge daemon --detach' to start it.")
		return nil
	}
	record, err := client.TimerData(ctx)
	if err != nil {
		return describeError(err)
	}
	writeStatus(os.Stdout, health, record, time.Now())
	return nil
}

func writeStatus(w io.Writer, health *api.HealthResponse, record domain.TimerRecord, now time.Time) {
	fmt.Fprintln(w, "\n=== focusforge Status ===")
	fmt.Fprintf(w, "Daemon: RUNNING (pid %d, version %s)\n", health.PID, health.Version)
	fmt.Fprintf(w, "Phase: %s\n", record.State)
	if record.State.Timed() {
		fmt.Fprintf(w, "Remaining: %s\n", domain.FormatClock(record.Remaining(now)))
	}
	fmt.Fprintf(w, "Completed sessions since lockout: %d\n", health.CycleCount)
	fmt.Fprintf(w, "Listeners: %d surfaces, %d pages\n", health.Surfaces, health.Pages)
	fmt.Fprintln(w, "=========================")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return tui.Run(ctx, newClient(cfg))
}

func runPage(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	client := newClient(cfg)

	reqCtx, reqCancel := requestContext()
	tab, err := client.OpenPage(reqCtx, pageURL, pageActive)
	reqCancel()
	if err != nil {
		return describeError(err)
	}
	defer func() {
		ctx, cancel := requestContext()
		defer cancel()
		_ = client.ClosePage(ctx, tab.ID)
	}()
	fmt.Printf("Page %s registered for %s\n", tab.ID, tab.URL)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	a := agent.New(client, os.Stdout, logger.Named("agent"))
	err = a.Run(ctx, func(ctx context.Context, fn func(domain.Message) error) error {
		return client.PageEvents(ctx, tab.ID, fn)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("page stream ended: %w", err)
	}
	return nil
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()

	view, err := newClient(cfg).Settings(ctx)
	if err != nil {
		return describeError(err)
	}
	writeSettings(os.Stdout, view)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	u := settingsUpdate(cmd)
	ctx, cancel := requestContext()
	defer cancel()

	view, err := newClient(cfg).UpdateSettings(ctx, u)
	if err != nil {
		return describeError(err)
	}
	writeSettings(os.Stdout, view)
	return nil
}

// settingsUpdate builds a partial update from the flags that were given.
func settingsUpdate(cmd *cobra.Command) domain.SettingsUpdate {
	u := domain.SettingsUpdate{CurrentPassword: setCurrentPassword}
	flags := cmd.Flags()
	if flags.Changed("focus") {
		u.FocusDurationMinutes = &setFocus
	}
	if flags.Changed("break") {
		u.BreakDurationMinutes = &setBreak
	}
	if flags.Changed("cycles") {
		u.CyclesBeforeLockout = &setCycles
	}
	if flags.Changed("password") {
		u.Password = &setPassword
	}
	return u
}

func writeSettings(w io.Writer, view *api.SettingsView) {
	fmt.Fprintf(w, "Focus duration:  %d min\n", view.FocusDurationMinutes)
	fmt.Fprintf(w, "Break duration:  %d min\n", view.BreakDurationMinutes)
	fmt.Fprintf(w, "Lockout every:   %d sessions\n", view.CyclesBeforeLockout)
	if view.PasswordSet {
		fmt.Fprintln(w, "Unlock password: set")
	} else {
		fmt.Fprintln(w, "Unlock password: not set")
	}
}
