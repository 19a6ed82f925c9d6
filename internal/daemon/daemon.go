// Package daemon runs the long-lived timer host process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/api"
	"github.com/eliteGoblin/focusd/focusforge/internal/broadcast"
	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
	"github.com/eliteGoblin/focusd/focusforge/internal/scheduler"
	"github.com/eliteGoblin/focusd/focusforge/internal/usecase"
)

// ErrAlreadyRunning is returned when another live daemon is registered.
var ErrAlreadyRunning = errors.New("daemon already running")

// Config holds daemon loop settings.
type Config struct {
	ListenAddr        string
	AppVersion        string
	HeartbeatInterval time.Duration // How often to update the registry heartbeat
	ShutdownTimeout   time.Duration // How long in-flight requests get on shutdown
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        "127.0.0.1:7425",
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Daemon owns the controller, its scheduler and hub, and the HTTP transport.
type Daemon struct {
	config     Config
	store      domain.StateStore
	registry   domain.DaemonRegistry
	scheduler  *scheduler.AlarmScheduler
	hub        *broadcast.Hub
	controller *usecase.Controller
	server     *api.Server
	ready      chan struct{}
	logger     *zap.Logger
}

// New wires a daemon on store. The daemon takes ownership of store and closes it on exit.
func New(config Config, store domain.StateStore, registry domain.DaemonRegistry, logger *zap.Logger) *Daemon {
	sched := scheduler.New(logger.Named("scheduler"))
	hub := broadcast.NewHub(logger.Named("broadcast"))
	controller := usecase.NewController(store, sched, hub, hub, logger.Named("controller"))

	return &Daemon{
		config:     config,
		store:      store,
		registry:   registry,
		scheduler:  sched,
		hub:        hub,
		controller: controller,
		server:     api.NewServer(controller, hub, config.ListenAddr, config.AppVersion, logger.Named("api")),
		ready:      make(chan struct{}),
		logger:     logger,
	}
}

// Ready is closed once the daemon is serving and registered.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the bound listen address (valid after Ready).
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Run seeds and restores the timer, serves the transport and keeps the
// registry heartbeat fresh. This blocks until context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.close()

	if err := d.checkNotRunning(); err != nil {
		return err
	}

	seeded, err := d.controller.Seed(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed state: %w", err)
	}
	if err := d.controller.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore timer: %w", err)
	}

	if err := d.server.Listen(); err != nil {
		return err
	}

	info := domain.Daemon{
		PID:        os.Getpid(),
		ListenAddr: d.server.Addr(),
		AppVersion: d.config.AppVersion,
		StartedAt:  time.Now(),
	}
	if err := d.registry.Register(info); err != nil {
		d.logger.Error("failed to register daemon", zap.Error(err))
		return err
	}
	defer func() {
		if err := d.registry.Clear(); err != nil {
			d.logger.Warn("failed to clear registry", zap.Error(err))
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.server.Serve() }()

	d.logger.Info("daemon started",
		zap.Int("pid", info.PID),
		zap.String("addr", info.ListenAddr),
		zap.Bool("seeded", seeded),
		zap.String("state", string(d.controller.Snapshot(ctx).State)))
	close(d.ready)

	heartbeatTicker := time.NewTicker(d.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			return d.shutdown()

		case err := <-serveErr:
			if err != nil {
				d.logger.Error("command transport failed", zap.Error(err))
				return err
			}
			return nil

		case <-heartbeatTicker.C:
			if err := d.registry.UpdateHeartbeat(); err != nil {
				d.logger.Warn("failed to update heartbeat", zap.Error(err))
			}
		}
	}
}

// checkNotRunning refuses to start next to a live daemon. A stale entry is overwritten.
func (d *Daemon) checkNotRunning() error {
	entry, err := d.registry.Get()
	if err != nil {
		d.logger.Warn("unreadable registry, overwriting", zap.Error(err))
		return nil
	}
	if entry == nil || entry.PID == os.Getpid() {
		return nil
	}
	alive, err := d.registry.IsAlive()
	if err != nil {
		return nil
	}
	if alive {
		return fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, entry.PID, entry.ListenAddr)
	}
	d.logger.Info("replacing stale daemon registration", zap.Int("stale_pid", entry.PID))
	return nil
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// close stops pending wake-ups before the store goes away.
func (d *Daemon) close() {
	d.scheduler.Close()
	if err := d.store.Close(); err != nil {
		d.logger.Warn("failed to close store", zap.Error(err))
	}
}
