// Package api is the daemon's local command transport: JSON commands over
// HTTP and server-sent event streams for listeners.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/focusforge/internal/broadcast"
	"github.com/eliteGoblin/focusd/focusforge/internal/domain"
	"github.com/eliteGoblin/focusd/focusforge/internal/usecase"
)

// keepAliveInterval is how often idle event streams get a comment line.
const keepAliveInterval = 15 * time.Second

// SettingsView is the settings record with the credential redacted.
type SettingsView struct {
	FocusDurationMinutes int  `json:"focusDuration"`
	BreakDurationMinutes int  `json:"breakDuration"`
	CyclesBeforeLockout  int  `json:"blueScreenCycles"`
	PasswordSet          bool `json:"passwordSet"`
}

// NewSettingsView redacts s.
func NewSettingsView(s domain.Settings) SettingsView {
	return SettingsView{
		FocusDurationMinutes: s.FocusDurationMinutes,
		BreakDurationMinutes: s.BreakDurationMinutes,
		CyclesBeforeLockout:  s.CyclesBeforeLockout,
		PasswordSet:          s.Credential() != nil,
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	OK         bool   `json:"ok"`
	Version    string `json:"version"`
	PID        int    `json:"pid"`
	State      string `json:"state"`
	CycleCount int    `json:"cycleCount"`
	Surfaces   int    `json:"surfaces"`
	Pages      int    `json:"pages"`
	Time       string `json:"time"`
}

// PageRequest registers or updates a page. Omitted fields stay unchanged on update.
type PageRequest struct {
	URL    *string `json:"url,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// Server provides the HTTP API.
type Server struct {
	controller domain.TimerController
	hub        *broadcast.Hub
	addr       string
	version    string
	logger     *zap.Logger
	server     *http.Server
	listener   net.Listener
}

// NewServer creates a new HTTP server.
func NewServer(controller domain.TimerController, hub *broadcast.Hub, addr, version string, logger *zap.Logger) *Server {
	return &Server{
		controller: controller,
		hub:        hub,
		addr:       addr,
		version:    version,
		logger:     logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /command", s.handleCommand)
	mux.HandleFunc("GET /events", s.handleEvents)

	mux.HandleFunc("POST /pages", s.handleOpenPage)
	mux.HandleFunc("PATCH /pages/{id}", s.handleUpdatePage)
	mux.HandleFunc("DELETE /pages/{id}", s.handleClosePage)
	mux.HandleFunc("GET /pages/{id}/events", s.handlePageEvents)

	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)

	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Listen binds the listen address. Use Addr for the bound address (":0" picks a port).
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: event streams stay open.
	}
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Serve blocks until Shutdown. Returns nil after a clean shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("serving command transport", zap.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// --- Command handlers ---

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req domain.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.CommandResponse{Error: "invalid json"})
		return
	}
	ctx := r.Context()

	switch req.Command {
	case domain.CommandStartTimer:
		if _, err := s.controller.Start(ctx); err != nil {
			s.logger.Error("start failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, domain.CommandResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, domain.CommandResponse{Success: true})

	case domain.CommandStopTimer:
		_, err := s.controller.StopWithPassword(ctx, req.Password)
		if errors.Is(err, usecase.ErrInvalidPassword) {
			s.logger.Warn("stop rejected: invalid password")
			writeJSON(w, http.StatusForbidden, domain.CommandResponse{Error: err.Error()})
			return
		}
		if err != nil {
			s.logger.Error("stop failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, domain.CommandResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, domain.CommandResponse{Success: true})

	case domain.CommandGetTimerData:
		writeJSON(w, http.StatusOK, s.controller.Snapshot(ctx))

	default:
		writeJSON(w, http.StatusBadRequest, domain.CommandResponse{Error: fmt.Sprintf("unknown command %q", req.Command)})
	}
}

// handleEvents streams TIMER_UPDATED to a UI surface, starting with the current record.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	stream, ok := newEventStream(w)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub.ID)

	if err := stream.send(domain.TimerUpdated(s.controller.Snapshot(r.Context()))); err != nil {
		return
	}
	s.pump(r.Context(), stream, sub.C)
}

// --- Page handlers ---

func (s *Server) handleOpenPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.URL == nil {
		http.Error(w, "url required", http.StatusBadRequest)
		return
	}
	active := req.Active != nil && *req.Active

	tab := s.hub.OpenPage(*req.URL, active)
	writeJSON(w, http.StatusCreated, tab)
}

func (s *Server) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	tab, err := s.hub.UpdatePage(r.PathValue("id"), req.URL, req.Active)
	if errors.Is(err, broadcast.ErrPageNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) handleClosePage(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.ClosePage(r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePageEvents attaches the page's receiver for as long as the stream is open.
func (s *Server) handlePageEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ch, err := s.hub.Attach(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer s.hub.Detach(id, ch)

	stream, ok := newEventStream(w)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	s.pump(r.Context(), stream, ch)
}

// --- Settings handlers ---

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewSettingsView(s.controller.Settings(r.Context())))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var u domain.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	settings, err := s.controller.UpdateSettings(r.Context(), u)
	switch {
	case errors.Is(err, usecase.ErrInvalidPassword):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, domain.ErrInvalidSettings), errors.Is(err, usecase.ErrPasswordTooShort):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("settings update failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, NewSettingsView(settings))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	surfaces, pages := s.hub.Counts()
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:         true,
		Version:    s.version,
		PID:        os.Getpid(),
		State:      string(s.controller.Snapshot(r.Context()).State),
		CycleCount: s.controller.CycleCount(r.Context()),
		Surfaces:   surfaces,
		Pages:      pages,
		Time:       time.Now().UTC().Format(time.RFC3339),
	})
}

// pump copies messages to the stream until the client leaves or ch is closed.
func (s *Server) pump(ctx context.Context, stream *eventStream, ch <-chan domain.Message) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.send(msg); err != nil {
				s.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := stream.comment("keep-alive"); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
