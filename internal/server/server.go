// File: internal/server/server.go

// Package server exposes the WebSocket endpoint device sessions connect to,
// plus a small HTTP API for inspecting recorded tasks.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/taskstore"
	"github.com/xkilldash9x/droidpilot/internal/transport"
)

// TaskRunner runs one task loop to completion. The orchestrator implements
// it.
type TaskRunner interface {
	RunTask(ctx context.Context, sessionID, goal string) *schemas.TaskResult
}

// Server owns the HTTP listener, the connection manager and the per-session
// task bookkeeping.
type Server struct {
	cfg        config.ServerConfig
	logger     *zap.Logger
	manager    *transport.Manager
	orch       TaskRunner
	store      taskstore.Store
	upgrader   websocket.Upgrader
	sessions   *sessionTable
	httpServer *http.Server
}

// New assembles the server around an existing transport manager and task
// runner.
func New(cfg config.ServerConfig, manager *transport.Manager, orch TaskRunner, store taskstore.Store, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		manager: manager,
		orch:    orch,
		store:   store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Device clients connect from app contexts without a browser
			// origin; the session id is the admission control.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: newSessionTable(),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws/v1/session", s.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/healthz", s.handleHealthz)
		r.Get("/api/v1/tasks/{taskID}", s.handleGetTask)
		r.Get("/api/v1/tasks/{taskID}/steps", s.handleGetTaskSteps)
	})
	return r
}

// Start runs the listener until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Server listening.", zap.String("address", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down server.")
		s.sessions.cancelAll()
		// Shutdown does not touch hijacked WebSocket connections; close them
		// so the session read loops drain.
		for _, id := range s.sessions.ids() {
			s.manager.CancelSession(id)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	rec, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		s.logger.Error("Task lookup failed.", zap.String("task_id", taskID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleGetTaskSteps(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	steps, err := s.store.ListSteps(r.Context(), taskID)
	if err != nil {
		s.logger.Error("Step lookup failed.", zap.String("task_id", taskID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, steps)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
