// File: internal/server/server.go

// Package server exposes the HTTP surface of the daemon: task submission and
// status, the agent control socket, and housekeeping endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nulltrace0/webagentd/internal/config"
	"github.com/nulltrace0/webagentd/internal/registry"
)

// AgentSocket is the slice of the link the server needs: the upgrade handler
// plus connection state for the info endpoint.
type AgentSocket interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	Connected() bool
}

// TaskSubmitter starts execution of a created task.
type TaskSubmitter interface {
	Submit(ctx context.Context, task *registry.Task)
}

// Server hosts the request surface. Task workers are bound to the context
// passed at construction, so cancelling it cancels every running task.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	socket   AgentSocket
	registry *registry.Registry
	engine   TaskSubmitter
	version  string

	// baseCtx is the parent of every task's context.
	baseCtx context.Context
	limiter *rate.Limiter

	httpServer *http.Server
}

// New assembles the Server. baseCtx governs the lifetime of submitted tasks.
func New(baseCtx context.Context, cfg config.ServerConfig, socket AgentSocket, reg *registry.Registry, eng TaskSubmitter, version string, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		socket:   socket,
		registry: reg,
		engine:   eng,
		version:  version,
		baseCtx:  baseCtx,
		limiter:  rate.NewLimiter(rate.Limit(cfg.ExecuteRate), cfg.ExecuteBurst),
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: s.router(),
		// ReadTimeout alone; a write timeout would sever the long-lived agent
		// socket after the handshake.
		ReadHeaderTimeout: cfg.ReadTimeout,
	}
	return s
}

// router builds the route table. The control socket is registered outside the
// middleware group so the request logger and timeout never touch the upgrade.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.socket.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.WriteTimeout))

		r.Get("/", s.handleInfo)
		r.Post("/execute", s.handleExecute)
		r.Get("/status/{taskID}", s.handleStatus)
		r.Get("/tasks", s.handleListTasks)
		r.Delete("/task/{taskID}", s.handleDeleteTask)
		r.Post("/cleanup", s.handleCleanup)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown did not finish cleanly", zap.Error(err))
		return err
	}
	<-errCh
	return nil
}
