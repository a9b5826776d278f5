// Package http provides the optional status server for hlssplit.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/hlssplit/internal/http/handlers"
	"github.com/jmylchreest/hlssplit/internal/http/middleware"
	"github.com/jmylchreest/hlssplit/internal/observability"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Addr is the host:port to listen on.
	Addr string
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration
	// ShutdownTimeout is the maximum duration to wait for active connections to close.
	ShutdownTimeout time.Duration
	// OutputDir is reported by the health endpoint.
	OutputDir string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:            addr,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is the status HTTP server.
type Server struct {
	config     ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a status server exposing /status, /health and
// /log-level. The version is used in the OpenAPI document.
func NewServer(config ServerConfig, status handlers.StatusProvider, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "http")
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(chimiddleware.Compress(5))

	humaConfig := huma.DefaultConfig("hlssplit status API", version)
	humaConfig.Info.Description = "Live status of an HLS recording"
	api := humachi.New(router, humaConfig)

	handlers.NewStatusHandler(status).Register(api)
	handlers.NewHealthHandler(version, config.OutputDir).Register(api)
	handlers.NewSettingsHandler().Register(api)

	return &Server{
		config:     config,
		router:     router,
		api:        api,
		logger:     logger,
		httpServer: &http.Server{
			Addr:         config.Addr,
			Handler:      router,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the Chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting status server", slog.String("address", l.Addr().String()))

	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving status: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("status server stopped")
	return nil
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled. Binding errors are returned before serving starts.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr, err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Serve(l)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
