package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/detectra/detectra/internal/config"
	"github.com/detectra/detectra/internal/engine"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Sessions *Sessions
	Guidance *engine.Guidance
	Logger   *slog.Logger
}

// Server wraps the browser-facing HTTP server and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
}

// NewServer constructs an HTTP server bound to the configured address.
func NewServer(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session registry not configured")
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	// Background predictions outlive their HTTP request but not the server.
	baseCtx, cancel := context.WithCancel(context.Background())
	h := newHandler(baseCtx, cfg, deps)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Handler:           h.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: lis,
		cancel:   cancel,
	}, nil
}

// Start serves incoming requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.httpServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown attempts a graceful shutdown, falling back to Close after timeout.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	s.cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
