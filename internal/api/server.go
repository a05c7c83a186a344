package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/portfoliostack/portfolio-engine/internal/config"
)

// Server wraps the HTTP server and its lifecycle helpers. The listener is
// bound at construction so misconfigured addresses fail at startup.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	listener   net.Listener
}

// NewServer constructs an HTTP server bound to the configured address.
func NewServer(cfg config.ServerConfig, handler http.Handler) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	return &Server{
		cfg:        cfg,
		httpServer: &http.Server{Handler: handler},
		listener:   lis,
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

// Shutdown attempts a graceful shutdown, falling back to Close when the
// context expires first.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
	}
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return s.cfg.Address
	}
	return s.listener.Addr().String()
}
