// Package server hosts the HTTP routers of the service
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/hostrouter"

	"github.com/baely/abd/internal/common/errors"
)

const (
	defaultAddr            = ":3000"
	defaultShutdownTimeout = 10 * time.Second
)

// Config contains configuration for the Server
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server routes requests to a router by host name
type Server struct {
	*http.Server

	hostRouter      hostrouter.Routes
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// New creates a new Server
func New(cfg Config) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = defaultAddr
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	hr := hostrouter.New()

	s := &Server{
		Server: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		hostRouter:      hr,
		shutdownTimeout: timeout,
		logger:          log,
	}

	r := chi.NewRouter()
	r.Mount("/", hr)
	s.Server.Handler = r

	return s
}

// RegisterDomain serves router for requests addressed to domain
func (s *Server) RegisterDomain(domain string, router chi.Router) {
	s.hostRouter.Map(domain, router)
}

// RegisterFallback serves router for hosts no domain matched
func (s *Server) RegisterFallback(router chi.Router) {
	s.hostRouter.Map("*", router)
}

// Run serves until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Wrap(err, "listen on %s", s.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "addr", ln.Addr().String())
		errCh <- s.Server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server", "timeout", s.shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
