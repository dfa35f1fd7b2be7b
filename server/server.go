// Package server exposes a ChunkStore over HTTP.
//
// Routes:
//
//	POST /upload                  store one unit (Chunk-Index, Original-Filename)
//	POST /finalize                reassemble an artifact (Original-Filename)
//	GET  /artifacts/{id}          stored units and completion state
//	GET  /artifacts/{id}/content  assembled bytes of a finalized artifact
//	GET  /metrics                 collector snapshot
//	GET  /healthz                 liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pithecene-io/tessera/log"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:5000"

// Config configures a Server.
type Config struct {
	// Addr is the TCP listen address (default 127.0.0.1:5000).
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *log.Logger
}

// Server runs a Handler on a TCP listener.
type Server struct {
	handler    *Handler
	httpServer *http.Server
	listener   net.Listener
	logger     *log.Logger
	errc       chan error
}

// New creates a server for handler.
func New(cfg Config, handler *Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server requires a handler")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Minute
	}
	return &Server{
		handler: handler,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 30 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: cfg.Logger,
		errc:   make(chan error, 1),
	}, nil
}

// Start begins listening. Serve errors are reported by Wait.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener
	s.logger.Info("server started", map[string]any{"addr": listener.Addr().String()})

	go func() {
		err := s.httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.errc <- err
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Wait blocks until the server stops serving or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case err := <-s.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting requests, drains in-flight ones and flushes
// pending finalize notifications.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server", nil)
	err := s.httpServer.Shutdown(ctx)
	if closeErr := s.handler.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
