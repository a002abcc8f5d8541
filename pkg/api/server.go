package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
)

// Server serves the control API for one mount.
type Server struct {
	http   *http.Server
	config APIConfig

	mu       sync.Mutex
	listener net.Listener
	stopOnce sync.Once
	stopErr  error
}

// NewServer builds a stopped server. mount may be nil, leaving only the
// probes and /metrics.
func NewServer(config APIConfig, mount handlers.Mount) *Server {
	config.ApplyDefaults()
	return &Server{
		config: config,
		http: &http.Server{
			Addr:         config.Address(),
			Handler:      NewRouter(mount),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Start listens and serves until ctx is cancelled, then shuts down within
// the configured shutdown timeout. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.http.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	logger.Info("API server listening", "addr", ln.Addr().String())

	served := make(chan error, 1)
	go func() { served <- s.http.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	// ctx is already done; shutdown gets its own deadline.
	sctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(sctx)
}

// Stop drains in-flight requests. Only the first call does anything; later
// calls return its result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("api: shutdown: %w", err)
			logger.Warn("API server shutdown incomplete", logger.Err(err))
			return
		}
		logger.Info("API server stopped")
	})
	return s.stopErr
}

// Addr is the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Port() int { return s.config.Port }
