package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mycoria/tunstat/mgr"
)

// Server serves the metrics via HTTP.
type Server struct {
	mgr *mgr.Manager

	metrics  *Metrics
	mux      *http.ServeMux
	listen   string
	listener net.Listener
	server   *http.Server
}

// NewServer returns a new metrics server for the given listen address.
func NewServer(metrics *Metrics, listen string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	return &Server{
		mgr:     mgr.New("metrics"),
		metrics: metrics,
		mux:     mux,
		listen:  listen,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Manager returns the module manager.
func (s *Server) Manager() *mgr.Manager {
	return s.mgr
}

// Handle registers an additional handler.
// Must be called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Addr returns the address the server listens on.
// Only valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start starts listening and serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	s.listener = ln

	s.mgr.Info("serving metrics", "addr", ln.Addr().String(), "path", "/metrics")
	s.mgr.Go("http server", s.serve)
	return nil
}

// Stop shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.mgr.Cancel()
	if err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

func (s *Server) serve(w *mgr.WorkerCtx) error {
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	// Listener is gone, a restart would fail too.
	w.Error("metrics server failed", "err", err)
	return nil
}
