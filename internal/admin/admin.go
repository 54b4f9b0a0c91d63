// Package admin serves the health and metrics endpoints of a long-running
// raid6ctl process.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tunnelmesh/raid6/internal/metrics"
)

// Server exposes /health and /metrics over plain HTTP.
type Server struct {
	server  *http.Server
	mux     *http.ServeMux
	healthy atomic.Bool
}

// NewServer creates a server that exports reg.
func NewServer(reg *prometheus.Registry) *Server {
	s := &Server{mux: http.NewServeMux()}
	s.healthy.Store(true)

	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.Handle("/metrics", metrics.HandlerFor(reg))
	return s
}

// SetHealthy changes what /health reports. The scrubber marks the process
// unhealthy while unrecoverable stripes exist.
func (s *Server) SetHealthy(ok bool) {
	s.healthy.Store(ok)
}

// Healthy reports the current health state.
func (s *Server) Healthy() bool {
	return s.healthy.Load()
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr asks for port 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", ln.Addr().String()).Msg("admin server stopped")
		}
	}()

	return ln.Addr().String(), nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.healthy.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("degraded\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
