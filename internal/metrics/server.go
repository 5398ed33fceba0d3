package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server exposes /metrics and /healthz while a crawl is running.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
	done   chan struct{}
}

// Router builds the chi router served by Server.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", Handler())
	return r
}

// Start listens on addr and serves in the background. The returned server
// must be shut down by the caller.
func Start(addr string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	Init()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		logger.Info("metrics server started", zap.String("addr", ln.Addr().String()))
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return s, nil
}

// Shutdown stops the listener and waits for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	if err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
