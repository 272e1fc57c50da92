package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream serves websocket notifications and Prometheus metrics on a net/http listener
// next to the fiber API.
type Stream struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewStream builds the stream listener.
func NewStream(c *Components) *Stream {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/ws", c.Hub)
	r.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Stream{
		srv: &http.Server{
			Addr:              c.Cfg.StreamAddress(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: c.Logger,
	}
}

// Handler exposes the router.
func (s *Stream) Handler() http.Handler {
	return s.srv.Handler
}

// Listen starts serving until Shutdown.
func (s *Stream) Listen() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Stream) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
