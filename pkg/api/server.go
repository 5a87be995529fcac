// Package api exposes the relay's operational HTTP surface: a health
// probe, the Prometheus endpoint, and a WebSocket firehose of bus
// notifications.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/relay/pkg/bus"
)

// Pinger probes the durable store and reports round-trip latency.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Options configures the ops server.
type Options struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Pinger backs the /health probe. Optional; without one the probe
	// reports only the process as healthy.
	Pinger Pinger

	// Receiver feeds the /ws firehose. Optional; without one /ws returns
	// 503.
	Receiver bus.Receiver

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the ops HTTP server.
type Server struct {
	opts    Options
	engine  *gin.Engine
	handler http.Handler
	http    *http.Server
}

// NewServer builds the server and its routes. The WebSocket endpoint is
// mounted on a plain mux in front of gin: the upgrade must hijack the raw
// connection, and gin's response writer refuses to hijack once it has
// written.
func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		opts:   opts,
		engine: engine,
	}

	engine.GET("/health", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.wsHandler)
	mux.Handle("/", engine)
	s.handler = mux

	return s
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start runs the server until Shutdown is called or the listener fails.
// Blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Starting ops server", "addr", s.opts.Addr)

	err := s.http.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully, waiting for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	slog.Info("Shutting down ops server")
	return s.http.Shutdown(ctx)
}
