// Package server is the HTTP gateway between clients and the agent backend.
//
// Routes:
//
//	POST /v1/stream     forward the body upstream, stream events back as SSE
//	GET  /v1/stream/ws  same over WebSocket; the first client message is the body
//	POST /v1/extract    recover records from a text body
//	GET  /healthz       liveness
//	GET  /metrics       Prometheus exposition
//
// Every stream owns its own runtime.Stream, policy, collector and optional
// capture. Nothing is shared between streams except the recovery engine,
// which is immutable.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/sluice/adapter"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/policy"
	"github.com/pithecene-io/sluice/recovery"
)

const (
	// DefaultMaxRequestBytes caps a /v1/stream request body.
	DefaultMaxRequestBytes = 1 << 20
	// DefaultMaxExtractBytes caps a /v1/extract request body.
	DefaultMaxExtractBytes = 8 << 20

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	wsRequestTimeout  = 30 * time.Second
)

// UpstreamConfig locates the agent backend.
type UpstreamConfig struct {
	// URL receives the forwarded request body as a POST (required).
	URL string
	// Headers are added to every upstream request.
	Headers map[string]string
	// Timeout bounds connecting and receiving response headers. The body
	// is bounded by the stream idle timeout instead.
	Timeout time.Duration
}

// Config configures the gateway.
type Config struct {
	Upstream UpstreamConfig
	Policy   policy.Choice

	// IdleTimeout finalizes a stream when the upstream stays silent.
	IdleTimeout time.Duration
	// MaxBufferBytes bounds unconsumed upstream bytes per stream.
	MaxBufferBytes int
	// WriteTimeout bounds a single write to the client.
	WriteTimeout time.Duration
	// Progressive publishes records as they become recoverable.
	Progressive bool
	// CaptureDir, if set, records every upstream stream for replay.
	CaptureDir string
	// NotifyTimeout bounds the completion notification.
	NotifyTimeout time.Duration

	MaxRequestBytes int64
	MaxExtractBytes int64
}

// Options carries the collaborators of a Server.
type Options struct {
	// Logger defaults to a service logger at info level.
	Logger *log.Logger
	// Recovery defaults to an engine with recovery.DefaultConfig.
	Recovery *recovery.Engine
	// Adapter, if set, is notified when each stream completes.
	Adapter adapter.Adapter
	// Registry receives the gateway metrics. Defaults to a fresh registry.
	Registry *prometheus.Registry
	// Client is used for upstream requests.
	Client *http.Client
	// NewID generates stream ids. Defaults to uuid.NewString.
	NewID func() string
}

// Server is the HTTP gateway.
type Server struct {
	cfg      Config
	logger   *log.Logger
	engine   *recovery.Engine
	adapter  adapter.Adapter
	registry *prometheus.Registry
	exporter *metrics.Exporter
	client   *http.Client
	newID    func() string
	upgrader websocket.Upgrader

	// notifications tracks in-flight completion notifications.
	notifications sync.WaitGroup
}

// New validates cfg and builds a Server.
func New(cfg Config, opts Options) (*Server, error) {
	if cfg.Upstream.URL == "" {
		return nil, errors.New("server requires an upstream URL")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Policy.Name == policy.NameNoop {
		return nil, errors.New("noop policy cannot serve clients")
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if cfg.MaxExtractBytes <= 0 {
		cfg.MaxExtractBytes = DefaultMaxExtractBytes
	}

	s := &Server{
		cfg:      cfg,
		logger:   opts.Logger,
		engine:   opts.Recovery,
		adapter:  opts.Adapter,
		registry: opts.Registry,
		client:   opts.Client,
		newID:    opts.NewID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
	if s.logger == nil {
		s.logger = log.NewServiceLogger("server", zapcore.InfoLevel)
	}
	if s.engine == nil {
		engine, err := recovery.New(recovery.DefaultConfig())
		if err != nil {
			return nil, err
		}
		s.engine = engine
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.exporter = metrics.NewExporter(s.registry)
	if s.client == nil {
		s.client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Upstream.Timeout,
			},
		}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// Handler returns the gateway's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/stream/ws", s.handleStreamWS)
	mux.HandleFunc("POST /v1/extract", s.handleExtract)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe listens on addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down gracefully and waits
// for pending completion notifications.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	s.logger.Info("gateway listening", map[string]any{
		"addr":     ln.Addr().String(),
		"upstream": s.cfg.Upstream.URL,
		"policy":   s.cfg.Policy.Name,
	})

	select {
	case err := <-errCh:
		s.notifications.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", map[string]any{"error": err.Error()})
	}
	s.notifications.Wait()
	s.logger.Info("gateway stopped", nil)
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}
