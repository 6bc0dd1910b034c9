package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rhuss/dolmetscher/pkg/auth"
	"github.com/rhuss/dolmetscher/pkg/observability"
	"github.com/rhuss/dolmetscher/pkg/provider"
	"github.com/rhuss/dolmetscher/pkg/transport"
)

// Server wraps an http.Server with the transport adapter and manages
// the full lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	config     ServerConfig
	logger     *slog.Logger
	draining   atomic.Bool
}

// ServerConfig holds configuration for the transport server.
type ServerConfig struct {
	Addr            string
	MaxBodySize     int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	CORS    CORSConfig
	Metrics MetricsConfig
	OpenAPI OpenAPIConfig

	// Credentials resolves the pass-through API key. Nil disables
	// credential resolution.
	Credentials *auth.Chain

	Models    ModelLister
	Forwarder provider.Forwarder
}

// CORSConfig controls cross-origin access.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MaxBodySize:     10 << 20, // 10 MB
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		OpenAPI: DefaultConfig().OpenAPI,
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithMaxBodySize sets the maximum request body size.
func WithMaxBodySize(n int64) ServerOption {
	return func(s *Server) { s.config.MaxBodySize = n }
}

// WithTimeouts sets the read and write timeouts of the http.Server.
// A zero write timeout leaves long streams unbounded.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.config.ReadTimeout = read
		s.config.WriteTimeout = write
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.config.Logger = l; s.logger = l }
}

// WithCORS sets the CORS policy.
func WithCORS(c CORSConfig) ServerOption {
	return func(s *Server) { s.config.CORS = c }
}

// WithMetrics sets the metrics endpoint.
func WithMetrics(m MetricsConfig) ServerOption {
	return func(s *Server) { s.config.Metrics = m }
}

// WithOpenAPI sets the OpenAPI document route.
func WithOpenAPI(o OpenAPIConfig) ServerOption {
	return func(s *Server) { s.config.OpenAPI = o }
}

// WithCredentials enables credential resolution with the given chain.
func WithCredentials(chain *auth.Chain) ServerOption {
	return func(s *Server) { s.config.Credentials = chain }
}

// WithBackend exposes the model list and the Messages pass-through of a
// backend. Either argument may be nil.
func WithBackend(models ModelLister, forwarder provider.Forwarder) ServerOption {
	return func(s *Server) {
		s.config.Models = models
		s.config.Forwarder = forwarder
	}
}

// NewServer creates a new transport server for the given ChatCompleter.
// Default middleware (recovery, request ID, logging) is applied automatically.
func NewServer(creator transport.ChatCompleter, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	adapterOpts := []AdapterOption{
		WithMiddleware(
			transport.Recovery(),
			transport.RequestID(),
			transport.Logging(s.logger),
		),
	}
	if s.config.Models != nil {
		adapterOpts = append(adapterOpts, WithModelLister(s.config.Models))
	}
	if s.config.Forwarder != nil {
		adapterOpts = append(adapterOpts, WithForwarder(s.config.Forwarder))
	}

	s.adapter = NewAdapter(creator, Config{
		MaxBodySize: s.config.MaxBodySize,
		OpenAPI:     s.config.OpenAPI,
	}, adapterOpts...)

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	return s
}

// Handler assembles the full HTTP handler: CORS, metrics, credential
// resolution, then the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.adapter.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("draining\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	bypass := []string{"/healthz", "/readyz"}
	if s.config.Metrics.Enabled {
		path := s.config.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.Handler())
		bypass = append(bypass, path)
	}
	if s.config.OpenAPI.Enabled {
		bypass = append(bypass, s.adapter.config.OpenAPI.Path)
	}

	var h http.Handler = mux
	if s.config.Credentials != nil {
		h = auth.Middleware(s.config.Credentials, bypass)(h)
	}
	h = observability.MetricsMiddleware(h)
	if s.config.CORS.Enabled {
		h = cors.New(cors.Options{
			AllowedOrigins: s.config.CORS.AllowedOrigins,
			AllowedMethods: s.config.CORS.AllowedMethods,
			AllowedHeaders: s.config.CORS.AllowedHeaders,
			ExposedHeaders: []string{"X-Request-ID"},
		}).Handler(h)
	}
	return h
}

// Run listens on the configured address and serves until ctx is done,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ln)
}

// ServeOn serves on the given listener until ctx is done, then shuts down
// gracefully.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	return s.shutdown()
}

// shutdown stops accepting connections and waits for in-flight requests.
// Streams still open when the deadline expires are cancelled, which ends
// them with an error frame.
func (s *Server) shutdown() error {
	s.draining.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	err := s.httpServer.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		n := s.adapter.InFlight().CancelAll()
		s.logger.Warn("shutdown deadline exceeded, cancelled open streams", slog.Int("streams", n))
		err = s.httpServer.Close()
	}
	if err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)
	return s.httpServer.Shutdown(ctx)
}
