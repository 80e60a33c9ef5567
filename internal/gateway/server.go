// Package gateway serves the canvas engine over HTTP and WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/crucial/internal/auth"
	"github.com/haasonsaas/crucial/internal/canvas"
	"github.com/haasonsaas/crucial/internal/config"
	"github.com/haasonsaas/crucial/internal/dispatch"
	"github.com/haasonsaas/crucial/internal/observability"
	"github.com/haasonsaas/crucial/internal/ratelimit"
	"github.com/haasonsaas/crucial/internal/registry"
)

// Server is the HTTP front end of the canvas engine.
type Server struct {
	config     config.ServerConfig
	dispatcher *dispatch.Dispatcher
	manager    *canvas.Manager
	registry   *registry.Registry
	auth       *auth.Service
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	metrics    *observability.HTTPMetrics
	gatherer   prometheus.Gatherer
	upgrader   websocket.Upgrader
	startTime  time.Time

	mu           sync.Mutex
	httpServer   *http.Server
	httpListener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuth gates mutating routes behind service.
func WithAuth(service *auth.Service) Option {
	return func(s *Server) { s.auth = service }
}

// WithRateLimiter throttles mutating routes per caller.
func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = limiter }
}

// WithHTTPMetrics records request metrics.
func WithHTTPMetrics(metrics *observability.HTTPMetrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithGatherer sets the registry served on /metrics. Defaults to the Prometheus default gatherer.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		if gatherer != nil {
			s.gatherer = gatherer
		}
	}
}

// NewServer builds a gateway around dispatcher.
func NewServer(cfg config.ServerConfig, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		config:     cfg,
		dispatcher: dispatcher,
		manager:    dispatcher.Manager(),
		registry:   dispatcher.Registry(),
		logger:     slog.Default(),
		gatherer:   prometheus.DefaultGatherer,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the full route table wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /canvas", s.protect(http.HandlerFunc(s.handleDispatch)))
	mux.Handle("POST /canvas/create", s.protect(http.HandlerFunc(s.handleCreate)))
	mux.Handle("POST /object/{id}/load", s.protect(http.HandlerFunc(s.handleLoad)))

	mux.HandleFunc("GET /object/{id}", s.handleMetadata)
	mux.HandleFunc("GET /object/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /ws/canvas/{id}", s.handleLive)

	mux.HandleFunc("GET /mcp/registry", s.handleRegistry)
	mux.HandleFunc("GET /schema/{file}", s.handleSchema)

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return requestIDMiddleware(CORSMiddleware(s.config.CORSOrigins)(s.instrument(mux)))
}

// protect applies auth then per-caller rate limiting.
func (s *Server) protect(next http.Handler) http.Handler {
	limited := ratelimit.Middleware(s.limiter, clientKey)(next)
	return auth.Middleware(s.auth, s.logger)(limited)
}

func clientKey(r *http.Request) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		return principal.ID
	}
	return ratelimit.RemoteIP(r)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("gateway already started")
	}

	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Stop disconnects live viewers and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.httpListener = nil
	s.mu.Unlock()

	// Closing the hub ends every live feed so Shutdown does not wait on them.
	s.manager.Hub().Close()
	if server == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.CORSOrigins) == 0 {
		return true
	}
	return originAllowed(s.config.CORSOrigins, origin)
}
