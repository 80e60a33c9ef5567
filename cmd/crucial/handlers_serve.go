package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/crucial/internal/auth"
	"github.com/haasonsaas/crucial/internal/canvas"
	"github.com/haasonsaas/crucial/internal/config"
	"github.com/haasonsaas/crucial/internal/dispatch"
	"github.com/haasonsaas/crucial/internal/gateway"
	"github.com/haasonsaas/crucial/internal/observability"
	"github.com/haasonsaas/crucial/internal/ratelimit"
	"github.com/haasonsaas/crucial/internal/registry"
	"github.com/haasonsaas/crucial/internal/retention"
)

// runServe wires every component and blocks until a shutdown signal arrives.
func runServe(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting Crucial",
		"version", version,
		"commit", commit,
		"addr", cfg.Server.Addr(),
		"driver", cfg.Database.Driver,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := observability.NewTracing(ctx, tracingConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing(tracing, logger)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close error", "error", err)
		}
	}()

	metrics := canvas.NewMetrics()
	hub := canvas.NewHub(
		canvas.WithSubscriberBuffer(cfg.Canvas.SubscriberBuffer),
		canvas.WithHubLogger(logger),
		canvas.WithHubMetrics(metrics),
	)
	if cfg.Broadcast.Redis.Enabled {
		relay, err := canvas.NewRedisRelay(canvas.RedisRelayConfig{
			Addr:     cfg.Broadcast.Redis.Addr,
			Password: cfg.Broadcast.Redis.Password,
			DB:       cfg.Broadcast.Redis.DB,
			NodeID:   cfg.Broadcast.Redis.NodeID,
		}, hub, logger)
		if err != nil {
			return fmt.Errorf("failed to configure redis relay: %w", err)
		}
		defer relay.Close()
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis relay stopped", "error", err)
			}
		}()
		logger.Info("redis fan-out enabled", "addr", cfg.Broadcast.Redis.Addr, "node_id", relay.NodeID())
	}

	tracer := tracing.Tracer("github.com/haasonsaas/crucial")
	manager := canvas.NewManager(store, hub, logger,
		canvas.WithDefaults(canvas.Defaults{
			Width:      cfg.Canvas.DefaultWidth,
			Height:     cfg.Canvas.DefaultHeight,
			Background: cfg.Canvas.DefaultBackground,
		}),
		canvas.WithMetrics(metrics),
		canvas.WithTracer(tracer),
	)

	reg, err := registry.LoadDir(cfg.Canvas.SchemaDir)
	if err != nil {
		return fmt.Errorf("failed to load action registry: %w", err)
	}
	dispatcher, err := dispatch.New(reg, manager,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
		dispatch.WithTracer(tracer),
	)
	if err != nil {
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}
	logger.Info("action registry loaded", "actions", len(reg.Names()))

	authService, err := buildAuth(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	if cfg.Retention.Enabled {
		sweeper, err := retention.NewSweeper(store, retention.Config{
			TTL:      cfg.Retention.TTL,
			Schedule: cfg.Retention.Schedule,
		}, retention.WithLogger(logger), retention.WithMetrics(metrics))
		if err != nil {
			return fmt.Errorf("failed to configure retention: %w", err)
		}
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start retention: %w", err)
		}
		defer sweeper.Stop()
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithAuth(authService),
		gateway.WithHTTPMetrics(observability.NewHTTPMetrics(prometheus.DefaultRegisterer)),
		gateway.WithGatherer(prometheus.DefaultGatherer),
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, gateway.WithRateLimiter(ratelimit.NewLimiter(ratelimit.Config{
			Enabled:           true,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
		})))
	}
	server := gateway.NewServer(cfg.Server, dispatcher, opts...)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("Crucial stopped gracefully")
	return nil
}

func buildAuth(ctx context.Context, cfg *config.Config, store canvas.Store, logger *slog.Logger) (*auth.Service, error) {
	opts := []auth.Option{auth.WithKeyStore(store)}
	if cfg.Auth.KeysFile != "" {
		keyFile, err := auth.NewKeyFile(cfg.Auth.KeysFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load keys file: %w", err)
		}
		if err := keyFile.Watch(ctx); err != nil {
			logger.Warn("keys file watch disabled", "path", keyFile.Path(), "error", err)
		}
		opts = append(opts, auth.WithKeyFile(keyFile))
		logger.Info("api keys file loaded", "path", keyFile.Path(), "keys", keyFile.Len())
	}
	service := auth.NewService(auth.Config{
		Required:    cfg.Auth.RequireAPIKey,
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     cfg.Auth.APIKeys,
	}, opts...)
	if !service.Enabled() {
		logger.Warn("api key authentication disabled")
	}
	return service, nil
}

func tracingConfig(cfg *config.Config) observability.TraceConfig {
	tc := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		tc.Endpoint = cfg.Tracing.Endpoint
	}
	return tc
}

func shutdownTracing(tracing *observability.Tracing, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown error", "error", err)
	}
}
