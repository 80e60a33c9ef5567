// Package observability wires structured logging, Prometheus HTTP metrics and
// OpenTelemetry tracing for the Crucial server.
//
// Logging is built on log/slog. NewLogger returns a *slog.Logger whose handler
// redacts API keys and bearer tokens and adds the request id carried in the
// context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx := observability.AddRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "canvas created", "canvas_id", id)
//
// Tracing installs a global OTLP/gRPC tracer provider when an endpoint is set;
// otherwise the global no-op provider stays in place and packages calling
// otel.Tracer pay nothing.
package observability
