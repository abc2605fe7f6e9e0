// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the portal API.
//
// Loggers are plain *zap.Logger values built by NewLogger. Metrics are registered
// once in the default Prometheus registry and exposed on a dedicated listener.
// Tracing is optional and exports over OTLP/HTTP when enabled.
package observability
