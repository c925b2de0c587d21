// Package observability provides an OpenTelemetry metrics extension for
// jobmanager. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for jobs added, submitted, rejected, started,
// succeeded, retried, failed, cancelled, and stopped.
//
// For per-run tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
