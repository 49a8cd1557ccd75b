// Package observability provides an OpenTelemetry-based metrics
// extension for flume. The MetricsExtension implements lifecycle hooks
// to record counters for triggers, enqueues, completions, retries,
// dead letters, and cron fires. The engine registers one automatically.
//
// For per-execution tracing and latency histograms, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
