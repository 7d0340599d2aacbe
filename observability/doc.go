// Package observability provides an OpenTelemetry-based metrics
// extension for conductor. The MetricsExtension implements lifecycle
// hooks to record counters for job start, pause, resume, completion,
// failure, and cancellation, plus an end-to-end duration histogram.
package observability
