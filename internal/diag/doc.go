// Package diag provides pipeline.Diagnostics sinks.
//
//   - Console: one human-readable line per event, e.g. "[mw:start] auth"
//   - Slog: structured log records via log/slog
//   - Recorder: in-memory event list, used by the harness and tests
//   - Metrics: Prometheus counters and in-flight gauges
//   - Tracing: OpenTelemetry spans per pipeline and per middleware
//   - Multi: fan-out to several sinks in order
//
// Every sink is safe for concurrent use by concurrent invocations of one
// chain. None of them panic.
package diag
