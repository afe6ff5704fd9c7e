// Package harness runs declarative pipeline scenarios.
//
// A scenario names a manifest, describes one request, and states what the
// pipeline must do with it: the compiled order, the trace the middleware
// records, the diagnostics events, and the outcome.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: auth_before_logging
//	description: "auth runs before logging despite registration order"
//	manifest: manifests/basic.cue
//	mode: blocking
//	request:
//	  authorized: true
//	  principal: alice
//	  fail_at: terminal
//	expect:
//	  order: [auth, logging, terminal]
//	  trace: [auth, "logging:before", "terminal:fault"]
//	  error: "injected fault at terminal"
//	  items: { principal: alice }
//	assertions:
//	  - type: trace_contains
//	    entry: auth
//	  - type: stored_events
//	    kind: "mw:ex"
//	    count: 3
//
// Expectations are exact: a listed trace or event list must match entirely.
// Items are a subset match. A scenario expecting build_error passes only if
// building fails with that error code.
//
// # Assertion Types
//
//   - trace_contains: an entry appears in the trace
//   - trace_order: entries appear in the given relative order
//   - trace_count: an entry appears exactly N times
//   - event_contains: a diagnostics event appears
//   - stored_events: the trace store holds exactly N events of a kind
//
// # Deterministic Testing
//
// Every scenario runs with a fixed run id and a fresh in-memory SQLite
// trace store, so identical scenarios produce identical snapshots for golden
// file comparison.
package harness
