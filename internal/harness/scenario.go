package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/onion/internal/diag"
)

// DefaultRunID is used when a scenario does not name a run id.
const DefaultRunID = "test-run-default"

// Scenario defines one pipeline invocation and its expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is the CUE manifest file or directory to build from.
	// Relative paths resolve against the scenario file's directory.
	Manifest string `yaml:"manifest"`

	// Mode overrides the manifest mode: "blocking" or "async".
	Mode string `yaml:"mode,omitempty"`

	// RunID is a fixed run id for deterministic traces.
	RunID string `yaml:"run_id,omitempty"`

	Request RequestSpec `yaml:"request"`
	Expect  Expect      `yaml:"expect"`

	// Assertions are additional checks over the result.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RequestSpec describes the request a scenario sends.
type RequestSpec struct {
	// Authorized defaults to true.
	Authorized *bool  `yaml:"authorized,omitempty"`
	Principal  string `yaml:"principal,omitempty"`
	FailAt     string `yaml:"fail_at,omitempty"`
	PanicAt    string `yaml:"panic_at,omitempty"`

	// Cancelled sends the request with an already-cancelled context.
	Cancelled bool `yaml:"cancelled,omitempty"`

	// Items are placed in the item bag before the pipeline runs.
	Items map[string]any `yaml:"items,omitempty"`
}

// Expect is the expected outcome. Unset fields are not checked, except
// that an unexpected error, panic or build error always fails.
type Expect struct {
	Order  []string `yaml:"order,omitempty"`
	Trace  []string `yaml:"trace,omitempty"`
	Events []string `yaml:"events,omitempty"`

	// Error is the exact error message of the invocation.
	Error string `yaml:"error,omitempty"`

	// Panic is the formatted panic value that escaped the pipeline.
	Panic string `yaml:"panic,omitempty"`

	// BuildError is the build error code, e.g. CYCLE_DETECTED.
	BuildError string `yaml:"build_error,omitempty"`

	// Items is a subset match over the final item bag.
	Items map[string]any `yaml:"items,omitempty"`
}

// Assertion validates the trace, events or stored events.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an entry appears in the trace
	// - "trace_order": Check entries appear in order
	// - "trace_count": Check an entry appears exactly N times
	// - "event_contains": Check a diagnostics event appears
	// - "stored_events": Check the trace store event count for a kind
	Type string `yaml:"type"`

	// Entry is a trace entry (trace_contains, trace_count).
	Entry string `yaml:"entry,omitempty"`

	// Entries is the expected relative order (trace_order).
	Entries []string `yaml:"entries,omitempty"`

	// Event is a rendered event, e.g. "mw:start auth" (event_contains).
	Event string `yaml:"event,omitempty"`

	// Kind is an event kind, e.g. "mw:ex" (stored_events).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of occurrences (trace_count, stored_events).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertEventContains = "event_contains"
	AssertStoredEvents  = "stored_events"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// manifest path relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Manifest != "" && !filepath.IsAbs(scenario.Manifest) {
		scenario.Manifest = filepath.Join(filepath.Dir(path), scenario.Manifest)
	}
	if _, err := os.Stat(scenario.Manifest); os.IsNotExist(err) {
		return nil, fmt.Errorf("invalid scenario: manifest not found: %s", scenario.Manifest)
	}

	return scenario, nil
}

// ParseScenario parses scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}

	switch s.Mode {
	case "", "blocking", "async":
	default:
		return fmt.Errorf("mode must be blocking or async, got %q", s.Mode)
	}

	if s.Request.FailAt != "" && s.Request.FailAt == s.Request.PanicAt {
		return fmt.Errorf("request: fail_at and panic_at name the same step %q", s.Request.FailAt)
	}
	if s.Expect.BuildError != "" && (len(s.Expect.Trace) > 0 || len(s.Expect.Events) > 0) {
		return fmt.Errorf("expect: build_error excludes trace and events")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Entry == "" {
			return fmt.Errorf("assertions[%d]: entry is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Entries) == 0 {
			return fmt.Errorf("assertions[%d]: entries list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Entry == "" {
			return fmt.Errorf("assertions[%d]: entry is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertEventContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_contains", index)
		}
	case AssertStoredEvents:
		switch diag.Kind(a.Kind) {
		case diag.KindPipelineStart, diag.KindPipelineEnd, diag.KindStart, diag.KindEnd, diag.KindException:
		default:
			return fmt.Errorf("assertions[%d]: unknown event kind %q for stored_events", index, a.Kind)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for stored_events", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
