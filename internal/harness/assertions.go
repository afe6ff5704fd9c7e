package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/onion/internal/diag"
	"github.com/roach88/onion/internal/store"
)

// AssertionError is returned when an assertion or expectation fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Trace    []string // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, entry := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, entry)
		}
	}

	return buf.String()
}

// assertTraceContains checks if the trace contains the entry.
func assertTraceContains(trace []string, assertion Assertion) error {
	for _, entry := range trace {
		if entry == assertion.Entry {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("entry %s", assertion.Entry),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if entries appear in the specified order.
// Entries don't need to be consecutive (intervening entries are allowed).
func assertTraceOrder(trace []string, assertion Assertion) error {
	// First position of each expected entry, 1-indexed for readability
	positions := make(map[string]int)
	for i, entry := range trace {
		for _, expected := range assertion.Entries {
			if entry == expected && positions[expected] == 0 {
				positions[expected] = i + 1
			}
		}
	}

	for _, entry := range assertion.Entries {
		if positions[entry] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all entries present: %v", assertion.Entries),
				Actual:   fmt.Sprintf("missing entry: %s", entry),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Entries); i++ {
		prev := assertion.Entries[i-1]
		curr := assertion.Entries[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("entries in order: %v", assertion.Entries),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the entry appears exactly the specified number of times.
func assertTraceCount(trace []string, assertion Assertion) error {
	count := 0
	for _, entry := range trace {
		if entry == assertion.Entry {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Entry),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

func assertEventContains(events []string, assertion Assertion) error {
	for _, e := range events {
		if e == assertion.Event {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: fmt.Sprintf("event %q", assertion.Event),
		Actual:   fmt.Sprintf("events %v", events),
	}
}

// assertStoredEvents counts events of one kind in the trace store.
func assertStoredEvents(ctx context.Context, st *store.Store, assertion Assertion) error {
	count, err := st.CountEvents(ctx, diag.Kind(assertion.Kind))
	if err != nil {
		return fmt.Errorf("count stored events: %w", err)
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertStoredEvents,
			Expected: fmt.Sprintf("%d stored %s events", assertion.Count, assertion.Kind),
			Actual:   fmt.Sprintf("%d stored", count),
		}
	}
	return nil
}

// checkExpect compares the result with the scenario's expectations.
func checkExpect(result *Result, expect Expect) []error {
	var errs []error

	mismatch := func(typ string, expected, actual any) {
		errs = append(errs, &AssertionError{
			Type:     typ,
			Expected: fmt.Sprintf("%v", expected),
			Actual:   fmt.Sprintf("%v", actual),
			Trace:    result.Trace,
		})
	}

	if result.BuildError != expect.BuildError {
		mismatch("build_error", orNone(expect.BuildError), orNone(result.BuildError))
	}
	if result.Error != expect.Error {
		mismatch("error", orNone(expect.Error), orNone(result.Error))
	}
	if result.Panic != expect.Panic {
		mismatch("panic", orNone(expect.Panic), orNone(result.Panic))
	}
	if expect.Order != nil && !reflect.DeepEqual(expect.Order, result.Order) {
		mismatch("order", expect.Order, result.Order)
	}
	if expect.Trace != nil && !reflect.DeepEqual(expect.Trace, result.Trace) {
		mismatch("trace", expect.Trace, result.Trace)
	}
	if expect.Events != nil && !reflect.DeepEqual(expect.Events, result.Events) {
		mismatch("events", expect.Events, result.Events)
	}

	for key, want := range expect.Items {
		got, ok := result.Items[key]
		if !ok {
			mismatch("items", fmt.Sprintf("%s = %v", key, want), fmt.Sprintf("%s missing", key))
			continue
		}
		if !valuesEqual(got, want) {
			mismatch("items", fmt.Sprintf("%s = %v (type %T)", key, want, want), fmt.Sprintf("%s = %v (type %T)", key, got, got))
		}
	}

	return errs
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// valuesEqual compares an item bag value with a YAML-decoded expectation.
// YAML integers decode as int while middleware stores int64.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if a, ok := toInt64(actual); ok {
		if e, ok := toInt64(expected); ok {
			return a == e
		}
		return false
	}

	return reflect.DeepEqual(actual, expected)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides the trace store for stored_events assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertEventContains:
			err = assertEventContains(result.Events, assertion)
		case AssertStoredEvents:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: stored_events requires a trace store", i)
			} else {
				err = assertStoredEvents(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
