package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/onion/internal/canonical"
)

// Snapshot captures the deterministic part of a scenario execution.
// Items are left out: middleware may store timings there.
type Snapshot struct {
	Scenario   string   `json:"scenario"`
	Order      []string `json:"order"`
	Trace      []string `json:"trace"`
	Events     []string `json:"events"`
	Error      string   `json:"error,omitempty"`
	Panic      string   `json:"panic,omitempty"`
	BuildError string   `json:"build_error,omitempty"`
}

// NewSnapshot builds the snapshot of result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{
		Scenario:   name,
		Order:      nonNil(result.Order),
		Trace:      nonNil(result.Trace),
		Events:     nonNil(result.Events),
		Error:      result.Error,
		Panic:      result.Panic,
		BuildError: result.BuildError,
	}
}

// Marshal renders the snapshot as indented canonical JSON.
func (s Snapshot) Marshal() ([]byte, error) {
	return canonical.MarshalIndent(s)
}

// RunWithGolden executes a scenario and compares the snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's snapshot against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// GoldenPath returns the golden file of a scenario file: a golden/
// directory next to it, named after the scenario file.
func GoldenPath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	name := strings.TrimSuffix(filepath.Base(scenarioFile), filepath.Ext(scenarioFile))
	return filepath.Join(dir, "golden", name+".golden")
}

// WriteGolden writes the snapshot of result as the golden file.
func WriteGolden(path, scenarioName string, result *Result) error {
	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the snapshot of result matches the golden
// file. A missing file returns os.ErrNotExist.
func CompareGolden(path, scenarioName string, result *Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	got, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, got), nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
