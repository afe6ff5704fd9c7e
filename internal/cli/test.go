package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/onion/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern)
	Parallel int    // scenarios run at once
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run pipeline scenarios",
		Long: `Run YAML scenarios against the manifests they name.

Each scenario builds its manifest, executes one request and checks the
expected order, trace, diagnostics events, error and item bag, plus any
listed assertions. When a golden file exists next to the scenario
(golden/<scenario>.golden) the run must also match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  onion test ./scenarios
  onion test ./scenarios --filter "auth_*"
  onion test ./scenarios --update
  onion test ./scenarios --parallel 4 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "number of scenarios to run at once")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return f.Fail(ExitCommandError, ErrCodeUsage, fmt.Sprintf("scenarios directory not found: %s", scenariosDir), nil)
	}
	if opts.Parallel < 1 {
		return f.Fail(ExitCommandError, ErrCodeUsage, "--parallel must be at least 1", nil)
	}

	scenarioFiles, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeUsage, fmt.Sprintf("failed to find scenarios: %v", err), nil)
	}
	f.VerboseLog("Found %d scenario(s) in %s", len(scenarioFiles), scenariosDir)

	if len(scenarioFiles) == 0 {
		if f.JSON() {
			return outputTestJSON(f, TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	// Results keep file order whatever order the scenarios finish in.
	results := make([]ScenarioResult, len(scenarioFiles))
	var g errgroup.Group
	g.SetLimit(opts.Parallel)
	for i, file := range scenarioFiles {
		g.Go(func() error {
			results[i] = runScenario(file, opts.Update, logger)
			return nil
		})
	}
	_ = g.Wait()

	result := TestResult{Scenarios: results, Total: len(results)}
	for _, r := range results {
		if r.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if f.JSON() {
		return outputTestJSON(f, result)
	}
	return outputTestText(cmd, result)
}

// findScenarioFiles finds all YAML scenario files in a directory. The
// filter matches the file name without extension.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario executes a single scenario and checks its golden file.
func runScenario(scenarioFile string, update bool, logger *slog.Logger) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(scenarioFile), File: scenarioFile}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return res
	}
	res.Name = scenario.Name

	result, err := harness.Run(scenario, harness.WithLogger(logger))
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Errors = result.Errors

	goldenPath := harness.GoldenPath(scenarioFile)
	if update {
		if err := harness.WriteGolden(goldenPath, scenario.Name, result); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return res
		}
		res.Golden = "updated"
		res.Pass = result.Pass
		return res
	}

	match, err := harness.CompareGolden(goldenPath, scenario.Name, result)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// No golden file: expectations and assertions decide alone.
		res.Golden = "missing"
	case err != nil:
		res.Errors = append(res.Errors, fmt.Sprintf("golden comparison failed: %v", err))
		return res
	case !match:
		res.Errors = append(res.Errors, "result does not match golden file (run with --update to regenerate)")
		return res
	default:
		res.Golden = "match"
	}

	res.Pass = result.Pass
	return res
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(f *OutputFormatter, result TestResult) error {
	if result.Failed == 0 {
		return f.Success(result)
	}

	resp := CLIResponse{
		Status: "error",
		Data:   result,
		Error: &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		},
	}
	if err := f.encode(resp); err != nil {
		return err
	}
	return &ExitError{Code: ExitFailure, Message: resp.Error.Message, Reported: true}
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	for _, r := range result.Scenarios {
		if r.Pass {
			if r.Golden == "updated" {
				fmt.Fprintf(w, "✓ %s (golden updated)\n", r.Name)
			} else {
				fmt.Fprintf(w, "✓ %s\n", r.Name)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", r.Name)
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
