package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/onion/internal/diag"
	"github.com/roach88/onion/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Kind     string // optional - filter events to one kind
}

// TraceStats holds summary statistics for one run.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Starts      int `json:"starts"`
	Ends        int `json:"ends"`
	Exceptions  int `json:"exceptions"`
}

// TraceResult is the output of the trace command for one run.
type TraceResult struct {
	Run    store.Run    `json:"run"`
	Events []diag.Event `json:"events"`
	Stats  TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect runs recorded in the trace store",
		Long: `Inspect runs recorded with "onion run --db".

Without --run, lists every stored run. With --run, shows the run's
diagnostics events in the order they were recorded.

Examples:
  onion trace --db ./onion.db
  onion trace --db ./onion.db --run 0190a7e4-...
  onion trace --db ./onion.db --run 0190a7e4-... --kind mw:ex --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter events by kind (pipeline:start, mw:start, mw:end, mw:ex, pipeline:end)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	ctx := context.Background()

	// store.Open would create a missing file.
	if _, err := os.Stat(opts.Database); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("database not found: %s", opts.Database), nil)
	}
	if opts.Kind != "" && !validKind(diag.Kind(opts.Kind)) {
		return f.Fail(ExitCommandError, ErrCodeUsage, fmt.Sprintf("unknown event kind %q", opts.Kind), nil)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	defer st.Close()

	if opts.RunID == "" {
		runs, err := st.ReadRuns(ctx)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
		if f.JSON() {
			return f.Success(runs)
		}
		return outputRunsText(cmd, runs)
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		return f.Fail(ExitFailure, ErrCodeRunNotFound, fmt.Sprintf("no run with id %s", opts.RunID), nil)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}

	events, err := st.ReadEvents(ctx, opts.RunID)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}

	result := TraceResult{Run: run, Events: filterEvents(events, diag.Kind(opts.Kind))}
	for _, e := range events {
		result.Stats.TotalEvents++
		switch e.Kind {
		case diag.KindStart:
			result.Stats.Starts++
		case diag.KindEnd:
			result.Stats.Ends++
		case diag.KindException:
			result.Stats.Exceptions++
		}
	}

	if f.JSON() {
		return f.Success(result)
	}
	return outputTraceText(cmd, result)
}

func validKind(k diag.Kind) bool {
	switch k {
	case diag.KindPipelineStart, diag.KindPipelineEnd, diag.KindStart, diag.KindEnd, diag.KindException:
		return true
	}
	return false
}

func filterEvents(events []diag.Event, kind diag.Kind) []diag.Event {
	if kind == "" {
		return events
	}
	out := []diag.Event{}
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func outputRunsText(cmd *cobra.Command, runs []store.Run) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "=== Runs ===")
	if len(runs) == 0 {
		fmt.Fprintln(w, "  (no runs)")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(w, "  [%d] %s %s (%s) %s\n", r.Seq, r.ID, r.Status, r.Mode, r.Manifest)
		if r.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", r.Error)
		}
	}
	return nil
}

func outputTraceText(cmd *cobra.Command, result TraceResult) error {
	w := cmd.OutOrStdout()
	run := result.Run

	fmt.Fprintf(w, "Trace for Run: %s\n", run.ID)
	fmt.Fprintf(w, "Manifest: %s (%s)\n", run.Manifest, run.Mode)
	fmt.Fprintf(w, "Status: %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
	}
	fmt.Fprintf(w, "Order: %s\n", strings.Join(run.Order, " -> "))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Events ===")
	if len(result.Events) == 0 {
		fmt.Fprintln(w, "  (no events)")
	} else {
		for _, e := range result.Events {
			fmt.Fprintf(w, "  [%d] %s\n", e.Seq, e.String())
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Starts:       %d\n", result.Stats.Starts)
	fmt.Fprintf(w, "  Ends:         %d\n", result.Stats.Ends)
	fmt.Fprintf(w, "  Exceptions:   %d\n", result.Stats.Exceptions)

	return nil
}
