package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/onion/internal/catalog"
	"github.com/roach88/onion/internal/diag"
	"github.com/roach88/onion/internal/manifest"
	"github.com/roach88/onion/internal/pipeline"
	"github.com/roach88/onion/internal/runid"
	"github.com/roach88/onion/internal/store"
)

// Diagnostics sink names accepted by --diagnostics.
var validDiagnostics = []string{"none", "console", "slog"}

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Mode        string
	Authorized  bool
	Principal   string
	FailAt      string
	PanicAt     string
	Diagnostics string
	Database    string
	Repeat      int
	Concurrency int
	Metrics     bool
	Spans       bool

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs runid.Generator
}

// RunOutcome is the result of one invocation.
type RunOutcome struct {
	RunID string         `json:"run_id"`
	Trace []string       `json:"trace"`
	Error string         `json:"error,omitempty"`
	Panic string         `json:"panic,omitempty"`
	Items map[string]any `json:"items,omitempty"`
}

// Failed reports whether the invocation returned an error or panicked.
func (o RunOutcome) Failed() bool {
	return o.Error != "" || o.Panic != ""
}

// SpanSummary is one span recorded with --spans.
type SpanSummary struct {
	Name       string `json:"name"`
	Middleware string `json:"middleware,omitempty"`
	Status     string `json:"status"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Manifest string        `json:"manifest"`
	Mode     string        `json:"mode"`
	Order    []string      `json:"order"`
	Runs     []RunOutcome  `json:"runs"`
	Failed   int           `json:"failed"`
	Metrics  string        `json:"metrics,omitempty"`
	Spans    []SpanSummary `json:"spans,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Build a pipeline and execute requests through it",
		Long: `Build the pipeline declared by a manifest and execute requests through it.

The chain is compiled once; every request runs in its own scope. With
--repeat and --concurrency the same chain serves several requests at once.
Faults can be injected at a middleware identity with --fail-at (returns an
error) or --panic-at (panics).

Diagnostics events can be printed (--diagnostics console|slog), stored in
SQLite (--db, read back with "onion trace"), counted as Prometheus metrics
(--metrics) or recorded as OpenTelemetry spans (--spans).

Exit codes:
  0 - Every request succeeded
  1 - A request failed or panicked, or the pipeline has a build error
  2 - Command error (manifest not found, bad flags, database error)

Examples:
  onion run ./pipeline.cue
  onion run ./pipeline.cue --authorized=false --diagnostics console
  onion run ./pipeline.cue --fail-at logging --db ./onion.db
  onion run ./pipeline.cue --repeat 100 --concurrency 8 --metrics`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "override the manifest mode (blocking|async)")
	cmd.Flags().BoolVar(&opts.Authorized, "authorized", true, "mark requests as authorized")
	cmd.Flags().StringVar(&opts.Principal, "principal", "", "principal carried by requests")
	cmd.Flags().StringVar(&opts.FailAt, "fail-at", "", "middleware identity that returns an injected error")
	cmd.Flags().StringVar(&opts.PanicAt, "panic-at", "", "middleware identity that panics")
	cmd.Flags().StringVar(&opts.Diagnostics, "diagnostics", "none", "print diagnostics events (none|console|slog)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database for the trace store")
	cmd.Flags().IntVar(&opts.Repeat, "repeat", 1, "number of requests to execute")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 1, "maximum requests in flight")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics after the run")
	cmd.Flags().BoolVar(&opts.Spans, "spans", false, "record OpenTelemetry spans and print them after the run")

	return cmd
}

func runPipeline(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if opts.Repeat < 1 {
		return f.Fail(ExitCommandError, ErrCodeUsage, "--repeat must be at least 1", nil)
	}
	if opts.Concurrency < 1 {
		return f.Fail(ExitCommandError, ErrCodeUsage, "--concurrency must be at least 1", nil)
	}
	if !slices.Contains(validDiagnostics, opts.Diagnostics) {
		return f.Fail(ExitCommandError, ErrCodeUsage,
			fmt.Sprintf("invalid diagnostics %q: must be one of %v", opts.Diagnostics, validDiagnostics), nil)
	}
	if opts.FailAt != "" && opts.FailAt == opts.PanicAt {
		return f.Fail(ExitCommandError, ErrCodeUsage, "--fail-at and --panic-at must name different middleware", nil)
	}

	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	p, err := loadPipeline(f, catalog.New(catalog.WithLogger(logger)), path, opts.Mode)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := p.Close(); closeErr != nil {
			logger.Error("error closing singletons", "error", closeErr)
		}
	}()

	var sinks []pipeline.Diagnostics[*catalog.Request]
	switch opts.Diagnostics {
	case "console":
		w := cmd.OutOrStdout()
		if f.JSON() {
			w = cmd.ErrOrStderr()
		}
		sinks = append(sinks, diag.NewConsole[*catalog.Request](w))
	case "slog":
		sinks = append(sinks, diag.NewSlog[*catalog.Request](logger))
	}

	var sink *store.Sink[*catalog.Request]
	if opts.Database != "" {
		logger.Debug("opening database", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to open database: %v", err), nil)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		sink = store.NewSink[*catalog.Request](st, store.SinkOptions{
			Manifest: p.Manifest.Source,
			Mode:     p.Manifest.Mode,
			Order:    p.Order(),
			Logger:   logger,
		})
		sinks = append(sinks, sink)
	}

	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		metrics, err := diag.NewMetrics[*catalog.Request](reg)
		if err != nil {
			return f.Fail(ExitCommandError, manifest.ErrCodeGeneric, fmt.Sprintf("failed to register metrics: %v", err), nil)
		}
		sinks = append(sinks, metrics)
	}

	var spans *tracetest.InMemoryExporter
	if opts.Spans {
		spans = tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer provider", "error", err)
			}
		}()
		sinks = append(sinks, diag.NewTracingWithTracer[*catalog.Request](tp.Tracer("onion")))
	}

	runner, err := p.Assembly.Build(p.Manifest.Async(), diag.NewMulti(sinks...), pipeline.WithLogger(logger))
	if err != nil {
		return f.Fail(ExitFailure, manifest.ErrCodeGeneric, err.Error(), nil)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = runid.UUIDv7Generator{}
	}

	logger.Debug("executing pipeline", "manifest", p.Manifest.Source, "mode", p.Manifest.Mode,
		"repeat", opts.Repeat, "concurrency", opts.Concurrency)

	outcomes := make([]RunOutcome, opts.Repeat)
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i := range outcomes {
		req := newRunRequest(ctx, opts, runIDs.Generate())
		g.Go(func() error {
			outcomes[i] = execute(runner, req)
			return nil
		})
	}
	_ = g.Wait() // invocations report through their outcomes

	result := RunResult{
		Manifest: p.Manifest.Source,
		Mode:     p.Manifest.Mode,
		Order:    identityStrings(runner.Order()),
		Runs:     outcomes,
	}
	for _, o := range outcomes {
		if o.Failed() {
			result.Failed++
		}
	}

	if reg != nil {
		text, err := gatherMetrics(reg)
		if err != nil {
			return f.Fail(ExitCommandError, manifest.ErrCodeGeneric, fmt.Sprintf("failed to gather metrics: %v", err), nil)
		}
		result.Metrics = text
	}
	if spans != nil {
		result.Spans = summarizeSpans(spans.GetSpans())
	}

	if sink != nil {
		if err := sink.Err(); err != nil {
			return f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("trace store: %v", err), nil)
		}
	}

	if f.JSON() {
		return outputRunJSON(f, result)
	}
	return outputRunText(cmd, result, opts.Verbose)
}

func newRunRequest(ctx context.Context, opts *RunOptions, id string) *catalog.Request {
	req := catalog.NewRequest(ctx, id)
	req.Authorized = opts.Authorized
	req.Principal = opts.Principal
	req.FailAt = opts.FailAt
	req.PanicAt = opts.PanicAt
	return req
}

// execute runs one request. A panic escaping the pipeline is recovered
// here so one request cannot take the others down.
func execute(runner *catalog.Runner, req *catalog.Request) (out RunOutcome) {
	out.RunID = req.RunID()
	defer func() {
		if r := recover(); r != nil {
			out.Panic = fmt.Sprint(r)
		}
		out.Trace = req.Trace()
		out.Items = req.Items()
	}()
	if err := runner.Run(req); err != nil {
		out.Error = err.Error()
	}
	return out
}

func identityStrings(ids []pipeline.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func gatherMetrics(reg *prometheus.Registry) (string, error) {
	families, err := reg.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func summarizeSpans(stubs tracetest.SpanStubs) []SpanSummary {
	out := make([]SpanSummary, 0, len(stubs))
	for _, s := range stubs {
		summary := SpanSummary{Name: s.Name, Status: s.Status.Code.String()}
		for _, kv := range s.Attributes {
			if kv.Key == "onion.middleware" {
				summary.Middleware = kv.Value.AsString()
			}
		}
		out = append(out, summary)
	}
	return out
}

func outputRunJSON(f *OutputFormatter, result RunResult) error {
	if result.Failed == 0 {
		return f.Success(result)
	}

	resp := CLIResponse{
		Status: "error",
		Data:   result,
		Error: &CLIError{
			Code:    ErrCodeRunFailed,
			Message: fmt.Sprintf("%d run(s) failed", result.Failed),
		},
	}
	if err := f.encode(resp); err != nil {
		return err
	}
	return &ExitError{Code: ExitFailure, Message: resp.Error.Message, Reported: true}
}

func outputRunText(cmd *cobra.Command, result RunResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Pipeline: %s (%s)\n", result.Manifest, result.Mode)
	fmt.Fprintf(w, "Order: %s\n", strings.Join(result.Order, " -> "))

	for _, o := range result.Runs {
		fmt.Fprintln(w)
		switch {
		case o.Panic != "":
			fmt.Fprintf(w, "Run %s: panic: %s\n", o.RunID, o.Panic)
		case o.Error != "":
			fmt.Fprintf(w, "Run %s: error: %s\n", o.RunID, o.Error)
		default:
			fmt.Fprintf(w, "Run %s: ok\n", o.RunID)
		}
		for _, entry := range o.Trace {
			fmt.Fprintf(w, "  %s\n", entry)
		}
		if verbose && len(o.Items) > 0 {
			fmt.Fprintf(w, "  Items: %s\n", formatItems(o.Items))
		}
	}

	if len(result.Spans) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Spans ===")
		for _, s := range result.Spans {
			name := s.Name
			if s.Middleware != "" {
				name += " " + s.Middleware
			}
			fmt.Fprintf(w, "  %s [%s]\n", name, s.Status)
		}
	}

	if result.Metrics != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Metrics ===")
		fmt.Fprint(w, result.Metrics)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d ok, %d failed, %d total\n",
		len(result.Runs)-result.Failed, result.Failed, len(result.Runs))

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d run(s) failed", result.Failed))
	}
	return nil
}

// formatItems renders an item bag with sorted keys.
func formatItems(items map[string]any) string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, items[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
