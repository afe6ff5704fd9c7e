package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/onion/internal/catalog"
	"github.com/roach88/onion/internal/diag"
	"github.com/roach88/onion/internal/manifest"
	"github.com/roach88/onion/internal/pipeline"
	"github.com/roach88/onion/internal/runid"
	"github.com/roach88/onion/internal/store"
)

// Option configures Run.
type Option func(*Harness)

// WithCatalog replaces the built-in component catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(h *Harness) {
		h.catalog = c
	}
}

// WithLogger sets the logger for the harness and the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// Harness is the scenario execution engine.
// It runs scenarios with a fixed run id and an isolated trace store.
type Harness struct {
	store   *store.Store
	catalog *catalog.Catalog
	runIDs  runid.Generator
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory trace store
// 2. Load the manifest and assemble it from the catalog
// 3. Build the chain (a build error ends the run)
// 4. Execute one request with a recorder and the store sink attached
// 5. Compare expectations and evaluate assertions
//
// The returned error covers infrastructure failures only. Scenario
// failures are reported through Result.Pass and Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	runID := scenario.RunID
	if runID == "" {
		runID = DefaultRunID
	}

	h := &Harness{
		store:  st,
		runIDs: runid.NewFixedGenerator(runID),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.catalog == nil {
		h.catalog = catalog.New(catalog.WithLogger(h.logger))
	}

	m, err := manifest.Load(scenario.Manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	if scenario.Mode != "" {
		m.Mode = scenario.Mode
	}

	assembly, err := h.catalog.Assemble(m)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble manifest: %w", err)
	}
	defer assembly.Close()

	result := NewResult()
	ctx := context.Background()

	if err := h.execute(ctx, scenario, m, assembly, result); err != nil {
		return nil, err
	}

	for _, err := range checkExpect(result, scenario.Expect) {
		result.AddError(err.Error())
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// execute builds the pipeline and runs one request, filling result.
func (h *Harness) execute(ctx context.Context, scenario *Scenario, m *manifest.Manifest, assembly *catalog.Assembly, result *Result) error {
	// Resolving first reports build errors and gives the store sink its order.
	resolved, err := pipeline.Resolve(assembly.Descriptors)
	if err != nil {
		var be *pipeline.BuildError
		if !errors.As(err, &be) {
			return fmt.Errorf("failed to resolve order: %w", err)
		}
		result.BuildError = string(be.Code)
		h.logger.Info("scenario build failed", "scenario", scenario.Name, "code", be.Code)
		return nil
	}

	order := make([]pipeline.Identity, len(resolved))
	for i, d := range resolved {
		order[i] = d.Identity
		result.Order = append(result.Order, d.Identity.String())
	}

	rec := diag.NewRecorder[*catalog.Request]()
	sink := store.NewSink[*catalog.Request](h.store, store.SinkOptions{
		Manifest: m.Source,
		Mode:     m.Mode,
		Order:    order,
		Logger:   h.logger,
	})
	runner, err := assembly.Build(m.Async(), diag.NewMulti[*catalog.Request](rec, sink), pipeline.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	req := newRequest(ctx, scenario, h.runIDs.Generate())
	panicVal, runErr := runGuarded(runner, req)
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if panicVal != nil {
		result.Panic = fmt.Sprint(panicVal)
	}

	result.Trace = append(result.Trace, req.Trace()...)
	result.Events = append(result.Events, rec.Strings()...)
	result.Items = req.Items()

	if err := sink.Err(); err != nil {
		return fmt.Errorf("trace store: %w", err)
	}

	h.logger.Info("scenario executed",
		"scenario", scenario.Name,
		"run_id", req.RunID(),
		"steps", len(result.Order),
		"error", result.Error,
	)
	return nil
}

func newRequest(ctx context.Context, scenario *Scenario, runID string) *catalog.Request {
	spec := scenario.Request
	if spec.Cancelled {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		ctx = cctx
	}

	req := catalog.NewRequest(ctx, runID)
	if spec.Authorized != nil {
		req.Authorized = *spec.Authorized
	}
	req.Principal = spec.Principal
	req.FailAt = spec.FailAt
	req.PanicAt = spec.PanicAt
	for k, v := range spec.Items {
		req.Set(k, v)
	}
	return req
}

// runGuarded runs one request and recovers a panic that escapes the
// pipeline so the scenario can assert on it.
func runGuarded(runner *catalog.Runner, req *catalog.Request) (panicVal any, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicVal = r
		}
	}()
	return nil, runner.Run(req)
}
