package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/onion/internal/diag"
	"github.com/roach88/onion/internal/pipeline"
)

// RunScoped is a request type that carries its run id.
type RunScoped interface {
	pipeline.Contextual
	RunID() string
}

// SinkOptions describes the runs a Sink records.
type SinkOptions struct {
	Manifest string
	Mode     string
	Order    []pipeline.Identity
	Logger   *slog.Logger
}

// Sink is a pipeline.Diagnostics that writes every event to the store.
//
// Write failures never reach the pipeline: they are logged and collected,
// and Err reports them once the runs are done.
type Sink[C RunScoped] struct {
	store  *Store
	run    Run
	logger *slog.Logger

	mu       sync.Mutex
	outcomes map[string]error
	errs     []error
}

// NewSink creates a Sink.
func NewSink[C RunScoped](s *Store, opts SinkOptions) *Sink[C] {
	order := make([]string, len(opts.Order))
	for i, id := range opts.Order {
		order[i] = id.String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink[C]{
		store:    s,
		run:      Run{Manifest: opts.Manifest, Mode: opts.Mode, Order: order},
		logger:   logger,
		outcomes: make(map[string]error),
	}
}

// Err returns every write failure seen so far, joined.
func (k *Sink[C]) Err() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return errors.Join(k.errs...)
}

func (k *Sink[C]) fail(runID string, err error) {
	k.logger.Error("trace store write failed", "run_id", runID, "error", err)
	k.mu.Lock()
	k.errs = append(k.errs, err)
	k.mu.Unlock()
}

// ctx detaches from the invocation's cancellation so a cancelled request
// still gets its trace written.
func ctxOf(c pipeline.Contextual) context.Context {
	return context.WithoutCancel(c.PipelineContext().Context())
}

func (k *Sink[C]) write(c C, e diag.Event) {
	if _, err := k.store.WriteEvent(ctxOf(c), c.RunID(), e); err != nil {
		k.fail(c.RunID(), err)
	}
}

// setOutcome tracks the result of the most recently finished step, which at
// pipeline end is the outermost one.
func (k *Sink[C]) setOutcome(runID string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.outcomes[runID] = err
}

func (k *Sink[C]) OnPipelineStart(c C) {
	run := k.run
	run.ID = c.RunID()
	if _, err := k.store.BeginRun(ctxOf(c), run); err != nil {
		k.fail(run.ID, err)
		return
	}
	k.write(c, diag.Event{Kind: diag.KindPipelineStart})
}

func (k *Sink[C]) OnPipelineEnd(c C) {
	k.write(c, diag.Event{Kind: diag.KindPipelineEnd})

	k.mu.Lock()
	outcome := k.outcomes[c.RunID()]
	delete(k.outcomes, c.RunID())
	k.mu.Unlock()

	if err := k.store.FinishRun(ctxOf(c), c.RunID(), outcome); err != nil {
		k.fail(c.RunID(), err)
	}
}

func (k *Sink[C]) OnMiddlewareStart(id pipeline.Identity, c C) {
	k.write(c, diag.Event{Kind: diag.KindStart, Identity: id})
}

func (k *Sink[C]) OnMiddlewareEnd(id pipeline.Identity, c C) {
	k.write(c, diag.Event{Kind: diag.KindEnd, Identity: id})
	k.setOutcome(c.RunID(), nil)
}

func (k *Sink[C]) OnMiddlewareException(id pipeline.Identity, err error, c C) {
	k.write(c, diag.Event{Kind: diag.KindException, Identity: id, Error: err.Error()})
	k.setOutcome(c.RunID(), err)
}
