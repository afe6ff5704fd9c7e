package pipeline

import (
	"fmt"
	"log/slog"
)

// executor holds what both executor flavours share: scope acquisition,
// pipeline-level diagnostics and the guaranteed release.
type executor[C Contextual] struct {
	scopes ScopeFactory
	diag   Diagnostics[C]
	logger *slog.Logger
}

func newExecutor[C Contextual](scopes ScopeFactory, diag Diagnostics[C], opts []ConfigOption) executor[C] {
	cfg := newConfig(opts)
	return executor[C]{
		scopes: scopes,
		diag:   orNop(diag),
		logger: cfg.logger,
	}
}

// acquire creates the invocation scope and binds it to the context.
func (e *executor[C]) acquire(c C) (*Context, Scope, error) {
	pc := c.PipelineContext()
	scope, err := e.scopes.NewScope(pc.Context())
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: acquire scope: %w", err)
	}
	pc.scope = scope
	return pc, scope, nil
}

// end fires pipeline-end, unbinds and closes the scope. Called exactly once
// per successful acquire.
func (e *executor[C]) end(c C, pc *Context, scope Scope) error {
	e.diag.OnPipelineEnd(c)
	pc.scope = nil
	return scope.Close()
}

// result merges the chain error with the scope release error. The chain
// error always wins and is returned as-is.
func (e *executor[C]) result(err, closeErr error) error {
	if closeErr != nil {
		if err != nil {
			e.logger.Error("scope close failed", "error", closeErr, "pipeline_error", err)
			return err
		}
		return fmt.Errorf("pipeline: release scope: %w", closeErr)
	}
	if err != nil {
		e.logger.Debug("pipeline failed", "error", err)
	}
	return err
}

// releaseOnPanic is deferred around the chain call. On panic it performs
// the end-of-pipeline work and re-panics.
func (e *executor[C]) releaseOnPanic(c C, pc *Context, scope Scope) {
	if r := recover(); r != nil {
		if cerr := e.end(c, pc, scope); cerr != nil {
			e.logger.Error("scope close failed", "error", cerr, "panic", r)
		}
		panic(r)
	}
}

// Executor runs a blocking Chain inside a fresh scope per invocation.
type Executor[C Contextual] struct {
	executor[C]
	chain *Chain[C]
}

// NewExecutor creates an Executor. A nil diag uses Nop.
func NewExecutor[C Contextual](scopes ScopeFactory, chain *Chain[C], diag Diagnostics[C], opts ...ConfigOption) *Executor[C] {
	return &Executor[C]{
		executor: newExecutor(scopes, diag, opts),
		chain:    chain,
	}
}

// Execute runs one invocation. Pipeline-end and scope release happen on
// every exit path, including panics, before the error or panic leaves.
func (e *Executor[C]) Execute(c C) error {
	pc, scope, err := e.acquire(c)
	if err != nil {
		return err
	}

	e.diag.OnPipelineStart(c)
	err = e.invoke(c, pc, scope)
	return e.result(err, e.end(c, pc, scope))
}

func (e *Executor[C]) invoke(c C, pc *Context, scope Scope) error {
	defer e.releaseOnPanic(c, pc, scope)
	return e.chain.Invoke(c)
}

// Chain returns the compiled chain.
func (e *Executor[C]) Chain() *Chain[C] {
	return e.chain
}

// AsyncExecutor runs an AsyncChain inside a fresh scope per invocation.
type AsyncExecutor[C Contextual] struct {
	executor[C]
	chain *AsyncChain[C]
}

// NewAsyncExecutor creates an AsyncExecutor. A nil diag uses Nop.
func NewAsyncExecutor[C Contextual](scopes ScopeFactory, chain *AsyncChain[C], diag Diagnostics[C], opts ...ConfigOption) *AsyncExecutor[C] {
	return &AsyncExecutor[C]{
		executor: newExecutor(scopes, diag, opts),
		chain:    chain,
	}
}

// Execute starts one invocation. Pipeline-end and scope release happen when
// the chain's task finishes, or immediately if the chain panics while
// starting.
func (e *AsyncExecutor[C]) Execute(c C) *Task {
	pc, scope, err := e.acquire(c)
	if err != nil {
		return Completed(err)
	}

	e.diag.OnPipelineStart(c)
	t := e.invoke(c, pc, scope)
	return t.then(func(err error) error {
		return e.result(err, e.end(c, pc, scope))
	})
}

func (e *AsyncExecutor[C]) invoke(c C, pc *Context, scope Scope) *Task {
	defer e.releaseOnPanic(c, pc, scope)
	return e.chain.Invoke(c)
}

// Chain returns the compiled chain.
func (e *AsyncExecutor[C]) Chain() *AsyncChain[C] {
	return e.chain
}
