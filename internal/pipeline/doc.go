// Package pipeline implements the onion middleware engine.
//
// A pipeline is built from an unordered list of middleware registrations.
// Each registration names an Identity and may carry a coarse order and
// before/after constraints. Build resolves one deterministic order, compiles
// it into a nested chain, and the executors run that chain once per
// invocation inside a fresh resolution scope.
//
// ARCHITECTURE:
//
// Build time (once):
//  1. Descriptors are collected from Builder.Use / UseAsync / UseDescriptor.
//  2. Resolve stable-sorts by coarse order, then runs a depth-first
//     topological sort over the before/after constraint graph.
//  3. The resolved order is folded right-to-left into a chain of steps,
//     the last step wrapping a terminal no-op.
//
// Run time (per invocation):
//  1. The executor acquires a Scope from its ScopeFactory and binds it to
//     the invocation Context.
//  2. Diagnostics.OnPipelineStart fires and the chain runs.
//  3. Each step resolves its middleware instance from the bound scope and
//     invokes it with a continuation to the next step.
//  4. Diagnostics.OnPipelineEnd fires and the scope is closed, on every
//     exit path.
//
// INVOCATION STYLES:
//
// Middleware comes in two styles. Middleware[C] blocks: its continuation is
// an ordinary call. AsyncMiddleware[C] returns a *Task: its continuation
// returns a *Task that may still be running. Either style can be placed in
// either chain (Build or BuildAsync); the adapter is chosen from the
// registration Kind at build time.
//
// Waiting on a task from inside a blocking step assumes another goroutine
// can finish that task. Under a cooperative single-goroutine scheduler that
// assumption fails and the wait never returns. Keep one style per chain in
// that model.
//
// ERRORS:
//
// Ordering problems are *BuildError values returned from Build. Run-time
// errors are returned by the executors unchanged: every enclosing step
// reports them through OnMiddlewareException and passes them on as-is.
package pipeline
