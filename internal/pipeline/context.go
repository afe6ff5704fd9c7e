package pipeline

import "context"

// Resolver returns a live middleware instance for an identity.
type Resolver interface {
	Resolve(id Identity) (any, error)
}

// Scope is a Resolver with a lifetime of exactly one invocation.
type Scope interface {
	Resolver
	Close() error
}

// ScopeFactory creates a fresh Scope per invocation.
type ScopeFactory interface {
	NewScope(ctx context.Context) (Scope, error)
}

// Contextual is satisfied by any type that embeds Context. Chains, executors
// and diagnostics are generic over it, so middleware sees the caller's own
// request type.
type Contextual interface {
	PipelineContext() *Context
}

// Context is the per-invocation state shared by every step of one chain
// run. Embed it in a request type:
//
//	type Request struct {
//		pipeline.Context
//		User string
//	}
//
// A Context belongs to one invocation and must not be shared between
// concurrent invocations.
type Context struct {
	ctx      context.Context
	items    map[string]any
	resolver Resolver
	scope    Scope // owned by the executor
}

// NewContext returns a Context carrying ctx's cancellation signal.
func NewContext(ctx context.Context) Context {
	return Context{ctx: ctx}
}

// PipelineContext implements Contextual.
func (c *Context) PipelineContext() *Context {
	return c
}

// Context returns the cancellation context. Never nil.
func (c *Context) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Done reports cancellation. Steps are never interrupted by the engine;
// middleware that cares must check it.
func (c *Context) Done() <-chan struct{} {
	return c.Context().Done()
}

// Err returns the cancellation cause, if any.
func (c *Context) Err() error {
	return c.Context().Err()
}

// Get returns an item from the bag.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.items[key]
	return v, ok
}

// Set stores an item in the bag.
func (c *Context) Set(key string, value any) {
	if c.items == nil {
		c.items = make(map[string]any)
	}
	c.items[key] = value
}

// Delete removes an item from the bag.
func (c *Context) Delete(key string) {
	delete(c.items, key)
}

// Items returns a copy of the bag.
func (c *Context) Items() map[string]any {
	out := make(map[string]any, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// Resolver returns the resolver steps resolve from: the executor's scope
// while one is bound, otherwise the one set by BindResolver. Nil if neither.
func (c *Context) Resolver() Resolver {
	if c.scope != nil {
		return c.scope
	}
	return c.resolver
}

// BindResolver binds r for chains invoked directly, without an Executor.
// It never replaces a scope bound by an Executor.
func (c *Context) BindResolver(r Resolver) {
	c.resolver = r
}

func (c *Context) resolve(id Identity) (any, error) {
	r := c.Resolver()
	if r == nil {
		return nil, ErrNoResolver
	}
	return r.Resolve(id)
}
