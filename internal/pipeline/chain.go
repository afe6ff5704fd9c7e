package pipeline

import (
	"runtime/debug"
)

// Chain is a compiled blocking pipeline. It holds no per-invocation state
// and may be invoked concurrently.
type Chain[C Contextual] struct {
	order []Descriptor
	entry Handler[C]
}

// Invoke runs the chain. The context must have a resolver bound; executors
// do that, direct callers use Context.BindResolver.
func (ch *Chain[C]) Invoke(c C) error {
	return ch.entry(c)
}

// Order returns the resolved execution order.
func (ch *Chain[C]) Order() []Identity {
	return identities(ch.order)
}

// Descriptors returns the resolved descriptors in execution order.
func (ch *Chain[C]) Descriptors() []Descriptor {
	return cloneAll(ch.order)
}

// Steps returns the number of compiled steps, including the terminal one.
func (ch *Chain[C]) Steps() int {
	return len(ch.order) + 1
}

// AsyncChain is a compiled suspension-capable pipeline. It holds no
// per-invocation state and may be invoked concurrently.
type AsyncChain[C Contextual] struct {
	order []Descriptor
	entry AsyncHandler[C]
}

// Invoke starts the chain and returns its task.
func (ch *AsyncChain[C]) Invoke(c C) *Task {
	return ch.entry(c)
}

// Order returns the resolved execution order.
func (ch *AsyncChain[C]) Order() []Identity {
	return identities(ch.order)
}

// Descriptors returns the resolved descriptors in execution order.
func (ch *AsyncChain[C]) Descriptors() []Descriptor {
	return cloneAll(ch.order)
}

// Steps returns the number of compiled steps, including the terminal one.
func (ch *AsyncChain[C]) Steps() int {
	return len(ch.order) + 1
}

// blockingStep wraps one middleware around next.
//
// Errors from resolution, from the middleware, or from anything downstream
// are reported to OnMiddlewareException and returned unchanged. Panics are
// reported the same way and re-raised with the original value.
func blockingStep[C Contextual](id Identity, call invoker[C], diag Diagnostics[C], next Handler[C]) Handler[C] {
	return func(c C) error {
		diag.OnMiddlewareStart(id, c)
		defer observePanic(id, c, diag)

		inst, err := c.PipelineContext().resolve(id)
		if err == nil {
			err = call(id, inst, c, next)
		}
		if err != nil {
			diag.OnMiddlewareException(id, err, c)
			return err
		}

		diag.OnMiddlewareEnd(id, c)
		return nil
	}
}

// asyncStep is blockingStep for suspension-capable chains. The end or
// exception event fires when the middleware's task finishes.
func asyncStep[C Contextual](id Identity, call asyncInvoker[C], diag Diagnostics[C], next AsyncHandler[C]) AsyncHandler[C] {
	return func(c C) *Task {
		diag.OnMiddlewareStart(id, c)
		defer observePanic(id, c, diag)

		var t *Task
		inst, err := c.PipelineContext().resolve(id)
		if err != nil {
			t = Completed(err)
		} else {
			t = call(id, inst, c, next)
		}

		return t.then(func(err error) error {
			if err != nil {
				diag.OnMiddlewareException(id, err, c)
				return err
			}
			diag.OnMiddlewareEnd(id, c)
			return nil
		})
	}
}

// observePanic must be deferred directly so recover sees the panic.
func observePanic[C Contextual](id Identity, c C, diag Diagnostics[C]) {
	if r := recover(); r != nil {
		diag.OnMiddlewareException(id, &PanicError{Value: r, Stack: debug.Stack()}, c)
		panic(r)
	}
}

func cloneAll(ds []Descriptor) []Descriptor {
	out := make([]Descriptor, len(ds))
	for i, d := range ds {
		out[i] = d.clone()
	}
	return out
}
