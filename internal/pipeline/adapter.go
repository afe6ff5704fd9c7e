package pipeline

import "fmt"

// invoker calls a resolved instance inside a blocking chain.
type invoker[C Contextual] func(id Identity, inst any, c C, next Handler[C]) error

// asyncInvoker calls a resolved instance inside a suspension-capable chain.
type asyncInvoker[C Contextual] func(id Identity, inst any, c C, next AsyncHandler[C]) *Task

// blockingAdapter selects how a registration of kind k runs in a blocking
// chain. Called once per step at build time.
func blockingAdapter[C Contextual](k Kind) invoker[C] {
	if k == KindAsync {
		return invokeAsyncBlocking[C]
	}
	return invokeBlocking[C]
}

// asyncAdapter selects how a registration of kind k runs in a
// suspension-capable chain. Called once per step at build time.
func asyncAdapter[C Contextual](k Kind) asyncInvoker[C] {
	if k == KindAsync {
		return invokeAsync[C]
	}
	return invokeBlockingAsync[C]
}

func invokeBlocking[C Contextual](id Identity, inst any, c C, next Handler[C]) error {
	mw, ok := inst.(Middleware[C])
	if !ok {
		return mismatch[C](id, inst, "Middleware")
	}
	return mw.Invoke(c, func() error { return next(c) })
}

// invokeAsyncBlocking runs an async middleware in a blocking chain. The rest
// of the chain runs synchronously inside next, and the step waits for the
// middleware's task. The wait deadlocks if finishing that task needs the
// waiting goroutine.
func invokeAsyncBlocking[C Contextual](id Identity, inst any, c C, next Handler[C]) error {
	mw, ok := inst.(AsyncMiddleware[C])
	if !ok {
		return mismatch[C](id, inst, "AsyncMiddleware")
	}
	return mw.InvokeAsync(c, func(c C) *Task {
		return Completed(next(c))
	}).Wait()
}

func invokeAsync[C Contextual](id Identity, inst any, c C, next AsyncHandler[C]) *Task {
	mw, ok := inst.(AsyncMiddleware[C])
	if !ok {
		return Completed(mismatch[C](id, inst, "AsyncMiddleware"))
	}
	return mw.InvokeAsync(c, next)
}

// invokeBlockingAsync runs a blocking middleware in a suspension-capable
// chain. The blocking call is the synchronous body of the step, and its next
// blocks until the downstream task finishes. Same deadlock hazard as
// invokeAsyncBlocking: under a cooperative single-goroutine scheduler the
// downstream task can never finish while this goroutine waits.
func invokeBlockingAsync[C Contextual](id Identity, inst any, c C, next AsyncHandler[C]) *Task {
	mw, ok := inst.(Middleware[C])
	if !ok {
		return Completed(mismatch[C](id, inst, "Middleware"))
	}
	return Completed(mw.Invoke(c, func() error {
		return next(c).Wait()
	}))
}

func mismatch[C Contextual](id Identity, inst any, contract string) error {
	return fmt.Errorf("%w: %s (%T) does not implement %s[%T]", ErrContractMismatch, id, inst, contract, *new(C))
}
