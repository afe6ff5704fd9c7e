package catalog

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/roach88/onion/internal/pipeline"
)

type (
	blockingMW = pipeline.Middleware[*Request]
	asyncMW    = pipeline.AsyncMiddleware[*Request]
	asyncNext  = pipeline.AsyncHandler[*Request]
)

// FaultError is returned by a step that fails on purpose.
type FaultError struct {
	Identity pipeline.Identity
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("injected fault at %s", e.Identity)
}

// deniedKey is set in the item bag when auth short-circuits.
const deniedKey = "auth.denied"

// Env is what component constructors may depend on.
type Env struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// Component is a named middleware constructor.
type Component struct {
	Name        string
	Kind        pipeline.Kind
	Description string

	// New returns a Middleware[*Request] or AsyncMiddleware[*Request]
	// matching Kind.
	New func(id pipeline.Identity, env Env) any
}

func builtins() []Component {
	return []Component{
		{Name: "async", Kind: pipeline.KindAsync, Description: "continues the chain on a goroutine", New: newAsync},
		{Name: "auth", Kind: pipeline.KindBlocking, Description: "short-circuits unauthorized requests", New: newAuth},
		{Name: "cancel", Kind: pipeline.KindBlocking, Description: "stops when the request is cancelled", New: newCancel},
		{Name: "fail", Kind: pipeline.KindBlocking, Description: "always fails", New: newFail},
		{Name: "logging", Kind: pipeline.KindBlocking, Description: "logs request start and finish", New: newLogging},
		{Name: "panic", Kind: pipeline.KindBlocking, Description: "always panics", New: newPanic},
		{Name: "recover", Kind: pipeline.KindBlocking, Description: "turns downstream panics into errors", New: newRecover},
		{Name: "tag", Kind: pipeline.KindBlocking, Description: "marks the request in the item bag", New: newTag},
		{Name: "terminal", Kind: pipeline.KindBlocking, Description: "handles the request, never calls next", New: newTerminal},
		{Name: "timing", Kind: pipeline.KindAsync, Description: "measures the downstream chain", New: newTiming},
	}
}

func newAuth(id pipeline.Identity, _ Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, next func() error) error {
		if !r.Authorized {
			r.Record(id.Name() + ":denied")
			r.Set(deniedKey, true)
			return nil
		}
		r.Record(id.Name())
		if r.Principal != "" {
			r.Set("principal", r.Principal)
		}
		return next()
	})
}

func newLogging(id pipeline.Identity, env Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, next func() error) error {
		r.Record(id.Name() + ":before")
		env.Logger.LogAttrs(r.Context.Context(), slog.LevelInfo, "request started",
			append([]slog.Attr{slog.String("middleware", id.String())}, r.LogAttrs()...)...)

		if err := next(); err != nil {
			env.Logger.LogAttrs(r.Context.Context(), slog.LevelWarn, "request failed",
				append([]slog.Attr{slog.String("middleware", id.String()), slog.Any("error", err)}, r.LogAttrs()...)...)
			return err
		}

		r.Record(id.Name() + ":after")
		env.Logger.LogAttrs(r.Context.Context(), slog.LevelInfo, "request finished",
			append([]slog.Attr{slog.String("middleware", id.String())}, r.LogAttrs()...)...)
		return nil
	})
}

func newRecover(id pipeline.Identity, _ Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, next func() error) (err error) {
		r.Record(id.Name())
		defer func() {
			if v := recover(); v != nil {
				r.Record(id.Name() + ":recovered")
				err = &pipeline.PanicError{Value: v, Stack: debug.Stack()}
			}
		}()
		return next()
	})
}

func newFail(id pipeline.Identity, _ Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, _ func() error) error {
		r.Record(id.Name())
		return &FaultError{Identity: id}
	})
}

func newPanic(id pipeline.Identity, _ Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, _ func() error) error {
		r.Record(id.Name())
		panic(fmt.Sprintf("panic at %s", id))
	})
}

func newTerminal(id pipeline.Identity, _ Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, _ func() error) error {
		r.Record(id.Name())
		r.Set("handled_by", id.String())
		return nil
	})
}

func newCancel(id pipeline.Identity, _ Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, next func() error) error {
		if err := r.Err(); err != nil {
			r.Record(id.Name() + ":cancelled")
			return err
		}
		r.Record(id.Name())
		return next()
	})
}

func newTag(id pipeline.Identity, _ Env) any {
	return pipeline.MiddlewareFunc[*Request](func(r *Request, next func() error) error {
		r.Record(id.Name())
		r.Set("tag."+id.Name(), true)
		return next()
	})
}

func newAsync(id pipeline.Identity, _ Env) any {
	return pipeline.AsyncMiddlewareFunc[*Request](func(r *Request, next asyncNext) *pipeline.Task {
		r.Record(id.Name() + ":before")
		return pipeline.Go(func() error {
			if err := next(r).Wait(); err != nil {
				return err
			}
			r.Record(id.Name() + ":after")
			return nil
		})
	})
}

// newTiming stores the downstream duration in milliseconds under
// "<name>.elapsed_ms".
func newTiming(id pipeline.Identity, env Env) any {
	return pipeline.AsyncMiddlewareFunc[*Request](func(r *Request, next asyncNext) *pipeline.Task {
		r.Record(id.Name() + ":before")
		start := env.Now()
		return pipeline.Go(func() error {
			err := next(r).Wait()
			r.Set(id.Name()+".elapsed_ms", env.Now().Sub(start).Milliseconds())
			if err != nil {
				return err
			}
			r.Record(id.Name() + ":after")
			return nil
		})
	})
}

// inject wraps inst so the request's FailAt and PanicAt targets fire when
// the step is entered.
func inject(id pipeline.Identity, inst any) any {
	switch m := inst.(type) {
	case blockingMW:
		return pipeline.MiddlewareFunc[*Request](func(r *Request, next func() error) error {
			if err := fault(id, r); err != nil {
				return err
			}
			return m.Invoke(r, next)
		})
	case asyncMW:
		return pipeline.AsyncMiddlewareFunc[*Request](func(r *Request, next asyncNext) *pipeline.Task {
			if err := fault(id, r); err != nil {
				return pipeline.Completed(err)
			}
			return m.InvokeAsync(r, next)
		})
	default:
		return inst
	}
}

func fault(id pipeline.Identity, r *Request) error {
	switch string(id) {
	case r.PanicAt:
		r.Record(id.Name() + ":panic")
		panic(fmt.Sprintf("injected panic at %s", id))
	case r.FailAt:
		r.Record(id.Name() + ":fault")
		return &FaultError{Identity: id}
	}
	return nil
}
