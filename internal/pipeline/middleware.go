package pipeline

// Handler is one compiled step of a blocking chain.
type Handler[C Contextual] func(c C) error

// AsyncHandler is one compiled step of a suspension-capable chain.
type AsyncHandler[C Contextual] func(c C) *Task

// Middleware is the blocking contract. next runs the rest of the chain and
// returns its error; not calling it short-circuits the chain.
type Middleware[C Contextual] interface {
	Invoke(c C, next func() error) error
}

// AsyncMiddleware is the suspension-capable contract. next returns the task
// of the rest of the chain, which the middleware may wait on or chain onto.
type AsyncMiddleware[C Contextual] interface {
	InvokeAsync(c C, next AsyncHandler[C]) *Task
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc[C Contextual] func(c C, next func() error) error

// Invoke implements Middleware.
func (f MiddlewareFunc[C]) Invoke(c C, next func() error) error {
	return f(c, next)
}

// AsyncMiddlewareFunc adapts a function to AsyncMiddleware.
type AsyncMiddlewareFunc[C Contextual] func(c C, next AsyncHandler[C]) *Task

// InvokeAsync implements AsyncMiddleware.
func (f AsyncMiddlewareFunc[C]) InvokeAsync(c C, next AsyncHandler[C]) *Task {
	return f(c, next)
}
