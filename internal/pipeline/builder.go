package pipeline

import (
	"log/slog"
)

// ConfigOption configures a Builder or an executor.
type ConfigOption func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) ConfigOption {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func newConfig(opts []ConfigOption) config {
	c := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Builder collects middleware registrations in insertion order and compiles
// them into chains. A Builder is not safe for concurrent use; the chains it
// produces are.
type Builder[C Contextual] struct {
	descriptors []Descriptor
	logger      *slog.Logger
}

// NewBuilder creates an empty Builder.
func NewBuilder[C Contextual](opts ...ConfigOption) *Builder[C] {
	cfg := newConfig(opts)
	return &Builder[C]{logger: cfg.logger}
}

// Use registers a blocking middleware (Middleware[C]).
func (b *Builder[C]) Use(id Identity, opts ...Option) *Builder[C] {
	return b.UseDescriptor(Describe(id, KindBlocking, opts...))
}

// UseAsync registers a suspension-capable middleware (AsyncMiddleware[C]).
func (b *Builder[C]) UseAsync(id Identity, opts ...Option) *Builder[C] {
	return b.UseDescriptor(Describe(id, KindAsync, opts...))
}

// UseDescriptor registers a prepared descriptor, e.g. one read from a
// manifest.
func (b *Builder[C]) UseDescriptor(d Descriptor) *Builder[C] {
	b.descriptors = append(b.descriptors, d.clone())
	return b
}

// Descriptors returns the registrations in insertion order.
func (b *Builder[C]) Descriptors() []Descriptor {
	return cloneAll(b.descriptors)
}

// Build compiles a blocking chain. A nil diag uses Nop.
func (b *Builder[C]) Build(diag Diagnostics[C]) (*Chain[C], error) {
	order, err := b.resolve()
	if err != nil {
		return nil, err
	}
	d := orNop(diag)

	var next Handler[C] = func(C) error { return nil }
	for i := len(order) - 1; i >= 0; i-- {
		next = blockingStep(order[i].Identity, blockingAdapter[C](order[i].Kind), d, next)
	}

	b.logger.Debug("pipeline compiled",
		"mode", "blocking",
		"steps", len(order)+1,
		"order", identities(order),
	)
	return &Chain[C]{order: order, entry: next}, nil
}

// BuildAsync compiles a suspension-capable chain. A nil diag uses Nop.
func (b *Builder[C]) BuildAsync(diag Diagnostics[C]) (*AsyncChain[C], error) {
	order, err := b.resolve()
	if err != nil {
		return nil, err
	}
	d := orNop(diag)

	var next AsyncHandler[C] = func(C) *Task { return completedTask }
	for i := len(order) - 1; i >= 0; i-- {
		next = asyncStep(order[i].Identity, asyncAdapter[C](order[i].Kind), d, next)
	}

	b.logger.Debug("pipeline compiled",
		"mode", "async",
		"steps", len(order)+1,
		"order", identities(order),
	)
	return &AsyncChain[C]{order: order, entry: next}, nil
}

func (b *Builder[C]) resolve() ([]Descriptor, error) {
	order, err := Resolve(b.descriptors)
	if err != nil {
		b.logger.Debug("pipeline build failed", "error", err)
		return nil, err
	}
	return order, nil
}

func identities(ds []Descriptor) []Identity {
	ids := make([]Identity, len(ds))
	for i, d := range ds {
		ids[i] = d.Identity
	}
	return ids
}
