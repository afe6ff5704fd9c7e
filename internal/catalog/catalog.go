package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/onion/internal/manifest"
	"github.com/roach88/onion/internal/pipeline"
	"github.com/roach88/onion/internal/scope"
)

var (
	// ErrUnknownComponent is returned when a manifest entry uses a component
	// the catalog does not have.
	ErrUnknownComponent = errors.New("catalog: unknown component")

	// ErrDuplicateComponent is returned by Register for a taken name.
	ErrDuplicateComponent = errors.New("catalog: duplicate component")
)

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger handed to components.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.env.Logger = logger
	}
}

// WithNow sets the time source handed to components.
func WithNow(now func() time.Time) Option {
	return func(c *Catalog) {
		c.env.Now = now
	}
}

// Catalog maps component names to constructors.
type Catalog struct {
	components map[string]Component
	env        Env
}

// New returns a catalog holding the built-in components.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		components: make(map[string]Component),
		env:        Env{Logger: slog.Default(), Now: time.Now},
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, comp := range builtins() {
		c.components[comp.Name] = comp
	}
	return c
}

// Register adds a component.
func (c *Catalog) Register(comp Component) error {
	if comp.Name == "" || comp.New == nil {
		return fmt.Errorf("catalog: component needs a name and a constructor")
	}
	if _, ok := c.components[comp.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, comp.Name)
	}
	c.components[comp.Name] = comp
	return nil
}

// Lookup returns the named component.
func (c *Catalog) Lookup(name string) (Component, bool) {
	comp, ok := c.components[name]
	return comp, ok
}

// Components returns every component sorted by name.
func (c *Catalog) Components() []Component {
	out := make([]Component, 0, len(c.components))
	for _, comp := range c.components {
		out = append(out, comp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Assembly is a manifest bound to catalog components: the descriptors to
// build from and the registry to resolve instances from.
type Assembly struct {
	Manifest    *manifest.Manifest
	Descriptors []pipeline.Descriptor
	Registry    *scope.Registry
}

// Assemble registers every manifest entry with a fresh registry. Ordering
// is not checked here; Build reports cycles and duplicates.
func (c *Catalog) Assemble(m *manifest.Manifest) (*Assembly, error) {
	a := &Assembly{
		Manifest: m,
		Registry: scope.NewRegistry(),
	}

	for _, e := range m.Middleware {
		comp, ok := c.components[e.Component()]
		if !ok {
			return nil, fmt.Errorf("%w: %s (entry %s)", ErrUnknownComponent, e.Component(), e.ID)
		}
		lifetime, err := scope.ParseLifetime(e.Lifetime)
		if err != nil {
			return nil, fmt.Errorf("catalog: entry %s: %w", e.ID, err)
		}

		d, err := e.Descriptor(comp.Kind)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		a.Descriptors = append(a.Descriptors, d)

		// Duplicate identities are left for the resolver to report.
		if a.Registry.Has(d.Identity) {
			continue
		}
		id, newFn, env := d.Identity, comp.New, c.env
		err = a.Registry.Register(id, lifetime, func(context.Context) (any, error) {
			return inject(id, newFn(id, env)), nil
		})
		if err != nil {
			return nil, fmt.Errorf("catalog: entry %s: %w", e.ID, err)
		}
	}
	return a, nil
}

// Runner runs one compiled pipeline in either mode.
type Runner struct {
	blocking *pipeline.Executor[*Request]
	async    *pipeline.AsyncExecutor[*Request]
	order    []pipeline.Identity
}

// Build compiles the assembly. async selects the suspension-capable chain.
func (a *Assembly) Build(async bool, diag pipeline.Diagnostics[*Request], opts ...pipeline.ConfigOption) (*Runner, error) {
	b := pipeline.NewBuilder[*Request](opts...)
	for _, d := range a.Descriptors {
		b.UseDescriptor(d)
	}

	if async {
		chain, err := b.BuildAsync(diag)
		if err != nil {
			return nil, err
		}
		return &Runner{
			async: pipeline.NewAsyncExecutor(a.Registry, chain, diag, opts...),
			order: chain.Order(),
		}, nil
	}

	chain, err := b.Build(diag)
	if err != nil {
		return nil, err
	}
	return &Runner{
		blocking: pipeline.NewExecutor(a.Registry, chain, diag, opts...),
		order:    chain.Order(),
	}, nil
}

// Close releases singleton instances.
func (a *Assembly) Close() error {
	return a.Registry.Close()
}

// Run executes one invocation and waits for it.
func (r *Runner) Run(req *Request) error {
	if r.async != nil {
		return r.async.Execute(req).Wait()
	}
	return r.blocking.Execute(req)
}

// Order returns the compiled order.
func (r *Runner) Order() []pipeline.Identity {
	return r.order
}

// Async reports whether the runner uses the suspension-capable chain.
func (r *Runner) Async() bool {
	return r.async != nil
}
