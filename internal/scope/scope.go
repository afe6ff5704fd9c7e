// Package scope provides the resolution provider used by the onion CLI and
// harness: a registry of middleware factories keyed by identity, handing out
// one Scope per pipeline invocation.
//
// Lifetimes:
//   - Scoped: one instance per Scope, created on first resolve
//   - Transient: a new instance on every resolve
//   - Singleton: one instance per Registry, shared by every Scope
//
// Instances implementing io.Closer are closed by their owner: Scoped and
// Transient instances when the Scope closes, Singletons when the Registry
// closes. Closing runs in reverse creation order.
package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/roach88/onion/internal/pipeline"
)

var (
	// ErrNotRegistered is returned when no factory exists for an identity.
	ErrNotRegistered = errors.New("scope: identity not registered")

	// ErrScopeClosed is returned by a Scope or Registry used after Close.
	ErrScopeClosed = errors.New("scope: closed")
)

// Lifetime controls how often a factory runs.
type Lifetime int

const (
	Scoped Lifetime = iota
	Transient
	Singleton
)

func (l Lifetime) String() string {
	switch l {
	case Scoped:
		return "scoped"
	case Transient:
		return "transient"
	case Singleton:
		return "singleton"
	default:
		return fmt.Sprintf("Lifetime(%d)", int(l))
	}
}

// ParseLifetime parses the manifest spelling of a lifetime. Empty means
// Scoped.
func ParseLifetime(s string) (Lifetime, error) {
	switch s {
	case "", "scoped":
		return Scoped, nil
	case "transient":
		return Transient, nil
	case "singleton":
		return Singleton, nil
	default:
		return 0, fmt.Errorf("invalid lifetime %q: must be scoped, transient, or singleton", s)
	}
}

// Factory creates a middleware instance. ctx is the invocation's context.
type Factory func(ctx context.Context) (any, error)

type registration struct {
	lifetime Lifetime
	factory  Factory

	// singleton state
	once sync.Once
	inst any
	err  error
}

// Registry holds factories and owns singleton instances. Register before
// the first NewScope; resolution is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[pipeline.Identity]*registration
	owned   []io.Closer
	closed  bool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[pipeline.Identity]*registration)}
}

// Register adds a factory for id.
func (r *Registry) Register(id pipeline.Identity, lifetime Lifetime, factory Factory) error {
	if id == "" {
		return errors.New("scope: empty identity")
	}
	if factory == nil {
		return fmt.Errorf("scope: nil factory for %s", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("scope: %s already registered", id)
	}
	r.entries[id] = &registration{lifetime: lifetime, factory: factory}
	return nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id pipeline.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Identities returns the registered identities, sorted.
func (r *Registry) Identities() []pipeline.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]pipeline.Identity, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NewScope implements pipeline.ScopeFactory.
func (r *Registry) NewScope(ctx context.Context) (pipeline.Scope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrScopeClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scope{
		ctx:      ctx,
		registry: r,
		cache:    make(map[pipeline.Identity]any),
	}, nil
}

// Close closes singleton instances in reverse creation order. Further
// scopes cannot be created.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	owned := r.owned
	r.owned = nil
	r.mu.Unlock()

	return closeReverse(owned)
}

func (r *Registry) lookup(id pipeline.Identity) (*registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrScopeClosed
	}
	reg, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	return reg, nil
}

func (r *Registry) singleton(ctx context.Context, reg *registration) (any, error) {
	reg.once.Do(func() {
		reg.inst, reg.err = reg.factory(ctx)
		if c, ok := reg.inst.(io.Closer); ok && reg.err == nil {
			r.mu.Lock()
			r.owned = append(r.owned, c)
			r.mu.Unlock()
		}
	})
	return reg.inst, reg.err
}

// Scope resolves instances for one invocation.
type Scope struct {
	ctx      context.Context
	registry *Registry

	mu     sync.Mutex
	cache  map[pipeline.Identity]any
	owned  []io.Closer
	closed bool
}

// Resolve implements pipeline.Resolver.
func (s *Scope) Resolve(id pipeline.Identity) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrScopeClosed
	}

	reg, err := s.registry.lookup(id)
	if err != nil {
		return nil, err
	}

	switch reg.lifetime {
	case Singleton:
		inst, err := s.registry.singleton(s.ctx, reg)
		if err != nil {
			return nil, fmt.Errorf("scope: resolve %s: %w", id, err)
		}
		return inst, nil
	case Scoped:
		if inst, ok := s.cache[id]; ok {
			return inst, nil
		}
	}

	inst, err := reg.factory(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("scope: resolve %s: %w", id, err)
	}
	if reg.lifetime == Scoped {
		s.cache[id] = inst
	}
	if c, ok := inst.(io.Closer); ok {
		s.owned = append(s.owned, c)
	}
	return inst, nil
}

// Close implements pipeline.Scope. Owned instances are closed in reverse
// creation order and their errors joined. Closing twice is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	owned := s.owned
	s.owned = nil
	s.cache = nil
	s.mu.Unlock()

	return closeReverse(owned)
}

func closeReverse(cs []io.Closer) error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
