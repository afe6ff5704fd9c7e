package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// Test request type
// =============================================================================

type testRequest struct {
	Context
	Authorized bool
	Fail       bool
	Trace      []string
}

func newRequest() *testRequest {
	return &testRequest{Context: NewContext(context.Background()), Authorized: true}
}

func (r *testRequest) add(entry string) {
	r.Trace = append(r.Trace, entry)
}

const (
	idAuth     Identity = "auth"
	idLogging  Identity = "logging"
	idTerminal Identity = "terminal"
	idError    Identity = "error"
	idPanic    Identity = "panic"
	idAsync    Identity = "async"
)

var errUnregistered = errors.New("test: not registered")

// =============================================================================
// Test middleware
// =============================================================================

func loggingMW() Middleware[*testRequest] {
	return MiddlewareFunc[*testRequest](func(c *testRequest, next func() error) error {
		c.add("logging:before")
		if err := next(); err != nil {
			return err
		}
		c.add("logging:after")
		return nil
	})
}

func authMW() Middleware[*testRequest] {
	return MiddlewareFunc[*testRequest](func(c *testRequest, next func() error) error {
		c.add("auth")
		if !c.Authorized {
			return nil
		}
		return next()
	})
}

func terminalMW() Middleware[*testRequest] {
	return MiddlewareFunc[*testRequest](func(c *testRequest, _ func() error) error {
		c.add("terminal")
		return nil
	})
}

func errorMW() Middleware[*testRequest] {
	return MiddlewareFunc[*testRequest](func(c *testRequest, next func() error) error {
		c.add("error:before")
		if c.Fail {
			return errors.New("Test exception")
		}
		if err := next(); err != nil {
			return err
		}
		c.add("error:after")
		return nil
	})
}

func panicMW() Middleware[*testRequest] {
	return MiddlewareFunc[*testRequest](func(c *testRequest, _ func() error) error {
		c.add("panic")
		panic("kaboom")
	})
}

func traceMW(name string) Middleware[*testRequest] {
	return MiddlewareFunc[*testRequest](func(c *testRequest, next func() error) error {
		c.add(name)
		return next()
	})
}

// asyncMW continues on a goroutine and records after the downstream task.
func asyncMW(name string) AsyncMiddleware[*testRequest] {
	return AsyncMiddlewareFunc[*testRequest](func(c *testRequest, next AsyncHandler[*testRequest]) *Task {
		c.add(name + ":before")
		return Go(func() error {
			if err := next(c).Wait(); err != nil {
				return err
			}
			c.add(name + ":after")
			return nil
		})
	})
}

// =============================================================================
// Test resolution provider
// =============================================================================

type testScopes struct {
	factories map[Identity]func() any
	created   atomic.Int32
	closed    atomic.Int32
	resolved  atomic.Int32
	newErr    error
	closeErr  error
}

func newScopes() *testScopes {
	return &testScopes{factories: map[Identity]func() any{
		idAuth:     func() any { return authMW() },
		idLogging:  func() any { return loggingMW() },
		idTerminal: func() any { return terminalMW() },
		idError:    func() any { return errorMW() },
		idPanic:    func() any { return panicMW() },
		idAsync:    func() any { return asyncMW("async") },
	}}
}

func (s *testScopes) with(id Identity, f func() any) *testScopes {
	s.factories[id] = f
	return s
}

func (s *testScopes) NewScope(context.Context) (Scope, error) {
	if s.newErr != nil {
		return nil, s.newErr
	}
	s.created.Add(1)
	return &testScope{parent: s}, nil
}

type testScope struct {
	parent *testScopes
}

func (s *testScope) Resolve(id Identity) (any, error) {
	f, ok := s.parent.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnregistered, id)
	}
	s.parent.resolved.Add(1)
	return f(), nil
}

func (s *testScope) Close() error {
	s.parent.closed.Add(1)
	return s.parent.closeErr
}

// =============================================================================
// Recording diagnostics
// =============================================================================

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnPipelineStart(*testRequest) { r.add("pipeline:start") }
func (r *recorder) OnPipelineEnd(*testRequest)   { r.add("pipeline:end") }
func (r *recorder) OnMiddlewareStart(id Identity, _ *testRequest) {
	r.add("mw:start:" + id.Name())
}
func (r *recorder) OnMiddlewareEnd(id Identity, _ *testRequest) {
	r.add("mw:end:" + id.Name())
}
func (r *recorder) OnMiddlewareException(id Identity, err error, _ *testRequest) {
	r.add("mw:ex:" + id.Name() + ":" + err.Error())
}

// build compiles a blocking executor over the given registrations.
func build(t *testing.T, scopes *testScopes, diag Diagnostics[*testRequest], register func(b *Builder[*testRequest])) *Executor[*testRequest] {
	t.Helper()
	b := NewBuilder[*testRequest]()
	register(b)
	chain, err := b.Build(diag)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return NewExecutor(scopes, chain, diag)
}

// buildAsync compiles an async executor over the given registrations.
func buildAsync(t *testing.T, scopes *testScopes, diag Diagnostics[*testRequest], register func(b *Builder[*testRequest])) *AsyncExecutor[*testRequest] {
	t.Helper()
	b := NewBuilder[*testRequest]()
	register(b)
	chain, err := b.BuildAsync(diag)
	if err != nil {
		t.Fatalf("build async: %v", err)
	}
	return NewAsyncExecutor(scopes, chain, diag)
}
