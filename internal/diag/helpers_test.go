package diag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/onion/internal/pipeline"
	"github.com/roach88/onion/internal/scope"
)

type request struct {
	pipeline.Context
	Fail bool
}

func newRequest() *request {
	return &request{Context: pipeline.NewContext(context.Background())}
}

var errTest = errors.New("Test exception")

func registry(t *testing.T) *scope.Registry {
	t.Helper()
	r := scope.NewRegistry()
	pass := func(context.Context) (any, error) {
		return pipeline.MiddlewareFunc[*request](func(_ *request, next func() error) error {
			return next()
		}), nil
	}
	fail := func(context.Context) (any, error) {
		return pipeline.MiddlewareFunc[*request](func(c *request, next func() error) error {
			if c.Fail {
				return errTest
			}
			return next()
		}), nil
	}
	require.NoError(t, r.Register("outer", scope.Transient, pass))
	require.NoError(t, r.Register("fail", scope.Transient, fail))
	return r
}

// run executes [outer, fail] once against diag.
func run(t *testing.T, diag pipeline.Diagnostics[*request], req *request) error {
	t.Helper()
	b := pipeline.NewBuilder[*request]()
	b.Use("outer")
	b.Use("fail")
	chain, err := b.Build(diag)
	require.NoError(t, err)
	return pipeline.NewExecutor(registry(t), chain, diag).Execute(req)
}
