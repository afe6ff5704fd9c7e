package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/onion/internal/pipeline"
)

// createTestStore opens a store in a temp dir, closed on cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type request struct {
	pipeline.Context
	id string
}

func (r *request) RunID() string { return r.id }

func newRequest(id string) *request {
	return &request{Context: pipeline.NewContext(context.Background()), id: id}
}
