package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/onion/internal/diag"
)

func ctx() context.Context { return context.Background() }

func TestBeginRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)

	_, err := s.BeginRun(ctx(), Run{
		ID:       "run-1",
		Manifest: "testdata/basic.cue",
		Mode:     "async",
		Order:    []string{"auth", "logging"},
	})
	require.NoError(t, err)

	run, err := s.ReadRun(ctx(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "testdata/basic.cue", run.Manifest)
	assert.Equal(t, "async", run.Mode)
	assert.Equal(t, []string{"auth", "logging"}, run.Order)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Empty(t, run.Error)
}

func TestBeginRun_Defaults(t *testing.T) {
	s := createTestStore(t)
	_, err := s.BeginRun(ctx(), Run{ID: "run-1"})
	require.NoError(t, err)

	run, err := s.ReadRun(ctx(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "blocking", run.Mode)
	assert.Equal(t, []string{}, run.Order)
}

func TestBeginRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	_, err := s.BeginRun(ctx(), Run{ID: "run-1", Manifest: "first"})
	require.NoError(t, err)
	_, err = s.BeginRun(ctx(), Run{ID: "run-1", Manifest: "second"})
	require.NoError(t, err)

	runs, err := s.ReadRuns(ctx())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "first", runs[0].Manifest)
}

func TestWriteEvent_RequiresRun(t *testing.T) {
	s := createTestStore(t)
	_, err := s.WriteEvent(ctx(), "ghost", diag.Event{Kind: diag.KindPipelineStart})
	assert.Error(t, err)
}

func TestWriteEvent_Ordering(t *testing.T) {
	s := createTestStore(t)
	_, err := s.BeginRun(ctx(), Run{ID: "run-1"})
	require.NoError(t, err)

	in := []diag.Event{
		{Kind: diag.KindPipelineStart},
		{Kind: diag.KindStart, Identity: "auth"},
		{Kind: diag.KindException, Identity: "auth", Error: "denied"},
		{Kind: diag.KindPipelineEnd},
	}
	var last int64
	for _, e := range in {
		seq, err := s.WriteEvent(ctx(), "run-1", e)
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}

	out, err := s.ReadEvents(ctx(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"pipeline:start",
		"mw:start auth",
		"mw:ex auth: denied",
		"pipeline:end",
	}, diag.Strings(out))

	n, err := s.CountEvents(ctx(), diag.KindException)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadEvents_EmptyNotNil(t *testing.T) {
	s := createTestStore(t)
	events, err := s.ReadEvents(ctx(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	runs, err := s.ReadRuns(ctx())
	require.NoError(t, err)
	assert.NotNil(t, runs)
}

func TestFinishRun(t *testing.T) {
	s := createTestStore(t)
	for _, id := range []string{"ok", "bad"} {
		_, err := s.BeginRun(ctx(), Run{ID: id})
		require.NoError(t, err)
	}

	require.NoError(t, s.FinishRun(ctx(), "ok", nil))
	require.NoError(t, s.FinishRun(ctx(), "bad", errors.New("Test exception")))
	assert.Error(t, s.FinishRun(ctx(), "ghost", nil))

	runs, err := s.ReadRuns(ctx())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "ok", runs[0].ID)
	assert.Equal(t, StatusOK, runs[0].Status)
	assert.Equal(t, StatusError, runs[1].Status)
	assert.Equal(t, "Test exception", runs[1].Error)
}
