package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_Completed(t *testing.T) {
	ok := Completed(nil)
	assert.True(t, ok.IsDone())
	assert.NoError(t, ok.Err())
	assert.NoError(t, ok.Wait())

	boom := errors.New("boom")
	failed := Completed(boom)
	assert.True(t, failed.IsDone())
	assert.Same(t, boom, failed.Err())
	assert.Same(t, boom, failed.Wait())
}

func TestTask_NilIsCompleted(t *testing.T) {
	var task *Task
	assert.True(t, task.IsDone())
	assert.NoError(t, task.Err())
	assert.NoError(t, task.Wait())

	select {
	case <-task.Done():
	default:
		t.Fatal("nil task Done channel not closed")
	}
}

func TestTask_Go(t *testing.T) {
	gate := make(chan struct{})
	boom := errors.New("boom")

	task := Go(func() error {
		<-gate
		return boom
	})
	assert.False(t, task.IsDone())
	assert.NoError(t, task.Err())

	close(gate)
	assert.Same(t, boom, task.Wait())
	assert.True(t, task.IsDone())
	assert.Same(t, boom, task.Err())
}

func TestTask_GoRecoversPanic(t *testing.T) {
	task := Go(func() error { panic("boom") })

	var pe *PanicError
	require.ErrorAs(t, task.Wait(), &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.Equal(t, "panic: boom", pe.Error())
	assert.NotEmpty(t, pe.Stack)
	assert.NoError(t, pe.Unwrap())
}

func TestTask_GoPanicWithErrorUnwraps(t *testing.T) {
	boom := errors.New("boom")
	task := Go(func() error { panic(boom) })

	err := task.Wait()
	assert.ErrorIs(t, err, boom)
}

func TestTask_ThenOnCompletedRunsInline(t *testing.T) {
	ran := false
	out := Completed(nil).then(func(err error) error {
		ran = true
		return err
	})
	// No goroutine involved, so the flag is visible immediately.
	assert.True(t, ran)
	assert.True(t, out.IsDone())
}

func TestTask_ThenWaitsForPendingTask(t *testing.T) {
	gate := make(chan struct{})
	boom := errors.New("boom")

	src := Go(func() error {
		<-gate
		return boom
	})
	var seen error
	out := src.then(func(err error) error {
		seen = err
		return errors.Join(err, errors.New("wrapped"))
	})
	assert.False(t, out.IsDone())

	close(gate)
	err := out.Wait()
	assert.ErrorIs(t, err, boom)
	assert.Same(t, boom, seen)
}

func TestTask_DoneSelect(t *testing.T) {
	task := Go(func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
	assert.NoError(t, task.Err())
}
