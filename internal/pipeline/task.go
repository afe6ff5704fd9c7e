package pipeline

import (
	"runtime/debug"
)

// Task is the completion handle of a suspension-capable step. A nil *Task
// counts as completed successfully.
type Task struct {
	done chan struct{}
	err  error
}

var completedTask = func() *Task {
	t := &Task{done: make(chan struct{})}
	close(t.done)
	return t
}()

// Completed returns a task that has already finished with err.
func Completed(err error) *Task {
	if err == nil {
		return completedTask
	}
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

// Go runs fn on a new goroutine and returns its task. A panic in fn cannot
// cross goroutines, so it completes the task with a *PanicError instead.
func Go(fn func() error) *Task {
	t := &Task{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				t.err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		t.err = fn()
	}()
	return t
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	if t == nil {
		return nil
	}
	<-t.done
	return t.err
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	if t == nil {
		return completedTask.done
	}
	return t.done
}

// IsDone reports whether the task has finished.
func (t *Task) IsDone() bool {
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

// Err returns the task error. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	if t == nil || !t.IsDone() {
		return nil
	}
	return t.err
}

// then chains fn after t. A finished task runs fn inline on the calling
// goroutine; a running one hands fn to a goroutine that waits for it.
func (t *Task) then(fn func(error) error) *Task {
	if t.IsDone() {
		return Completed(fn(t.Err()))
	}
	return Go(func() error {
		return fn(t.Wait())
	})
}
