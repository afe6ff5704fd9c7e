package diag

import (
	"slices"
	"sync"

	"github.com/roach88/onion/internal/pipeline"
)

// Recorder keeps every event in memory, in arrival order.
type Recorder[C any] struct {
	mu     sync.Mutex
	seq    int64
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder[C any]() *Recorder[C] {
	return &Recorder[C]{}
}

func (r *Recorder[C]) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder[C]) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Strings returns the recorded events rendered with Event.String.
func (r *Recorder[C]) Strings() []string {
	return Strings(r.Events())
}

// Reset drops all events and restarts the sequence.
func (r *Recorder[C]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = 0
	r.events = nil
}

func (r *Recorder[C]) OnPipelineStart(C) {
	r.add(Event{Kind: KindPipelineStart})
}

func (r *Recorder[C]) OnPipelineEnd(C) {
	r.add(Event{Kind: KindPipelineEnd})
}

func (r *Recorder[C]) OnMiddlewareStart(id pipeline.Identity, _ C) {
	r.add(Event{Kind: KindStart, Identity: id})
}

func (r *Recorder[C]) OnMiddlewareEnd(id pipeline.Identity, _ C) {
	r.add(Event{Kind: KindEnd, Identity: id})
}

func (r *Recorder[C]) OnMiddlewareException(id pipeline.Identity, err error, _ C) {
	r.add(Event{Kind: KindException, Identity: id, Error: err.Error()})
}
