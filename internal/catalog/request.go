package catalog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/onion/internal/pipeline"
)

// Request is the invocation type of every catalog pipeline.
type Request struct {
	pipeline.Context

	Principal  string
	Authorized bool

	// FailAt and PanicAt name the identity at which a fault is injected.
	FailAt  string
	PanicAt string

	runID string

	mu    sync.Mutex
	trace []string
}

// NewRequest creates an authorized request bound to ctx.
func NewRequest(ctx context.Context, runID string) *Request {
	return &Request{
		Context:    pipeline.NewContext(ctx),
		Authorized: true,
		runID:      runID,
	}
}

// RunID returns the run id the request was created with.
func (r *Request) RunID() string {
	return r.runID
}

// Record appends an entry to the trace. Safe from any goroutine.
func (r *Request) Record(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, entry)
}

// Trace returns a copy of the recorded entries.
func (r *Request) Trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.trace))
	copy(out, r.trace)
	return out
}

// LogAttrs implements diag.LogAttrser.
func (r *Request) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("run_id", r.runID)}
	if r.Principal != "" {
		attrs = append(attrs, slog.String("principal", r.Principal))
	}
	return attrs
}
