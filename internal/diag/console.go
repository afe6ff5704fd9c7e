package diag

import (
	"fmt"
	"io"
	"sync"

	"github.com/roach88/onion/internal/pipeline"
)

// Console writes one line per event:
//
//	[pipeline:start] Request
//	[mw:start] auth
//	[mw:end] auth
//	[mw:ex] fail: Test exception
//	[pipeline:end] Request
type Console[C any] struct {
	mu   sync.Mutex
	w    io.Writer
	name string
}

// NewConsole creates a Console writing to w.
func NewConsole[C any](w io.Writer) *Console[C] {
	return &Console[C]{w: w, name: typeName[C]()}
}

func (s *Console[C]) line(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Write errors are dropped: a sink must not fail the pipeline.
	_, _ = fmt.Fprintf(s.w, format+"\n", args...)
}

func (s *Console[C]) OnPipelineStart(C) {
	s.line("[%s] %s", KindPipelineStart, s.name)
}

func (s *Console[C]) OnPipelineEnd(C) {
	s.line("[%s] %s", KindPipelineEnd, s.name)
}

func (s *Console[C]) OnMiddlewareStart(id pipeline.Identity, _ C) {
	s.line("[%s] %s", KindStart, id.Name())
}

func (s *Console[C]) OnMiddlewareEnd(id pipeline.Identity, _ C) {
	s.line("[%s] %s", KindEnd, id.Name())
}

func (s *Console[C]) OnMiddlewareException(id pipeline.Identity, err error, _ C) {
	s.line("[%s] %s: %v", KindException, id.Name(), err)
}
