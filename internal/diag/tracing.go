package diag

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/onion/internal/pipeline"
)

const tracerName = "github.com/roach88/onion"

// tracingKey is the item bag key holding the per-invocation span stack. It
// is removed again at pipeline end.
const tracingKey = "onion.diag.tracing"

// Tracing opens one span per invocation ("onion.pipeline") and one child
// span per middleware step ("onion.middleware"), nested the way the steps
// nest. A step that fails records the error on its span; the pipeline span
// takes the outcome of the outermost step.
type Tracing[C pipeline.Contextual] struct {
	tracer trace.Tracer
}

// NewTracing uses the global TracerProvider.
func NewTracing[C pipeline.Contextual]() *Tracing[C] {
	return NewTracingWithTracer[C](otel.Tracer(tracerName))
}

// NewTracingWithTracer uses the given tracer.
func NewTracingWithTracer[C pipeline.Contextual](tracer trace.Tracer) *Tracing[C] {
	return &Tracing[C]{tracer: tracer}
}

type spanFrame struct {
	id   pipeline.Identity
	ctx  context.Context
	span trace.Span
}

type spanStack struct {
	root   spanFrame
	frames []spanFrame
	err    error
}

func (s *spanStack) top() context.Context {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1].ctx
	}
	return s.root.ctx
}

// pop removes the innermost frame for id.
func (s *spanStack) pop(id pipeline.Identity) (spanFrame, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].id == id {
			f := s.frames[i]
			s.frames = append(s.frames[:i], s.frames[i+1:]...)
			return f, true
		}
	}
	return spanFrame{}, false
}

func stackOf(pc *pipeline.Context) *spanStack {
	v, ok := pc.Get(tracingKey)
	if !ok {
		return nil
	}
	st, _ := v.(*spanStack)
	return st
}

func (t *Tracing[C]) OnPipelineStart(c C) {
	pc := c.PipelineContext()
	ctx, span := t.tracer.Start(pc.Context(), "onion.pipeline",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	pc.Set(tracingKey, &spanStack{root: spanFrame{ctx: ctx, span: span}})
}

func (t *Tracing[C]) OnPipelineEnd(c C) {
	pc := c.PipelineContext()
	st := stackOf(pc)
	if st == nil {
		return
	}
	pc.Delete(tracingKey)

	// Frames left open belong to steps that never reported back.
	for i := len(st.frames) - 1; i >= 0; i-- {
		st.frames[i].span.End()
	}
	if st.err != nil {
		st.root.span.SetStatus(codes.Error, st.err.Error())
	} else {
		st.root.span.SetStatus(codes.Ok, "")
	}
	st.root.span.End()
}

func (t *Tracing[C]) OnMiddlewareStart(id pipeline.Identity, c C) {
	st := stackOf(c.PipelineContext())
	if st == nil {
		return
	}
	ctx, span := t.tracer.Start(st.top(), "onion.middleware",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("onion.middleware", id.String())),
	)
	st.frames = append(st.frames, spanFrame{id: id, ctx: ctx, span: span})
}

func (t *Tracing[C]) OnMiddlewareEnd(id pipeline.Identity, c C) {
	st := stackOf(c.PipelineContext())
	if st == nil {
		return
	}
	if f, ok := st.pop(id); ok {
		f.span.SetStatus(codes.Ok, "")
		f.span.End()
		st.err = nil
	}
}

func (t *Tracing[C]) OnMiddlewareException(id pipeline.Identity, err error, c C) {
	st := stackOf(c.PipelineContext())
	if st == nil {
		return
	}
	if f, ok := st.pop(id); ok {
		f.span.RecordError(err)
		f.span.SetStatus(codes.Error, err.Error())
		f.span.End()
		st.err = err
	}
}
