package diag

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/onion/internal/pipeline"
)

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "pipeline:start", Event{Kind: KindPipelineStart}.String())
	assert.Equal(t, "mw:start auth", Event{Kind: KindStart, Identity: "auth"}.String())
	assert.Equal(t, "mw:ex fail: boom", Event{Kind: KindException, Identity: "fail", Error: "boom"}.String())
}

func TestConsole_Success(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, run(t, NewConsole[*request](&buf), newRequest()))

	assert.Equal(t, strings.Join([]string{
		"[pipeline:start] request",
		"[mw:start] outer",
		"[mw:start] fail",
		"[mw:end] fail",
		"[mw:end] outer",
		"[pipeline:end] request",
	}, "\n")+"\n", buf.String())
}

func TestConsole_Exception(t *testing.T) {
	var buf bytes.Buffer
	req := newRequest()
	req.Fail = true
	require.ErrorIs(t, run(t, NewConsole[*request](&buf), req), errTest)

	assert.Contains(t, buf.String(), "[mw:ex] fail: Test exception\n")
	assert.Contains(t, buf.String(), "[mw:ex] outer: Test exception\n")
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder[*request]()
	req := newRequest()
	req.Fail = true
	require.Error(t, run(t, rec, req))

	assert.Equal(t, []string{
		"pipeline:start",
		"mw:start outer",
		"mw:start fail",
		"mw:ex fail: Test exception",
		"mw:ex outer: Test exception",
		"pipeline:end",
	}, rec.Strings())

	events := rec.Events()
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}

	rec.Reset()
	assert.Empty(t, rec.Events())
}

type attrRequest struct {
	request
}

func (r *attrRequest) LogAttrs() []slog.Attr {
	return []slog.Attr{slog.String("run_id", "run-1")}
}

func TestSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlog[*attrRequest](logger)

	req := &attrRequest{request: *newRequest()}
	sink.OnPipelineStart(req)
	sink.OnMiddlewareStart("auth", req)
	sink.OnMiddlewareException("auth", errTest, req)
	sink.OnPipelineEnd(req)

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG msg=\"pipeline start\" run_id=run-1")
	assert.Contains(t, out, "msg=\"middleware start\" middleware=auth run_id=run-1")
	assert.Contains(t, out, "level=ERROR msg=\"middleware failed\" middleware=auth error=\"Test exception\" run_id=run-1")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestSlog_InfoLevelHidesLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	req := newRequest()
	req.Fail = true
	require.Error(t, run(t, NewSlog[*request](logger), req))

	assert.NotContains(t, buf.String(), "middleware start")
	assert.Equal(t, 2, strings.Count(buf.String(), "middleware failed"))
}

func TestMulti(t *testing.T) {
	a := NewRecorder[*request]()
	b := NewRecorder[*request]()
	require.NoError(t, run(t, NewMulti[*request](a, nil, b), newRequest()))

	assert.Len(t, a.Events(), 6)
	assert.Equal(t, a.Strings(), b.Strings())
}

func TestMulti_Collapses(t *testing.T) {
	rec := NewRecorder[*request]()
	assert.Same(t, rec, NewMulti[*request](nil, rec))
	assert.IsType(t, pipeline.NopDiagnostics[*request]{}, NewMulti[*request]())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics[*request](reg)
	require.NoError(t, err)

	require.NoError(t, run(t, m, newRequest()))
	req := newRequest()
	req.Fail = true
	require.Error(t, run(t, m, req))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.invocations))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("fail", "start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("fail", "end")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("fail", "exception")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("outer", "exception")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.mwInFlight.WithLabelValues("outer")))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics[*request](reg)
	require.NoError(t, err)

	_, err = NewMetrics[*request](reg)
	assert.Error(t, err)

	_, err = NewMetrics[*request](nil)
	assert.NoError(t, err)
}

func setupTracing() (*tracetest.SpanRecorder, *Tracing[*request]) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, NewTracingWithTracer[*request](tp.Tracer("test"))
}

func TestTracing_Nesting(t *testing.T) {
	sr, sink := setupTracing()
	req := newRequest()
	require.NoError(t, run(t, sink, req))

	spans := sr.Ended()
	require.Len(t, spans, 3)

	// Ended innermost first
	fail, outer, root := spans[0], spans[1], spans[2]
	assert.Equal(t, "onion.middleware", fail.Name())
	assert.Equal(t, "onion.pipeline", root.Name())
	assert.Equal(t, outer.SpanContext().SpanID(), fail.Parent().SpanID())
	assert.Equal(t, root.SpanContext().SpanID(), outer.Parent().SpanID())
	assert.Equal(t, codes.Ok, root.Status().Code)

	// Bag is clean again
	assert.Empty(t, req.Items())
}

func TestTracing_Error(t *testing.T) {
	sr, sink := setupTracing()
	req := newRequest()
	req.Fail = true
	require.Error(t, run(t, sink, req))

	spans := sr.Ended()
	require.Len(t, spans, 3)
	for _, s := range spans {
		assert.Equal(t, codes.Error, s.Status().Code, s.Name())
		assert.Equal(t, "Test exception", s.Status().Description)
	}
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestTracing_IgnoresEventsWithoutPipeline(t *testing.T) {
	sr, sink := setupTracing()
	req := newRequest()
	sink.OnMiddlewareStart("x", req)
	sink.OnMiddlewareEnd("x", req)
	sink.OnPipelineEnd(req)
	assert.Empty(t, sr.Ended())
}
