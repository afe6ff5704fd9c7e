package diag

import (
	"context"
	"log/slog"

	"github.com/roach88/onion/internal/pipeline"
)

// LogAttrser is implemented by request types that contribute attributes to
// every log record about their invocation (run id, principal).
type LogAttrser interface {
	LogAttrs() []slog.Attr
}

// Slog logs lifecycle events. Starts and ends are Debug, exceptions are
// Error.
type Slog[C any] struct {
	logger *slog.Logger
}

// NewSlog creates a Slog sink. A nil logger uses slog.Default().
func NewSlog[C any](logger *slog.Logger) *Slog[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog[C]{logger: logger}
}

func (s *Slog[C]) log(level slog.Level, msg string, c C, attrs ...slog.Attr) {
	if la, ok := any(c).(LogAttrser); ok {
		attrs = append(attrs, la.LogAttrs()...)
	}
	s.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func (s *Slog[C]) OnPipelineStart(c C) {
	s.log(slog.LevelDebug, "pipeline start", c)
}

func (s *Slog[C]) OnPipelineEnd(c C) {
	s.log(slog.LevelDebug, "pipeline end", c)
}

func (s *Slog[C]) OnMiddlewareStart(id pipeline.Identity, c C) {
	s.log(slog.LevelDebug, "middleware start", c, slog.String("middleware", id.String()))
}

func (s *Slog[C]) OnMiddlewareEnd(id pipeline.Identity, c C) {
	s.log(slog.LevelDebug, "middleware end", c, slog.String("middleware", id.String()))
}

func (s *Slog[C]) OnMiddlewareException(id pipeline.Identity, err error, c C) {
	s.log(slog.LevelError, "middleware failed", c,
		slog.String("middleware", id.String()),
		slog.Any("error", err),
	)
}
