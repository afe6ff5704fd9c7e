package diag

import "github.com/roach88/onion/internal/pipeline"

// Multi forwards every event to each sink in order.
type Multi[C any] []pipeline.Diagnostics[C]

// NewMulti drops nil sinks. With no sinks left it returns pipeline.Nop.
func NewMulti[C any](sinks ...pipeline.Diagnostics[C]) pipeline.Diagnostics[C] {
	var m Multi[C]
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return pipeline.Nop[C]()
	case 1:
		return m[0]
	}
	return m
}

func (m Multi[C]) OnPipelineStart(c C) {
	for _, s := range m {
		s.OnPipelineStart(c)
	}
}

func (m Multi[C]) OnPipelineEnd(c C) {
	for _, s := range m {
		s.OnPipelineEnd(c)
	}
}

func (m Multi[C]) OnMiddlewareStart(id pipeline.Identity, c C) {
	for _, s := range m {
		s.OnMiddlewareStart(id, c)
	}
}

func (m Multi[C]) OnMiddlewareEnd(id pipeline.Identity, c C) {
	for _, s := range m {
		s.OnMiddlewareEnd(id, c)
	}
}

func (m Multi[C]) OnMiddlewareException(id pipeline.Identity, err error, c C) {
	for _, s := range m {
		s.OnMiddlewareException(id, err, c)
	}
}
