package pipeline

// Diagnostics observes pipeline and middleware lifecycle events.
//
// Implementations must not panic: the engine calls them without a guard.
// They are shared by every invocation of a chain, so they must be safe for
// concurrent use.
type Diagnostics[C any] interface {
	OnPipelineStart(c C)
	OnPipelineEnd(c C)
	OnMiddlewareStart(id Identity, c C)
	OnMiddlewareEnd(id Identity, c C)
	OnMiddlewareException(id Identity, err error, c C)
}

// NopDiagnostics ignores every event.
type NopDiagnostics[C any] struct{}

func (NopDiagnostics[C]) OnPipelineStart(C) {}
func (NopDiagnostics[C]) OnPipelineEnd(C) {}
func (NopDiagnostics[C]) OnMiddlewareStart(Identity, C) {}
func (NopDiagnostics[C]) OnMiddlewareEnd(Identity, C) {}
func (NopDiagnostics[C]) OnMiddlewareException(Identity, error, C) {}

// Nop returns the no-op sink used when no diagnostics are configured.
func Nop[C any]() Diagnostics[C] {
	return NopDiagnostics[C]{}
}

func orNop[C any](d Diagnostics[C]) Diagnostics[C] {
	if d == nil {
		return Nop[C]()
	}
	return d
}
