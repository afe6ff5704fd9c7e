package harness

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expectation and assertion held.
	Pass bool `json:"pass"`

	// Order is the compiled middleware order. Empty when build failed.
	Order []string `json:"order"`

	// Trace holds the entries the middleware recorded, in order.
	Trace []string `json:"trace"`

	// Events holds the rendered diagnostics events, in order.
	Events []string `json:"events"`

	// Error is the invocation error message, if any.
	Error string `json:"error,omitempty"`

	// Panic is the formatted value of a panic that escaped the pipeline.
	Panic string `json:"panic,omitempty"`

	// BuildError is the build error code when the pipeline failed to build.
	BuildError string `json:"build_error,omitempty"`

	// Items is the final item bag.
	Items map[string]any `json:"items,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Order:  []string{},
		Trace:  []string{},
		Events: []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
