package diag

import (
	"fmt"
	"reflect"

	"github.com/roach88/onion/internal/pipeline"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindPipelineStart Kind = "pipeline:start"
	KindPipelineEnd   Kind = "pipeline:end"
	KindStart         Kind = "mw:start"
	KindEnd           Kind = "mw:end"
	KindException     Kind = "mw:ex"
)

// Event is one recorded diagnostics callback.
type Event struct {
	Seq      int64             `json:"seq"`
	Kind     Kind              `json:"kind"`
	Identity pipeline.Identity `json:"middleware,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// String renders the event the way scenario files spell it:
//
//	pipeline:start
//	mw:start auth
//	mw:ex fail: Test exception
func (e Event) String() string {
	switch {
	case e.Identity == "":
		return string(e.Kind)
	case e.Kind == KindException:
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Identity, e.Error)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Identity)
	}
}

// Strings renders events with Event.String.
func Strings(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.String()
	}
	return out
}

// typeName returns the bare type name of C, without pointers or package.
func typeName[C any]() string {
	t := reflect.TypeFor[C]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}
