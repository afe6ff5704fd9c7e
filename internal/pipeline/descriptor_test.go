package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sampleMiddleware struct{}

func TestIdentityOf(t *testing.T) {
	id := IdentityOf[sampleMiddleware]()

	assert.True(t, strings.HasSuffix(string(id), "/internal/pipeline.sampleMiddleware"), id)
	assert.Equal(t, id, IdentityOf[*sampleMiddleware]())
	assert.Equal(t, "sampleMiddleware", id.Name())
	assert.Equal(t, Identity("int"), IdentityOf[int]())
}

func TestIdentity_Name(t *testing.T) {
	tests := []struct {
		id   Identity
		want string
	}{
		{"github.com/acme/mw.Auth", "Auth"},
		{"mw.Logging", "Logging"},
		{"auth", "auth"},
		{"a/b/c", "c"},
		{"trailing.", "trailing."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.id.Name(), string(tt.id))
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "blocking", KindBlocking.String())
	assert.Equal(t, "async", KindAsync.String())
	assert.Equal(t, "unknown", Kind(7).String())
}

func TestDescribe(t *testing.T) {
	d := Describe("auth", KindAsync,
		WithOrder(-5),
		RunBefore("logging", "timing", "logging"),
		RunAfter("recover"),
		RunAfter("recover", "trace"),
	)

	assert.Equal(t, Identity("auth"), d.Identity)
	assert.Equal(t, KindAsync, d.Kind)
	assert.Equal(t, -5, d.Order)
	assert.Equal(t, []Identity{"logging", "timing"}, d.Before)
	assert.Equal(t, []Identity{"recover", "trace"}, d.After)
}

func TestDescribe_Defaults(t *testing.T) {
	d := Describe("plain", KindBlocking)
	assert.Zero(t, d.Order)
	assert.Nil(t, d.Before)
	assert.Nil(t, d.After)
}

func TestBuildError_Format(t *testing.T) {
	cycle := NewCycleError("A", []Identity{"A", "B", "A"})
	assert.Equal(t, `CYCLE_DETECTED: cycle detected in middleware ordering involving "A" (A → B → A)`, cycle.Error())

	dup := &BuildError{Code: ErrCodeDuplicateIdentity, Message: "identity registered more than once", Identity: "X"}
	assert.Equal(t, "DUPLICATE_IDENTITY: identity registered more than once (middleware=X)", dup.Error())

	bare := &BuildError{Code: ErrCodeEmptyIdentity, Message: "registration #0 has no identity"}
	assert.Equal(t, "EMPTY_IDENTITY: registration #0 has no identity", bare.Error())
}
