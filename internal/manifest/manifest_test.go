package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/onion/internal/pipeline"
)

func TestLoad_File(t *testing.T) {
	m, err := Load("testdata/basic.cue")
	require.NoError(t, err)

	assert.Equal(t, "basic", m.Name)
	assert.Equal(t, "blocking", m.Mode)
	assert.False(t, m.Async())
	assert.Equal(t, "testdata/basic.cue", m.Source)
	require.Len(t, m.Middleware, 4)

	assert.Equal(t, Entry{ID: "logging", Order: 0, Before: []string{}, After: []string{}, Lifetime: "scoped"}, m.Middleware[0])
	assert.Equal(t, []string{"logging"}, m.Middleware[1].Before)

	audit := m.Middleware[2]
	assert.Equal(t, "logging", audit.Component())
	assert.Equal(t, "transient", audit.Lifetime)
	assert.Equal(t, []string{"auth"}, audit.After)

	assert.Equal(t, 100, m.Middleware[3].Order)
	assert.Equal(t, []string{"auth", "logging", "terminal"}, m.Components())
}

func TestLoad_AsyncMode(t *testing.T) {
	m, err := Load("testdata/async.cue")
	require.NoError(t, err)

	assert.True(t, m.Async())
	assert.Equal(t, "async", m.Middleware[0].Kind)
	assert.Equal(t, -10, m.Middleware[0].Order)
}

func TestLoad_Directory(t *testing.T) {
	m, err := Load("testdata/split")
	require.NoError(t, err)

	assert.Equal(t, "split", m.Name)
	require.Len(t, m.Middleware, 3)
	assert.Equal(t, "recover", m.Middleware[0].ID)
	assert.Equal(t, -100, m.Middleware[0].Order)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.cue"))

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoad_EmptyDirectory(t *testing.T) {
	_, err := Load(t.TempDir())

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestLoad_SyntaxErrorHasPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(path, []byte("pipeline: {\n\tmiddleware: [\n"), 0o644))

	_, err := Load(path)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeBuildFailed, le.Code)
	assert.True(t, le.Pos.IsValid())
	assert.Contains(t, err.Error(), "bad.cue:")
}

func TestParse_Defaults(t *testing.T) {
	m, err := Parse([]byte(`pipeline: middleware: [{id: "auth"}]`), "inline.cue")
	require.NoError(t, err)

	assert.Equal(t, "", m.Name)
	assert.Equal(t, "blocking", m.Mode)
	assert.Equal(t, "inline.cue", m.Source)
	require.Len(t, m.Middleware, 1)
	assert.Equal(t, "scoped", m.Middleware[0].Lifetime)
	assert.Equal(t, "", m.Middleware[0].Kind)
}

func TestParse_EmptyMiddleware(t *testing.T) {
	m, err := Parse([]byte(`pipeline: name: "empty"`), "empty.cue")
	require.NoError(t, err)
	assert.NotNil(t, m.Middleware)
	assert.Empty(t, m.Middleware)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown field", `pipeline: middleware: [{id: "auth", priority: 3}]`},
		{"bad kind", `pipeline: middleware: [{id: "auth", kind: "threaded"}]`},
		{"bad mode", `pipeline: mode: "parallel"`},
		{"bad lifetime", `pipeline: middleware: [{id: "auth", lifetime: "forever"}]`},
		{"missing id", `pipeline: middleware: [{order: 1}]`},
		{"malformed id", `pipeline: middleware: [{id: "has space"}]`},
		{"order not int", `pipeline: middleware: [{id: "auth", order: "first"}]`},
		{"before not list", `pipeline: middleware: [{id: "auth", before: "logging"}]`},
		{"unknown pipeline field", `pipeline: stages: 3`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.cue")

			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, ErrCodeSchema, le.Code, "got %v", err)
		})
	}
}

func TestParse_NoPipeline(t *testing.T) {
	_, err := Parse([]byte(`other: 1`), "none.cue")

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNoPipeline, le.Code)
}

func TestEntry_Descriptor(t *testing.T) {
	e := Entry{
		ID:     "auth",
		Order:  5,
		Before: []string{"logging", "logging"},
		After:  []string{"recover"},
	}

	d, err := e.Descriptor(pipeline.KindBlocking)
	require.NoError(t, err)
	assert.Equal(t, pipeline.Identity("auth"), d.Identity)
	assert.Equal(t, pipeline.KindBlocking, d.Kind)
	assert.Equal(t, 5, d.Order)
	assert.Equal(t, []pipeline.Identity{"logging"}, d.Before)
	assert.Equal(t, []pipeline.Identity{"recover"}, d.After)

	d, err = e.Descriptor(pipeline.KindAsync)
	require.NoError(t, err)
	assert.Equal(t, pipeline.KindAsync, d.Kind)

	e.Kind = "blocking"
	d, err = e.Descriptor(pipeline.KindAsync)
	require.NoError(t, err)
	assert.Equal(t, pipeline.KindBlocking, d.Kind)
}

func TestEntry_DescriptorRejectsUnknownKind(t *testing.T) {
	e := Entry{ID: "auth", Kind: "parallel"}
	_, err := e.Descriptor(pipeline.KindBlocking)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `entry auth: manifest: unknown kind "parallel"`)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("async")
	require.NoError(t, err)
	assert.Equal(t, pipeline.KindAsync, k)

	k, err = ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, pipeline.KindBlocking, k)

	_, err = ParseKind("threaded")
	require.Error(t, err)
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Code: ErrCodeSchema, Message: "field not allowed"}
	assert.Equal(t, "E101: field not allowed", err.Error())

	var target *LoadError
	assert.True(t, errors.As(error(err), &target))
}

func TestManifest_Digest(t *testing.T) {
	compact, err := Parse([]byte(`pipeline: {name: "d", middleware: [{id: "auth"}, {id: "terminal", order: 1}]}`), "a.cue")
	require.NoError(t, err)
	spread, err := Parse([]byte(`
pipeline: middleware: [
	{id: "auth", order: 0, lifetime: "scoped"},
	{order: 1, id: "terminal"},
]
pipeline: name: "d"
`), "b.cue")
	require.NoError(t, err)

	a, err := compact.Digest()
	require.NoError(t, err)
	b, err := spread.Digest()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	spread.Middleware[1].Order = 2
	c, err := spread.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
