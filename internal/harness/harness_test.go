package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/onion/internal/catalog"
	"github.com/roach88/onion/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// database/sql keeps a connection opener goroutine per DB until Close.
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func loadScenarios(t *testing.T) []*Scenario {
	t.Helper()
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	scenarios := make([]*Scenario, 0, len(files))
	for _, f := range files {
		s, err := LoadScenario(f)
		require.NoError(t, err, f)
		scenarios = append(scenarios, s)
	}
	return scenarios
}

func TestRun_Scenarios(t *testing.T) {
	for _, s := range loadScenarios(t) {
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/async_success.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Run(s)
		require.NoError(t, err)
		assert.Equal(t, NewSnapshot(s.Name, first), NewSnapshot(s.Name, again))
	}
}

func TestRun_ReportsMismatches(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/basic_success.yaml")
	require.NoError(t, err)
	s.Expect.Trace = []string{"terminal"}
	s.Expect.Items = map[string]any{"principal": "bob"}
	s.Assertions = append(s.Assertions, Assertion{Type: AssertStoredEvents, Kind: "mw:ex", Count: 1})

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "Assertion failed: trace")
	assert.Contains(t, result.Errors[1], "Assertion failed: items")
	assert.Contains(t, result.Errors[2], "Assertion failed: stored_events")
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/basic_success.yaml")
	require.NoError(t, err)
	s.Request.FailAt = "logging"

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "injected fault at logging", result.Error)
}

func TestRun_CancelledRequest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "cancel.cue")
	require.NoError(t, os.WriteFile(manifest, []byte(`pipeline: middleware: [
	{id: "tag"},
	{id: "cancel"},
	{id: "terminal", order: 1},
]`), 0o644))

	result, err := Run(&Scenario{
		Name:        "cancelled",
		Description: "cancel stops a cancelled request",
		Manifest:    manifest,
		Request: RequestSpec{
			Cancelled: true,
			Items:     map[string]any{"seed": "x"},
		},
		Expect: Expect{
			Trace: []string{"tag", "cancel:cancelled"},
			Error: "context canceled",
			Items: map[string]any{"seed": "x", "tag.tag": true},
		},
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_WithCatalog(t *testing.T) {
	cat := catalog.New()
	require.NoError(t, cat.Register(catalog.Component{
		Name: "stamp",
		Kind: pipeline.KindBlocking,
		New: func(id pipeline.Identity, _ catalog.Env) any {
			return pipeline.MiddlewareFunc[*catalog.Request](func(r *catalog.Request, next func() error) error {
				r.Record(id.Name())
				r.Set("stamped", true)
				return next()
			})
		},
	}))

	dir := t.TempDir()
	manifest := filepath.Join(dir, "stamp.cue")
	require.NoError(t, os.WriteFile(manifest, []byte(`pipeline: middleware: [
	{id: "terminal", order: 1},
	{id: "stamp"},
]`), 0o644))

	scenario := &Scenario{
		Name:        "custom",
		Description: "a registered component runs like a builtin",
		Manifest:    manifest,
		Expect: Expect{
			Order: []string{"stamp", "terminal"},
			Trace: []string{"stamp", "terminal"},
			Items: map[string]any{"stamped": true},
		},
	}

	result, err := Run(scenario, WithCatalog(cat))
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to assemble manifest")
}

func TestRun_InfrastructureErrors(t *testing.T) {
	_, err := Run(&Scenario{Name: "x", Description: "y", Manifest: filepath.Join(t.TempDir(), "none.cue")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load manifest")

	dir := t.TempDir()
	manifest := filepath.Join(dir, "unknown.cue")
	require.NoError(t, os.WriteFile(manifest, []byte(`pipeline: middleware: [{id: "x", uses: "nope"}]`), 0o644))
	_, err = Run(&Scenario{Name: "x", Description: "y", Manifest: manifest})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to assemble manifest")
}
