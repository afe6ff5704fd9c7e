package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/onion/internal/canonical"
	"github.com/roach88/onion/internal/pipeline"
)

//go:embed schema.cue
var schemaSource string

// Error code constants.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeSchema      = "E101" // Manifest does not satisfy the schema
	ErrCodeNoPipeline  = "E102" // No pipeline field
)

// LoadError represents an error that occurred while loading a manifest.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Manifest is one decoded pipeline.
type Manifest struct {
	Name       string  `json:"name"`
	Mode       string  `json:"mode"`
	Middleware []Entry `json:"middleware"`

	// Source is the file or directory the manifest was loaded from.
	Source string `json:"-"`
}

// Entry is one middleware registration.
type Entry struct {
	ID       string   `json:"id"`
	Uses     string   `json:"uses,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Order    int      `json:"order"`
	Before   []string `json:"before"`
	After    []string `json:"after"`
	Lifetime string   `json:"lifetime"`
}

// Component returns the catalog component backing the entry. Entries
// without "uses" name their component directly.
func (e Entry) Component() string {
	if e.Uses != "" {
		return e.Uses
	}
	return e.ID
}

// Descriptor converts the entry to pipeline metadata. fallback is used when
// the entry does not declare a kind. Loaded manifests only carry kinds the
// schema allows; entries built by hand may not.
func (e Entry) Descriptor(fallback pipeline.Kind) (pipeline.Descriptor, error) {
	kind := fallback
	if e.Kind != "" {
		var err error
		if kind, err = ParseKind(e.Kind); err != nil {
			return pipeline.Descriptor{}, fmt.Errorf("entry %s: %w", e.ID, err)
		}
	}
	return pipeline.Describe(pipeline.Identity(e.ID), kind,
		pipeline.WithOrder(e.Order),
		pipeline.RunBefore(toIdentities(e.Before)...),
		pipeline.RunAfter(toIdentities(e.After)...),
	), nil
}

// Async reports whether the pipeline runs under the async executor.
func (m *Manifest) Async() bool {
	return m.Mode == pipeline.KindAsync.String()
}

// Components returns the distinct components the manifest uses, sorted.
func (m *Manifest) Components() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.Middleware {
		c := e.Component()
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Digest identifies the effective pipeline: equal manifests hash equally
// whatever their formatting, file layout or field order.
func (m *Manifest) Digest() (string, error) {
	return canonical.Hash(canonical.DomainManifest, m)
}

// ParseKind maps "blocking" and "async" to a pipeline.Kind.
func ParseKind(s string) (pipeline.Kind, error) {
	switch s {
	case "", "blocking":
		return pipeline.KindBlocking, nil
	case "async":
		return pipeline.KindAsync, nil
	default:
		return pipeline.KindBlocking, fmt.Errorf("manifest: unknown kind %q", s)
	}
}

// Load reads a manifest from a single .cue file or from every .cue file of
// one package directory.
func Load(path string) (*Manifest, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("manifest not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing manifest: %v", err)}
	}

	ctx := cuecontext.New()
	var value cue.Value
	if info.IsDir() {
		value, err = loadDir(ctx, path)
	} else {
		value, err = loadFile(ctx, path)
	}
	if err != nil {
		return nil, err
	}

	m, err := decode(ctx, value)
	if err != nil {
		return nil, err
	}
	m.Source = path
	return m, nil
}

// Parse decodes a manifest from source. filename is used in positions.
func Parse(src []byte, filename string) (*Manifest, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(ErrCodeBuildFailed, err)
	}
	m, err := decode(ctx, value)
	if err != nil {
		return nil, err
	}
	m.Source = filename
	return m, nil
}

func loadFile(ctx *cue.Context, path string) (cue.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading manifest: %v", err)}
	}
	value := ctx.CompileBytes(src, cue.Filename(path))
	if err := value.Err(); err != nil {
		return cue.Value{}, formatCUEError(ErrCodeBuildFailed, err)
	}
	return value, nil
}

func loadDir(ctx *cue.Context, dir string) (cue.Value, error) {
	files, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return cue.Value{}, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, formatCUEError(ErrCodeBuildFailed, err)
	}
	return value, nil
}

// decode unifies value with the schema, requires it to be concrete and
// decodes the pipeline field.
func decode(ctx *cue.Context, value cue.Value) (*Manifest, error) {
	if !value.LookupPath(cue.ParsePath("pipeline")).Exists() {
		return nil, &LoadError{Code: ErrCodeNoPipeline, Message: "no pipeline found in manifest", Pos: value.Pos()}
	}

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("compiling schema: %v", err)}
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}

	var m Manifest
	if err := unified.LookupPath(cue.ParsePath("pipeline")).Decode(&m); err != nil {
		return nil, formatCUEError(ErrCodeSchema, err)
	}
	if m.Middleware == nil {
		m.Middleware = []Entry{}
	}
	return &m, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// formatCUEError extracts position info from CUE errors. Only the first
// error of a list is reported.
func formatCUEError(code string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}

	first := errs[0]
	loadErr := &LoadError{Code: code, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		loadErr.Pos = positions[0]
	}
	return loadErr
}

func toIdentities(ss []string) []pipeline.Identity {
	if len(ss) == 0 {
		return nil
	}
	out := make([]pipeline.Identity, len(ss))
	for i, s := range ss {
		out[i] = pipeline.Identity(s)
	}
	return out
}
