package cli

import (
	"errors"

	"github.com/roach88/onion/internal/catalog"
	"github.com/roach88/onion/internal/manifest"
	"github.com/roach88/onion/internal/pipeline"
)

// loadedPipeline is a manifest assembled from the catalog and resolved.
type loadedPipeline struct {
	Manifest *manifest.Manifest
	Assembly *catalog.Assembly
	Resolved []pipeline.Descriptor
}

// Close releases the assembly's singletons.
func (p *loadedPipeline) Close() error {
	return p.Assembly.Close()
}

// Order returns the resolved identities.
func (p *loadedPipeline) Order() []pipeline.Identity {
	ids := make([]pipeline.Identity, len(p.Resolved))
	for i, d := range p.Resolved {
		ids[i] = d.Identity
	}
	return ids
}

// loadPipeline loads the manifest at path, applies a mode override and
// resolves the order. Every failure is reported through f:
//
//   - manifest load errors exit 2 with the manifest error code
//   - unknown components exit 2
//   - build errors (cycle, duplicate identity) exit 1 with their code
func loadPipeline(f *OutputFormatter, cat *catalog.Catalog, path, mode string) (*loadedPipeline, error) {
	m, err := manifest.Load(path)
	if err != nil {
		var le *manifest.LoadError
		if errors.As(err, &le) {
			return nil, f.Fail(ExitCommandError, le.Code, le.Error(), nil)
		}
		return nil, f.Fail(ExitCommandError, manifest.ErrCodeGeneric, err.Error(), nil)
	}
	f.VerboseLog("Loaded manifest %s (%d middleware)", m.Source, len(m.Middleware))

	if mode != "" {
		if _, err := manifest.ParseKind(mode); err != nil {
			return nil, f.Fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
		}
		m.Mode = mode
	}

	assembly, err := cat.Assemble(m)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeComponent, err.Error(), nil)
	}

	resolved, err := pipeline.Resolve(assembly.Descriptors)
	if err != nil {
		_ = assembly.Close()
		var be *pipeline.BuildError
		if errors.As(err, &be) {
			return nil, f.Fail(ExitFailure, string(be.Code), be.Error(), buildErrorDetails(be))
		}
		return nil, f.Fail(ExitFailure, manifest.ErrCodeGeneric, err.Error(), nil)
	}

	return &loadedPipeline{Manifest: m, Assembly: assembly, Resolved: resolved}, nil
}

func buildErrorDetails(be *pipeline.BuildError) map[string]any {
	details := map[string]any{}
	if be.Identity != "" {
		details["middleware"] = be.Identity.String()
	}
	if len(be.Path) > 0 {
		path := make([]string, len(be.Path))
		for i, id := range be.Path {
			path[i] = id.String()
		}
		details["path"] = path
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
