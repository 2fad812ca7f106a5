// Package stage holds the immutable stage definition registry. A registry is
// built once at startup, validated for exhaustive coverage of the stage
// enumeration, and read concurrently without locking thereafter.
package stage

import (
	"fmt"

	"github.com/ferreiralabs/settra/model"
)

// Registry is a read-only table of stage definitions. Construct with
// NewRegistry or Default; never mutate after construction.
type Registry struct {
	defs map[model.Stage]model.StageDefinition
}

// NewRegistry builds a registry from the given definitions. It fails if the
// definitions do not cover every declared stage exactly once, reference an
// undeclared stage, or depend on a stage that does not come earlier in the
// pipeline. A failure here is a deployment error and should be fatal.
func NewRegistry(defs []model.StageDefinition) (*Registry, error) {
	m := make(map[model.Stage]model.StageDefinition, len(defs))

	for _, def := range defs {
		if !def.Stage.Valid() {
			return nil, fmt.Errorf("stage registry: undeclared stage %q", def.Stage)
		}
		if _, dup := m[def.Stage]; dup {
			return nil, fmt.Errorf("stage registry: duplicate definition for stage %q", def.Stage)
		}
		for _, dep := range def.DependsOn {
			if !dep.Valid() {
				return nil, fmt.Errorf("stage registry: stage %q depends on undeclared stage %q", def.Stage, dep)
			}
			if !dep.Before(def.Stage) {
				return nil, fmt.Errorf("stage registry: stage %q depends on %q which is not upstream", def.Stage, dep)
			}
		}
		m[def.Stage] = def
	}

	for _, s := range model.Stages {
		if _, ok := m[s]; !ok {
			return nil, fmt.Errorf("stage registry: missing definition for stage %q", s)
		}
	}

	return &Registry{defs: m}, nil
}

// Definition returns the definition for the given stage.
func (r *Registry) Definition(s model.Stage) (model.StageDefinition, bool) {
	def, ok := r.defs[s]
	return def, ok
}

// MustDefinition returns the definition for the given stage, panicking if it
// is unknown. Registries exhaustively cover the enumeration at construction,
// so a miss here indicates a programming error.
func (r *Registry) MustDefinition(s model.Stage) model.StageDefinition {
	def, ok := r.defs[s]
	if !ok {
		panic(fmt.Sprintf("stage registry: no definition for stage %q", s))
	}
	return def
}

// Definitions returns every definition in pipeline order.
func (r *Registry) Definitions() []model.StageDefinition {
	defs := make([]model.StageDefinition, 0, len(r.defs))
	for _, s := range model.Stages {
		defs = append(defs, r.defs[s])
	}
	return defs
}

// AllDocumentTypes returns the union of document types required by any
// stage, in pipeline order. Used to seed placeholders at creation.
func (r *Registry) AllDocumentTypes() []model.DocumentType {
	seen := make(map[model.DocumentType]bool)
	var types []model.DocumentType
	for _, s := range model.Stages {
		for _, dt := range r.defs[s].Documents {
			if !seen[dt] {
				seen[dt] = true
				types = append(types, dt)
			}
		}
	}
	return types
}
