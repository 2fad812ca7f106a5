package stage

import (
	"crypto/sha256"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ferreiralabs/settra/model"
)

// PipelineFile is the on-disk overlay format. Deployments that need
// different time budgets, document sets, or reviewer roles ship a YAML file
// instead of patching the binary.
type PipelineFile struct {
	Name   string                  `yaml:"name"`
	Stages []model.StageDefinition `yaml:"stages"`

	// Filled in by the loader.
	Checksum   string `yaml:"-"`
	SourceFile string `yaml:"-"`
}

// LoadFile parses a pipeline definition file and records its SHA-256
// checksum for change detection.
func LoadFile(path string) (PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineFile{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var pf PipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return PipelineFile{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	pf.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	pf.SourceFile = path
	return pf, nil
}

// FromFile loads a pipeline definition file and builds a validated registry
// from it. The registry constructor enforces exhaustive stage coverage and
// dependency ordering, so a malformed file fails here rather than at runtime.
func FromFile(path string) (*Registry, error) {
	pf, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(pf.Stages)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}
