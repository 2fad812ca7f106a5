package stage

import (
	"testing"
	"time"

	"github.com/ferreiralabs/settra/model"
)

func TestLoadFile(t *testing.T) {
	pf, err := LoadFile("testdata/pipeline.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if pf.Name != "expedited-pipeline" {
		t.Errorf("name = %q, want expedited-pipeline", pf.Name)
	}
	if len(pf.Stages) != len(model.Stages) {
		t.Errorf("stages = %d, want %d", len(pf.Stages), len(model.Stages))
	}
	if pf.Checksum == "" {
		t.Error("checksum should be recorded")
	}
	if pf.SourceFile != "testdata/pipeline.yaml" {
		t.Errorf("source = %q", pf.SourceFile)
	}
}

func TestLoadFile_missing(t *testing.T) {
	if _, err := LoadFile("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFromFile(t *testing.T) {
	reg, err := FromFile("testdata/pipeline.yaml")
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}

	def := reg.MustDefinition(model.StageBuyerValidation)
	if def.TimeBudget != 24*time.Hour {
		t.Errorf("buyer_validation time budget = %v, want 24h (file overrides default)", def.TimeBudget)
	}
	if len(def.Documents) != 2 {
		t.Errorf("documents = %v, want identity and proof_of_address", def.Documents)
	}

	tok := reg.MustDefinition(model.StageTokenization)
	if tok.Required {
		t.Error("tokenization should remain optional")
	}
}

func TestFromFile_badDependency(t *testing.T) {
	if _, err := FromFile("testdata/bad_dependency.yaml"); err == nil {
		t.Fatal("expected error for a stage depending on a downstream stage")
	}
}

func TestNewRegistry_missingStage(t *testing.T) {
	defs := DefaultDefinitions()[:5]
	if _, err := NewRegistry(defs); err == nil {
		t.Fatal("expected error for incomplete stage coverage")
	}
}

func TestNewRegistry_duplicateStage(t *testing.T) {
	defs := DefaultDefinitions()
	defs = append(defs, model.StageDefinition{Stage: model.StagePayment, Required: true})
	if _, err := NewRegistry(defs); err == nil {
		t.Fatal("expected error for duplicate stage definition")
	}
}

func TestDefault_coversAllStages(t *testing.T) {
	reg := Default()
	for _, s := range model.Stages {
		if _, ok := reg.Definition(s); !ok {
			t.Errorf("default registry missing %q", s)
		}
	}
	if got := len(reg.Definitions()); got != len(model.Stages) {
		t.Errorf("Definitions() = %d, want %d", got, len(model.Stages))
	}
}

func TestAllDocumentTypes_pipelineOrder(t *testing.T) {
	types := Default().AllDocumentTypes()
	if len(types) == 0 {
		t.Fatal("default pipeline should require documents")
	}
	if types[0] != model.DocIdentity {
		t.Errorf("first document type = %q, want identity (buyer validation comes first)", types[0])
	}
	seen := make(map[model.DocumentType]bool)
	for _, dt := range types {
		if seen[dt] {
			t.Errorf("document type %q appears twice", dt)
		}
		seen[dt] = true
	}
}
