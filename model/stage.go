package model

import "time"

// Stage identifies a step in the purchase pipeline. The enumeration is
// totally ordered; Next gives the declared successor. Stage progression is
// never derived from slice index arithmetic anywhere else in the codebase.
type Stage string

// Pipeline stages, in order.
const (
	StageInitiated            Stage = "initiated"
	StageBuyerValidation      Stage = "buyer_validation"
	StageInstrumentValidation Stage = "instrument_validation"
	StageLegalValidation      Stage = "legal_validation"
	StageFinancialValidation  Stage = "financial_validation"
	StageContractSignature    Stage = "contract_signature"
	StagePayment              Stage = "payment"
	StageTitleTransfer        Stage = "title_transfer"
	StageTokenization         Stage = "tokenization"
	StageCompletion           Stage = "completion"
)

// Stages lists every stage in pipeline order. StageCompletion is always last.
var Stages = []Stage{
	StageInitiated,
	StageBuyerValidation,
	StageInstrumentValidation,
	StageLegalValidation,
	StageFinancialValidation,
	StageContractSignature,
	StagePayment,
	StageTitleTransfer,
	StageTokenization,
	StageCompletion,
}

var stageOrdinals = func() map[Stage]int {
	m := make(map[Stage]int, len(Stages))
	for i, s := range Stages {
		m[s] = i
	}
	return m
}()

// Valid reports whether s is a declared pipeline stage.
func (s Stage) Valid() bool {
	_, ok := stageOrdinals[s]
	return ok
}

// Ordinal returns the position of s in the pipeline, or -1 for an
// undeclared stage.
func (s Stage) Ordinal() int {
	if ord, ok := stageOrdinals[s]; ok {
		return ord
	}
	return -1
}

// Next returns the declared successor of s. Lookups at or beyond the end of
// the enumeration resolve to StageCompletion; they never wrap or error.
func (s Stage) Next() Stage {
	ord, ok := stageOrdinals[s]
	if !ok || ord+1 >= len(Stages) {
		return StageCompletion
	}
	return Stages[ord+1]
}

// Before reports whether s comes before other in pipeline order.
func (s Stage) Before(other Stage) bool {
	return s.Ordinal() < other.Ordinal()
}

// StageDefinition describes the gating requirements for a single stage.
// Definitions are built once at registry construction and never mutated.
type StageDefinition struct {
	Stage Stage `json:"stage" yaml:"stage"`

	// Required is false for stages that policy may skip (tokenization).
	// A skipped stage is auto-approved instead of blocking.
	Required bool `json:"required" yaml:"required"`

	// Documents that must be Approved before the stage validator runs.
	Documents []DocumentType `json:"documents,omitempty" yaml:"documents,omitempty"`

	// ValidatorRoles that are allowed to act on this stage.
	ValidatorRoles []string `json:"validator_roles,omitempty" yaml:"validator_roles,omitempty"`

	// DependsOn lists upstream stages that must carry an Approved audit
	// entry before this stage may advance.
	DependsOn []Stage `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// TimeBudget is how long the stage may sit without progress before
	// deadline notifications fire. Zero means no budget.
	TimeBudget time.Duration `json:"time_budget,omitempty" yaml:"time_budget,omitempty"`
}
