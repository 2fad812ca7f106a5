package stage

import (
	"time"

	"github.com/ferreiralabs/settra/model"
)

// DefaultDefinitions returns the standard purchase pipeline. Deployments may
// build a registry from their own definitions instead; this is the shape the
// marketplace runs in production.
func DefaultDefinitions() []model.StageDefinition {
	return []model.StageDefinition{
		{
			Stage:      model.StageInitiated,
			Required:   true,
			TimeBudget: 24 * time.Hour,
		},
		{
			Stage:          model.StageBuyerValidation,
			Required:       true,
			Documents:      []model.DocumentType{model.DocIdentity, model.DocProofOfAddress},
			ValidatorRoles: []string{"compliance"},
			DependsOn:      []model.Stage{model.StageInitiated},
			TimeBudget:     72 * time.Hour,
		},
		{
			Stage:          model.StageInstrumentValidation,
			Required:       true,
			Documents:      []model.DocumentType{model.DocInstrumentCertificate},
			ValidatorRoles: []string{"registry_agent"},
			DependsOn:      []model.Stage{model.StageInitiated},
			TimeBudget:     72 * time.Hour,
		},
		{
			Stage:          model.StageLegalValidation,
			Required:       true,
			Documents:      []model.DocumentType{model.DocDueDiligenceReport},
			ValidatorRoles: []string{"legal"},
			DependsOn:      []model.Stage{model.StageBuyerValidation, model.StageInstrumentValidation},
			TimeBudget:     120 * time.Hour,
		},
		{
			Stage:          model.StageFinancialValidation,
			Required:       true,
			ValidatorRoles: []string{"finance"},
			DependsOn:      []model.Stage{model.StageLegalValidation},
			TimeBudget:     48 * time.Hour,
		},
		{
			Stage:          model.StageContractSignature,
			Required:       true,
			Documents:      []model.DocumentType{model.DocPurchaseAgreement},
			DependsOn:      []model.Stage{model.StageFinancialValidation},
			TimeBudget:     96 * time.Hour,
		},
		{
			Stage:          model.StagePayment,
			Required:       true,
			Documents:      []model.DocumentType{model.DocPaymentReceipt},
			ValidatorRoles: []string{"finance"},
			DependsOn:      []model.Stage{model.StageContractSignature},
			TimeBudget:     48 * time.Hour,
		},
		{
			Stage:          model.StageTitleTransfer,
			Required:       true,
			Documents:      []model.DocumentType{model.DocTransferDeed},
			ValidatorRoles: []string{"registry_agent"},
			DependsOn:      []model.Stage{model.StagePayment},
			TimeBudget:     72 * time.Hour,
		},
		{
			// Optional by policy; skipped when no validator is registered.
			Stage:     model.StageTokenization,
			Required:  false,
			DependsOn: []model.Stage{model.StageTitleTransfer},
		},
		{
			Stage:     model.StageCompletion,
			Required:  true,
			DependsOn: []model.Stage{model.StageTitleTransfer},
		},
	}
}

// Default builds the standard pipeline registry. It panics on a definition
// error, which can only happen if DefaultDefinitions itself is inconsistent.
func Default() *Registry {
	r, err := NewRegistry(DefaultDefinitions())
	if err != nil {
		panic(err)
	}
	return r
}
