package engine

import "github.com/ferreiralabs/settra/model"

// MissingDocuments is the document gate: it returns the required types that
// do not yet have an Approved record on the transaction, in the order the
// stage definition declares them. Pure function; safe to call repeatedly.
func MissingDocuments(tx *model.Transaction, required []model.DocumentType) []model.DocumentType {
	var missing []model.DocumentType
	for _, dt := range required {
		rec := tx.DocumentByType(dt)
		if rec == nil || rec.Status != model.DocumentApproved {
			missing = append(missing, dt)
		}
	}
	return missing
}
