package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ferreiralabs/settra/internal/engine"
	"github.com/ferreiralabs/settra/internal/observability"
	"github.com/ferreiralabs/settra/model"
)

func handleDocumentAttach(eng *engine.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		transactionID := chi.URLParam(r, "transactionId")

		var body struct {
			Type       string `json:"type"`
			StorageRef string `json:"storage_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Type == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "type",
				Code:    "required",
				Message: "document type is required",
			}})
			return
		}

		doc, err := eng.AttachDocument(r.Context(), transactionID,
			model.DocumentType(body.Type), body.StorageRef, rctx.SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordDocumentSubmission(string(doc.Type))
		}
		WriteJSON(w, http.StatusCreated, doc)
	}
}

func handleDocumentApprove(eng *engine.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		if !rctx.HasAnyRole("operator", "compliance") {
			WriteForbidden(w, "document review requires an operator or compliance role")
			return
		}
		transactionID := chi.URLParam(r, "transactionId")
		documentID := chi.URLParam(r, "documentId")

		doc, err := eng.ApproveDocument(r.Context(), transactionID, documentID, rctx.SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordDocumentReview(string(doc.Type), model.DecisionApproved)
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

func handleDocumentReject(eng *engine.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		if !rctx.HasAnyRole("operator", "compliance") {
			WriteForbidden(w, "document review requires an operator or compliance role")
			return
		}
		transactionID := chi.URLParam(r, "transactionId")
		documentID := chi.URLParam(r, "documentId")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Reason == "" {
			WriteValidationError(w, []model.FieldError{{
				Field:   "reason",
				Code:    "required",
				Message: "a rejection reason is required",
			}})
			return
		}

		doc, err := eng.RejectDocument(r.Context(), transactionID, documentID, rctx.SubjectID, body.Reason)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordDocumentReview(string(doc.Type), model.DecisionRejected)
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}
