package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ferreiralabs/settra/internal/engine"
	"github.com/ferreiralabs/settra/internal/idempotency"
	"github.com/ferreiralabs/settra/internal/observability"
	"github.com/ferreiralabs/settra/model"
)

func handleTransactionCreate(eng *engine.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			InstrumentID string `json:"instrument_id"`
			BuyerID      string `json:"buyer_id"`
			SellerID     string `json:"seller_id"`
			Amount       int64  `json:"amount"`
			Currency     string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		tx, err := eng.Create(r.Context(), body.InstrumentID, body.BuyerID, body.SellerID,
			body.Amount, body.Currency, rctx.SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordTransactionStart()
		}
		WriteJSON(w, http.StatusCreated, tx)
	}
}

// handleTransactionAdvance drives a transaction one step through its stage
// pipeline. Clients may send an X-Idempotency-Key header; replays with the
// same key and body return the cached result without touching the engine.
func handleTransactionAdvance(eng *engine.Engine, idem idempotency.Store, idemTTL time.Duration, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		transactionID := chi.URLParam(r, "transactionId")

		rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			WriteError(w, model.NewBadRequestError("unreadable request body"))
			return
		}

		idemKey := r.Header.Get("X-Idempotency-Key")
		var storeKey, inputHash string
		if idem != nil && idemKey != "" {
			storeKey = idempotency.FormatKey(transactionID, idemKey)
			sum := sha256.Sum256(rawBody)
			inputHash = hex.EncodeToString(sum[:])

			cached, found, cerr := idem.Check(r.Context(), storeKey, inputHash)
			if cerr != nil {
				WriteError(w, cerr)
				return
			}
			if found {
				if metrics != nil {
					metrics.RecordIdempotencyHit()
				}
				WriteJSON(w, http.StatusOK, cached)
				return
			}
			if metrics != nil {
				metrics.RecordIdempotencyMiss()
			}
		}

		result, err := eng.Advance(r.Context(), transactionID, rctx.SubjectID)
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordStageAdvance(string(result.Stage), result.Outcome)
		}

		if storeKey != "" {
			// Cache write failures degrade replay protection but must not
			// fail the advance itself.
			_ = idem.Save(r.Context(), storeKey, inputHash, result, idemTTL)
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleTransactionGet(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		transactionID := chi.URLParam(r, "transactionId")

		tx, err := eng.Get(r.Context(), transactionID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, tx)
	}
}

func handleTransactionHistory(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		transactionID := chi.URLParam(r, "transactionId")

		trail, err := eng.History(r.Context(), transactionID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"transaction_id": transactionID,
			"entries":        trail,
		})
	}
}

// handleTransactionList returns the caller's transactions, newest first. A
// party query parameter lets back-office roles list on behalf of another
// participant.
func handleTransactionList(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		party := r.URL.Query().Get("party")
		if party == "" {
			party = rctx.SubjectID
		} else if party != rctx.SubjectID && !rctx.HasAnyRole("operator", "compliance") {
			WriteForbidden(w, "cannot list transactions for another party")
			return
		}

		summaries, err := eng.ListFor(r.Context(), party)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":  summaries,
			"count": len(summaries),
		})
	}
}

func handleTransactionCancel(eng *engine.Engine, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		transactionID := chi.URLParam(r, "transactionId")

		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		if err := eng.Cancel(r.Context(), transactionID, rctx.SubjectID, body.Reason); err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil {
			metrics.RecordTransactionCompletion(model.StatusCancelled)
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": model.StatusCancelled})
	}
}
