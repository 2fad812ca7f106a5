package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ferreiralabs/settra/internal/notify"
	"github.com/ferreiralabs/settra/model"
)

func handleNotificationList(dispatcher *notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		items := dispatcher.For(rctx.SubjectID)
		if r.URL.Query().Get("unread") == "true" {
			unread := items[:0]
			for _, n := range items {
				if !n.Read {
					unread = append(unread, n)
				}
			}
			items = unread
		}

		WriteJSON(w, http.StatusOK, map[string]any{
			"data":  items,
			"count": len(items),
		})
	}
}

func handleNotificationRead(dispatcher *notify.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		notificationID := chi.URLParam(r, "notificationId")

		if err := dispatcher.MarkRead(notificationID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "read"})
	}
}
