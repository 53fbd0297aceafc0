package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"portalchat/internal/models"
	"portalchat/internal/notify"

	"github.com/SherClockHolmes/webpush-go"
)

func (a *API) PushSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if a.push == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return
	}

	var sub webpush.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := UserID(r.Context())
	err := a.push.Register(r.Context(), userID, sub)
	if errors.Is(err, notify.ErrInvalidSubscription) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to register push subscription", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register subscription")
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}
