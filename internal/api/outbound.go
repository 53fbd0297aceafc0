package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"portalchat/internal/chat"
	"portalchat/internal/gateway"
	"portalchat/internal/models"
)

type OutboundRequest struct {
	// ThreadID, when set, gets a copy of the delivered message.
	ThreadID    string `json:"threadId,omitempty"`
	Destination string `json:"destination"`
	Text        string `json:"text"`
	FileID      string `json:"fileId,omitempty"`
}

type OutboundResponse struct {
	Success   bool                   `json:"success"`
	Delivery  gateway.DeliveryResult `json:"delivery"`
	MessageID string                 `json:"messageId,omitempty"`
}

func (a *API) OutboundHandler(w http.ResponseWriter, r *http.Request) {
	if a.gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "messaging gateway is not configured")
		return
	}

	var req OutboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ThreadID != "" {
		if err := chat.ValidateThreadID(req.ThreadID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	msg := gateway.OutboundMessage{Destination: req.Destination, Text: req.Text}
	var attachment *models.Attachment
	if req.FileID != "" {
		meta, data, err := a.readFile(req.FileID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown file")
			return
		}
		msg.Attachment = &gateway.File{Name: meta.Name, Data: data}
		attachment = &models.Attachment{Type: "file", ID: meta.ID, Title: meta.Name, URL: fileURL(meta.ID)}
	}

	userID := UserID(r.Context())
	delivery, err := a.gateway.SendMessage(r.Context(), msg)
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, models.ErrInvalidDestination), errors.Is(err, models.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.As(err, &gwErr):
		slog.Warn("gateway rejected message", "user_id", userID, "status", gwErr.Status, "error", gwErr.Message)
		writeError(w, http.StatusBadGateway, gwErr.Message)
		return
	case err != nil:
		slog.Error("gateway request failed", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "messaging gateway unavailable")
		return
	}

	resp := OutboundResponse{Success: true, Delivery: delivery}
	if req.ThreadID != "" {
		author, _ := a.auth.GetUser(userID)
		id, err := a.service.Send(r.Context(), chat.SendRequest{
			ThreadID:   req.ThreadID,
			AuthorID:   userID,
			AuthorName: author.DisplayName,
			Text:       req.Text,
			Attachment: attachment,
			Direction:  models.DirectionOutgoing,
		})
		if err != nil {
			// Already delivered; the thread copy is best effort.
			slog.Error("failed to record outbound message", "user_id", userID, "thread_id", req.ThreadID, "error", err)
		}
		resp.MessageID = id
	}
	writeJSON(w, http.StatusOK, resp)
}
