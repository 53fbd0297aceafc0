package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"portalchat/internal/auth"
	"portalchat/internal/content"
)

type AdminHandler struct {
	authService *auth.AuthService
	baseURL     string
}

func NewAdminHandler(authService *auth.AuthService, baseURL string) *AdminHandler {
	return &AdminHandler{authService: authService, baseURL: baseURL}
}

type AddUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	// Password is generated when empty.
	Password string `json:"password,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	LoginURL string `json:"loginUrl,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeJSON(w, http.StatusBadRequest, AddUserResponse{Message: err.Error()})
		return
	}

	user, password, err := h.authService.AddUser(req.Username, req.DisplayName, req.Password)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Username: user.UserName,
		Password: password,
		LoginURL: strings.TrimRight(h.baseURL, "/") + "/api/login",
	})
}
