package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"portalchat/internal/auth"
	"portalchat/internal/chat"
	"portalchat/internal/filestore"
	"portalchat/internal/gateway"
	"portalchat/internal/models"
	"portalchat/internal/notify"
	"portalchat/internal/storage"
)

// FileMetadataStore keeps the records of uploaded files.
type FileMetadataStore interface {
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(id string) (storage.FileMetadata, error)
}

type API struct {
	auth    *auth.AuthService
	service *chat.Service
	files   filestore.FileStore
	meta    FileMetadataStore
	// Optional collaborators; handlers answer 503 when they are not configured.
	gateway *gateway.Client
	push    *notify.WebPush
}

func New(authService *auth.AuthService, service *chat.Service, files filestore.FileStore, meta FileMetadataStore) *API {
	return &API{auth: authService, service: service, files: files, meta: meta}
}

// WithGateway enables POST /api/outbound.
func (a *API) WithGateway(gw *gateway.Client) *API {
	a.gateway = gw
	return a
}

// WithPush enables POST /api/push/subscriptions.
func (a *API) WithPush(push *notify.WebPush) *API {
	a.push = push
	return a
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and Form
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp, userID := a.auth.Login(req)
	if !loginResp.Success {
		writeJSON(w, http.StatusUnauthorized, loginResp)
		return
	}
	slog.Info("user logged in", "user_id", userID)

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})
	writeJSON(w, http.StatusOK, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	token := getToken(r)
	if token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.auth.GetUser(UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.auth.GetUsers())
}

func getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}
