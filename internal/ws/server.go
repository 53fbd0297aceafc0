package ws

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// TokenResolver maps a session token to a user id.
type TokenResolver interface {
	GetUserID(token string) (string, error)
}

type Server struct {
	auth     TokenResolver
	hub      *Hub
	upgrader *websocket.Upgrader
}

// NewServer accepts websocket upgrades from baseURL's origin. An empty
// baseURL allows any origin.
func NewServer(auth TokenResolver, hub *Hub, baseURL string) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: sameOrigin(baseURL),
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.GetUserID(requestToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("error upgrading to websocket", "error", err)
		return
	}

	slog.Debug("websocket connected", "user_id", userID)
	if err := NewConnection(s.hub, conn, userID).Handle(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Debug("websocket closed", "user_id", userID, "error", err)
	}
}

// requestToken reads the token header first and falls back to the cookie
// browsers send on upgrade.
func requestToken(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}

func sameOrigin(baseURL string) func(r *http.Request) bool {
	if baseURL == "" {
		return func(r *http.Request) bool { return true }
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return func(r *http.Request) bool { return false }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Scheme == base.Scheme && u.Host == base.Host
	}
}
