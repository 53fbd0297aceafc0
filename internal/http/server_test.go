package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"portalchat/internal/api"
	"portalchat/internal/auth"
	"portalchat/internal/chat"
	"portalchat/internal/filestore"
	"portalchat/internal/storage"
	"portalchat/internal/ws"
)

func newServers(t *testing.T) (*APIServer, *AdminServer) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewBboltStorage(filepath.Join(dir, "http.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	as, err := auth.NewAuthService(ctx, auth.Config{}, store)
	require.NoError(t, err)
	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "uploads"), 0)
	require.NoError(t, err)

	service := chat.NewService(store.Feed())
	hub := ws.NewHub(store.Feed(), service, as)
	apiServer := NewAPIServer(api.New(as, service, files, store), ws.NewServer(as, hub, ""), "")
	return apiServer, NewAdminServer(as, "http://localhost:8080", "")
}

func TestRoutes(t *testing.T) {
	apiServer, adminServer := newServers(t)

	tests := []struct {
		name    string
		handler http.Handler
		method  string
		path    string
		body    string
		origin  string
		want    int
	}{
		{"MetricsExposed", adminServer.Handler(), http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"AddUser", adminServer.Handler(), http.MethodPost, "/admin/users", `{"username":"carol"}`, "", http.StatusOK},
		{"AdminWrongMethod", adminServer.Handler(), http.MethodGet, "/admin/users", "", "", http.StatusMethodNotAllowed},
		{"UsersNeedAuth", apiServer.Handler(), http.MethodGet, "/api/users", "", "", http.StatusUnauthorized},
		{"ChatNeedsAuth", apiServer.Handler(), http.MethodGet, "/api/chat", "", "", http.StatusUnauthorized},
		{"CrossOriginLogin", apiServer.Handler(), http.MethodPost, "/api/login", `{}`, "http://evil.test", http.StatusForbidden},
		{"FailedLogin", apiServer.Handler(), http.MethodPost, "/api/login", `username=x&password=y`, "", http.StatusUnauthorized},
		{"UnknownRoute", apiServer.Handler(), http.MethodGet, "/", "", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" && !strings.HasPrefix(tt.body, "{") {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
