package main

import (
	"net/http"
	"strings"

	"github.com/nodalflow/voxplane/internal/config"
	"github.com/nodalflow/voxplane/internal/queue"
	"github.com/nodalflow/voxplane/internal/voxerr"
)

// staticAuth is the built-in shared-token authenticator: HTTP requests
// carry "Authorization: Bearer <token>" plus an X-User-ID header, and
// queue-WebSocket auth_request tokens use the form "<token>:<user_id>".
// Deployments with a real identity provider replace this at the
// composition root.
type staticAuth struct {
	token  string
	admins map[string]struct{}
}

func newStaticAuth(cfg config.AuthConfig) *staticAuth {
	admins := make(map[string]struct{}, len(cfg.AdminUsers))
	for _, u := range cfg.AdminUsers {
		admins[u] = struct{}{}
	}
	return &staticAuth{token: cfg.APIToken, admins: admins}
}

func (a *staticAuth) Authenticate(r *http.Request) (queue.Requester, error) {
	if a.token == "" {
		return queue.Requester{}, voxerr.New(voxerr.Authorization, "authentication is not configured")
	}
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if bearer != a.token {
		return queue.Requester{}, voxerr.New(voxerr.Authorization, "invalid token")
	}
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return queue.Requester{}, voxerr.New(voxerr.Authorization, "missing user id")
	}
	_, isAdmin := a.admins[userID]
	return queue.Requester{UserID: userID, IsAdmin: isAdmin}, nil
}

// Verify implements notify.TokenVerifier for queue-WebSocket auth_request
// messages.
func (a *staticAuth) Verify(token string) (string, bool) {
	if a.token == "" {
		return "", false
	}
	apiToken, userID, ok := strings.Cut(token, ":")
	if !ok || apiToken != a.token || userID == "" {
		return "", false
	}
	return userID, true
}
