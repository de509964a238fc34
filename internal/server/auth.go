package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"geosync/internal/config"
	"geosync/internal/geosync"
	"geosync/internal/model"
)

// Auth checks bearer tokens against the configured grants. With no tokens
// configured every request has full access.
type Auth struct {
	tokens []config.TokenConfig
}

// NewAuth creates an Auth over the given grants.
func NewAuth(tokens []config.TokenConfig) *Auth {
	return &Auth{tokens: tokens}
}

// Open reports whether the server accepts anonymous requests.
func (a *Auth) Open() bool {
	return len(a.tokens) == 0
}

// Permissions returns what the request may do with a project. It fails with
// ErrUnauthorized for a missing or unknown token and ErrPermissionDenied
// when the token is not granted the project.
func (a *Auth) Permissions(r *http.Request, projectID string) (model.Permissions, error) {
	if a.Open() {
		return fullAccess, nil
	}
	token, ok := bearerToken(r)
	if !ok {
		return model.Permissions{}, fmt.Errorf("%w: missing bearer token", geosync.ErrUnauthorized)
	}
	for _, t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) != 1 {
			continue
		}
		if len(t.Projects) > 0 && !slices.Contains(t.Projects, projectID) {
			return model.Permissions{}, fmt.Errorf("%w: token %s is not granted project %s", geosync.ErrPermissionDenied, t.Name, projectID)
		}
		return model.Permissions{Read: true, Write: t.Write}, nil
	}
	return model.Permissions{}, fmt.Errorf("%w: unknown token", geosync.ErrUnauthorized)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
