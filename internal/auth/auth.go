package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the caller identity extracted from a verified token. ID is the
// stable identifier used for signal targeting and echo suppression.
type Identity struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Verifier interface {
	Verify(token string) (Identity, error)
}

// CredentialFromRequest returns the token carried by a WebSocket upgrade
// request. The `token` query parameter wins over an Authorization header since
// browsers cannot set headers on WebSocket handshakes.
func CredentialFromRequest(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token, nil
			}
		}
	}
	return "", ErrMissingCredentials
}
