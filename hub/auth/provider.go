// Package auth gates the bridge behind an optional bearer token.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for any missing, malformed or rejected token.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is who presented a token.
type Identity struct {
	Subject string
}

// Provider validates bearer tokens.
type Provider interface {
	ValidateToken(ctx context.Context, token string) (*Identity, error)
	// Required reports whether requests without a token are rejected.
	Required() bool
	Name() string
	Close() error
}

// TokenFromRequest extracts a bearer token from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

// Authenticate validates the request's token with p. When p does not require
// a token, requests without one are admitted anonymously.
func Authenticate(ctx context.Context, p Provider, r *http.Request) (*Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		if p.Required() {
			return nil, ErrUnauthorized
		}
		return &Identity{Subject: "anonymous"}, nil
	}
	return p.ValidateToken(ctx, token)
}

// NoneProvider admits everyone.
type NoneProvider struct{}

func (NoneProvider) ValidateToken(context.Context, string) (*Identity, error) {
	return &Identity{Subject: "anonymous"}, nil
}

func (NoneProvider) Required() bool { return false }
func (NoneProvider) Name() string   { return "none" }
func (NoneProvider) Close() error   { return nil }
