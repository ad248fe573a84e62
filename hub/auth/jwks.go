package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSProvider validates tokens issued by an external identity provider,
// fetching verification keys from its JWKS endpoint.
type JWKSProvider struct {
	issuer string
	jwks   keyfunc.Keyfunc
	cancel context.CancelFunc
}

// NewJWKSProvider fetches the key set at jwksURL and keeps it refreshed in
// the background until Close.
func NewJWKSProvider(jwksURL, issuer string) (*JWKSProvider, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return &JWKSProvider{issuer: issuer, jwks: jwks, cancel: cancel}, nil
}

func newJWKSProviderFromKeyfunc(kf keyfunc.Keyfunc, issuer string) *JWKSProvider {
	return &JWKSProvider{issuer: issuer, jwks: kf, cancel: func() {}}
}

func (p *JWKSProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{Subject: sub}, nil
}

func (p *JWKSProvider) Required() bool { return true }
func (p *JWKSProvider) Name() string   { return "jwks" }

// Close stops the background key refresh.
func (p *JWKSProvider) Close() error {
	p.cancel()
	return nil
}
