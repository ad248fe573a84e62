package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HMACProvider validates HS256 tokens signed with a shared secret.
type HMACProvider struct {
	secret []byte
	issuer string
}

// NewHMACProvider creates an HMACProvider. An empty issuer skips the iss check.
func NewHMACProvider(secret, issuer string) *HMACProvider {
	return &HMACProvider{secret: []byte(secret), issuer: issuer}
}

func (p *HMACProvider) ValidateToken(_ context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{Subject: claims.Subject}, nil
}

// IssueToken mints a token for subject valid for ttl.
func (p *HMACProvider) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    p.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

func (p *HMACProvider) Required() bool { return true }
func (p *HMACProvider) Name() string   { return "jwt" }
func (p *HMACProvider) Close() error   { return nil }
