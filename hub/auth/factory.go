package auth

import (
	"fmt"

	"github.com/amurg-ai/webshell/hub/config"
)

// NewProvider creates an auth Provider based on configuration.
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Mode {
	case config.AuthNone, "":
		return NoneProvider{}, nil
	case config.AuthJWT:
		return NewHMACProvider(cfg.JWTSecret, cfg.Issuer), nil
	case config.AuthJWKS:
		return NewJWKSProvider(cfg.JWKSURL, cfg.Issuer)
	default:
		return nil, fmt.Errorf("unknown auth mode: %q", cfg.Mode)
	}
}
