// Package credentials provides the logon material the gateway presents to
// destinations, resolved per request.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// ErrNoCallerToken is returned by the forward provider when the request
// carries no bearer token.
var ErrNoCallerToken = errors.New("no caller token to forward")

// New creates the credential provider described by cfg.
func New(cfg config.CredentialsConfig, logger observability.Logger) (rfc.CredentialProvider, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Type {
	case config.CredentialsNone, "":
		return None(), nil
	case config.CredentialsBasic:
		return Static(rfc.Credentials{User: cfg.User, Password: cfg.Password}), nil
	case config.CredentialsBearer:
		return Static(rfc.Credentials{Token: cfg.Token}), nil
	case config.CredentialsVault:
		return NewVault(cfg.Vault, logger)
	case config.CredentialsOAuth2:
		return NewOAuth2(cfg.OAuth2), nil
	case config.CredentialsForward:
		return Forward(), nil
	default:
		return nil, fmt.Errorf("unknown credentials type %q", cfg.Type)
	}
}

// None returns a provider that yields no credentials, so the destination
// uses its own configured logon.
func None() rfc.CredentialProvider {
	return Static(rfc.Credentials{})
}

// Static returns a provider that always yields creds.
func Static(creds rfc.Credentials) rfc.CredentialProvider {
	return rfc.CredentialFunc(func(context.Context) (rfc.Credentials, error) {
		return creds, nil
	})
}

type tokenKey struct{}

// ContextWithBearerToken attaches the caller's bearer token to ctx.
func ContextWithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// BearerTokenFromContext returns the caller's bearer token, if any.
func BearerTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// Forward returns a provider that propagates the caller's bearer token.
func Forward() rfc.CredentialProvider {
	return rfc.CredentialFunc(func(ctx context.Context) (rfc.Credentials, error) {
		token := BearerTokenFromContext(ctx)
		if token == "" {
			return rfc.Credentials{}, ErrNoCallerToken
		}
		return rfc.Credentials{Token: token}, nil
	})
}
