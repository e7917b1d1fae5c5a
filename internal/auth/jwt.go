// Package auth provides optional bearer token authentication and policy
// based authorization of gateway requests.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

const (
	defaultRefreshInterval = 15 * time.Minute
	acceptableSkew         = 30 * time.Second
)

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Roles   []string
	Token   string
}

// Authenticator verifies bearer JWTs against a JSON Web Key Set.
type Authenticator struct {
	keys       jwk.Set
	issuer     string
	audience   string
	rolesClaim string
	rolePrefix string
	logger     observability.Logger
	cancel     context.CancelFunc
}

// NewAuthenticator loads the key set named by cfg. A JWKS URL is fetched
// once up front and refreshed in the background until Close.
func NewAuthenticator(ctx context.Context, cfg config.AuthConfig, logger observability.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	a := &Authenticator{
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		rolesClaim: cfg.RolesClaim,
		rolePrefix: cfg.RolePrefix,
		logger:     logger,
		cancel:     func() {},
	}
	if a.rolesClaim == "" {
		a.rolesClaim = "scope"
	}

	switch {
	case cfg.JWKSFile != "":
		set, err := jwk.ReadFile(cfg.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWKS file: %w", err)
		}
		a.keys = set

	case cfg.JWKSURL != "":
		refresh := cfg.RefreshInterval.Duration()
		if refresh <= 0 {
			refresh = defaultRefreshInterval
		}

		cacheCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		cache := jwk.NewCache(cacheCtx)
		if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(refresh)); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
		}
		if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
		}
		a.keys = jwk.NewCachedSet(cache, cfg.JWKSURL)
		a.cancel = cancel

	default:
		return nil, fmt.Errorf("jwksUrl or jwksFile is required")
	}

	logger.Info("bearer token authentication enabled",
		observability.String("issuer", cfg.Issuer),
		observability.String("rolesClaim", a.rolesClaim),
	)
	return a, nil
}

// Authenticate verifies token and returns its principal.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(a.keys, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithContext(ctx),
		jwt.WithAcceptableSkew(acceptableSkew),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	parsed, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return &Principal{
		Subject: parsed.Subject(),
		Roles:   a.roles(parsed),
		Token:   token,
	}, nil
}

// Close stops the background key refresh.
func (a *Authenticator) Close() {
	a.cancel()
}

// roles reads the roles claim, which holds either a space separated string
// or a list. Roles carrying the configured prefix are returned without it.
func (a *Authenticator) roles(token jwt.Token) []string {
	raw, ok := token.Get(a.rolesClaim)
	if !ok {
		return []string{}
	}

	var values []string
	switch v := raw.(type) {
	case string:
		values = strings.Fields(v)
	case []string:
		values = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
	}

	roles := make([]string, 0, len(values))
	for _, r := range values {
		roles = append(roles, strings.TrimPrefix(r, a.rolePrefix))
	}
	return roles
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
