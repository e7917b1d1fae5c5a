package auth

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// Exception texts of access control failures.
const (
	ExceptionUnauthenticated = "Authentication required."
	ExceptionForbidden       = "Access denied."
)

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// Guard authenticates requests and applies the access policy. The policy
// can be swapped at runtime.
type Guard struct {
	verifier    TokenVerifier
	policy      atomic.Pointer[Policy]
	destination func(string) string
	logger      observability.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithDestinationResolver maps the requested destination, possibly empty,
// to the name the policy sees.
func WithDestinationResolver(fn func(string) string) GuardOption {
	return func(g *Guard) {
		g.destination = fn
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(logger observability.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard creates a guard.
func NewGuard(verifier TokenVerifier, policy *Policy, opts ...GuardOption) *Guard {
	g := &Guard{
		verifier:    verifier,
		destination: func(s string) string { return s },
		logger:      observability.NopLogger(),
	}
	g.policy.Store(policy)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetPolicy replaces the access policy.
func (g *Guard) SetPolicy(p *Policy) {
	g.policy.Store(p)
}

// Policy returns the current access policy.
func (g *Guard) Policy() *Policy {
	return g.policy.Load()
}

// Middleware authenticates the bearer token and evaluates the policy
// against the requested function and destination.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		logger := g.logger.WithContext(ctx)

		principal, err := g.verifier.Authenticate(ctx, BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			logger.Debug("authentication failed", observability.Error(err))
			c.Header("WWW-Authenticate", `Bearer realm="avarfc"`)
			abort(c, http.StatusUnauthorized, rfc.ErrorEnvelope{
				Exception:    ExceptionUnauthenticated,
				ErrorMessage: err.Error(),
			})
			return
		}

		in := Input{
			Method:      c.Request.Method,
			Function:    c.Query("fm"),
			Destination: g.destination(strings.Trim(c.Param("dest"), "/")),
			Subject:     principal.Subject,
			Roles:       principal.Roles,
		}

		allowed, err := g.policy.Load().Allow(in)
		if err != nil {
			logger.Error("access policy evaluation failed", observability.Error(err))
		}
		if !allowed {
			logger.Info("access denied",
				observability.String("subject", in.Subject),
				observability.Strings("roles", in.Roles),
				observability.String("function", in.Function),
				observability.String("destination", in.Destination),
			)
			abort(c, http.StatusForbidden, rfc.ErrorEnvelope{
				Exception:    ExceptionForbidden,
				ErrorMessage: "Principal " + in.Subject + " may not call " + in.Function + " in destination " + in.Destination + ".",
			})
			return
		}

		c.Request = c.Request.WithContext(observability.ContextWithPrincipal(ctx, principal.Subject))
		c.Next()
	}
}

func abort(c *gin.Context, status int, env rfc.ErrorEnvelope) {
	body, err := rfc.EncodeError(env)
	if err != nil {
		c.AbortWithStatus(status)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
	c.Abort()
}
