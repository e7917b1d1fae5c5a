package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarfc/internal/audit"
	"github.com/vyrodovalexey/avarfc/internal/auth"
	"github.com/vyrodovalexey/avarfc/internal/credentials"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Caller runs remote function calls. *rfc.Bridge satisfies it.
type Caller interface {
	Call(ctx context.Context, req *rfc.CallRequest) (*rfc.ResultEnvelope, error)
	Describe(ctx context.Context, destination, function string) (*rfc.FunctionSchema, error)
	DefaultDestination() string
}

// CredentialSource yields the credential provider of a destination.
type CredentialSource interface {
	Provider(destination string) rfc.CredentialProvider
}

type noCredentials struct{}

func (noCredentials) Provider(string) rfc.CredentialProvider { return credentials.None() }

// callHandler serves /rfc/*dest.
type callHandler struct {
	server *Server
}

func (h *callHandler) serve(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()
	bridge := h.server.Caller()

	destination := strings.Trim(c.Param("dest"), "/")
	function := c.Query("fm")

	var (
		req *rfc.CallRequest
		err error
	)
	switch c.Request.Method {
	case http.MethodGet:
		if _, ok := c.GetQuery("metadata"); ok {
			h.describe(c, bridge, destination, function)
			return
		}
		req, err = rfc.DecodeQuery(c.Query("query"))
	case http.MethodPost:
		req, err = h.decodeBody(c)
	default:
		c.Header("Allow", "GET, POST")
		h.writeEnvelope(c, http.StatusMethodNotAllowed, rfc.ErrorEnvelope{
			Exception:    "Method not allowed.",
			ErrorMessage: "Method " + c.Request.Method + " is not supported, use GET or POST.",
		})
		return
	}

	resolved := destination
	if resolved == "" {
		resolved = bridge.DefaultDestination()
	}

	var result *rfc.ResultEnvelope
	if err == nil {
		req.Destination = destination
		req.FunctionName = function
		req.Credentials = h.server.credentials.Provider(resolved)

		callCtx := credentials.ContextWithBearerToken(ctx, auth.BearerToken(c.GetHeader("Authorization")))
		result, err = bridge.Call(callCtx, req)
	}

	status := http.StatusOK
	outcome := rfc.OutcomeSuccess
	if err != nil {
		var env rfc.ErrorEnvelope
		status, env = rfc.MapError(err, h.server.statusPolicy)
		outcome = outcomeOf(err)
		_ = c.Error(err)
		h.writeEnvelope(c, status, env)
	} else {
		h.writeResult(c, result)
	}

	h.audit(ctx, &audit.Record{
		RequestID:     observability.RequestIDFromContext(ctx),
		Principal:     observability.PrincipalFromContext(ctx),
		Method:        c.Request.Method,
		Destination:   resolved,
		Function:      function,
		Transactional: req != nil && req.Transactional,
		Outcome:       outcome,
		Status:        status,
		DurationMs:    time.Since(start).Milliseconds(),
	})
}

func (h *callHandler) decodeBody(c *gin.Context) (*rfc.CallRequest, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, &rfc.Error{Kind: rfc.KindMalformedBody, Cause: err}
	}
	return rfc.DecodeBody(body)
}

// describe answers a metadata request with the function schema.
func (h *callHandler) describe(c *gin.Context, bridge Caller, destination, function string) {
	schema, err := bridge.Describe(c.Request.Context(), destination, function)
	if err != nil {
		status, env := rfc.MapError(err, h.server.statusPolicy)
		_ = c.Error(err)
		h.writeEnvelope(c, status, env)
		return
	}

	body, err := rfc.EncodeSchema(schema)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

func (h *callHandler) writeResult(c *gin.Context, result *rfc.ResultEnvelope) {
	body, err := rfc.EncodeResult(result)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeJSON, body)
}

func (h *callHandler) writeEnvelope(c *gin.Context, status int, env rfc.ErrorEnvelope) {
	body, err := rfc.EncodeError(env)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.Data(status, contentTypeJSON, body)
}

func (h *callHandler) internalError(c *gin.Context, err error) {
	h.server.logger.WithContext(c.Request.Context()).Error("failed to encode response", observability.Error(err))
	c.Data(http.StatusInternalServerError, contentTypeJSON,
		[]byte(`{"exception":"Runtime exception.","errormessage":"failed to encode response"}`))
}

func (h *callHandler) audit(ctx context.Context, rec *audit.Record) {
	if err := h.server.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		h.server.logger.WithContext(ctx).Warn("failed to record audit entry", observability.Error(err))
	}
}

func outcomeOf(err error) string {
	var e *rfc.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return rfc.KindInternal.String()
}
