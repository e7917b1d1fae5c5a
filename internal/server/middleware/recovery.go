package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Recovery turns a panic into the Runtime exception envelope.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			logger.WithContext(c.Request.Context()).Error("panic recovered",
				observability.Any("error", err),
				observability.String("method", c.Request.Method),
				observability.String("path", c.Request.URL.Path),
				observability.String("stack", string(debug.Stack())),
			)
			trace.SpanFromContext(c.Request.Context()).RecordError(fmt.Errorf("panic: %v", err))

			AbortWithEnvelope(c, http.StatusInternalServerError, "Runtime exception.", fmt.Sprint(err))
		}()

		c.Next()
	}
}
