package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// AbortWithEnvelope writes the standard error envelope and aborts the chain.
func AbortWithEnvelope(c *gin.Context, status int, exception, message string) {
	body, err := rfc.EncodeError(rfc.ErrorEnvelope{Exception: exception, ErrorMessage: message})
	if err != nil {
		c.AbortWithStatus(status)
		return
	}
	c.Data(status, "application/json; charset=utf-8", body)
	c.Abort()
}
