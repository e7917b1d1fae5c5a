package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestRecorder records HTTP request metrics.
type RequestRecorder interface {
	RecordRequest(method, route string, status int, duration time.Duration)
	IncrementActiveRequests()
	DecrementActiveRequests()
}

// Metrics records every request by its route pattern, keeping the label
// set bounded.
func Metrics(recorder RequestRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		recorder.IncrementActiveRequests()
		defer recorder.DecrementActiveRequests()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
