// Package middleware provides the gin middleware chain of the gateway:
// panic recovery, request IDs, access logging, tracing, metrics, rate
// limiting and body size limits.
package middleware
