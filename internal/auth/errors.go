package auth

import "errors"

// Authentication errors.
var (
	// ErrMissingToken indicates that the request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken indicates that the token failed verification or validation.
	ErrInvalidToken = errors.New("invalid token")
)
