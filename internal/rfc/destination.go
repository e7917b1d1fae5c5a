package rfc

import (
	"context"
	"errors"
)

// ErrUnknownDestination is returned by providers for names they do not hold.
var ErrUnknownDestination = errors.New("unknown destination")

// DestinationProvider hands out live handles to named destinations.
type DestinationProvider interface {
	Destination(ctx context.Context, name string) (Destination, error)
}

// Destination is a connectivity target with a function metadata repository.
type Destination interface {
	// Name returns the configured destination name.
	Name() string

	// FunctionSchema looks a function up in the repository.
	// It returns (nil, nil) when the function does not exist.
	FunctionSchema(ctx context.Context, function string) (*FunctionSchema, error)

	// Execute runs a function statelessly.
	Execute(ctx context.Context, inv *Invocation) (*CallResult, error)

	// BeginSession opens a stateful session. Every call made through the
	// session runs in the same remote context until End is called.
	BeginSession(ctx context.Context, creds Credentials) (Session, error)
}

// Session is a stateful remote context bound to one destination.
type Session interface {
	ID() string
	Execute(ctx context.Context, inv *Invocation) (*CallResult, error)
	End(ctx context.Context) error
}

// Invocation is one function call as sent to a destination.
type Invocation struct {
	Function    string
	Imports     map[string]any
	Tables      map[string][]map[string]any
	Credentials Credentials
}

// CallResult is what a destination returns after a successful execution.
type CallResult struct {
	Exports map[string]any
	Tables  map[string][]map[string]any
}

// Credentials identify the caller towards the destination.
// The zero value means the destination's own configured logon.
type Credentials struct {
	User     string
	Password string
	Token    string
}

// Empty reports whether no credential material is set.
func (c Credentials) Empty() bool {
	return c.User == "" && c.Password == "" && c.Token == ""
}

// CredentialProvider yields the credentials for one request.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context) (Credentials, error)

// Credentials implements CredentialProvider.
func (f CredentialFunc) Credentials(ctx context.Context) (Credentials, error) {
	return f(ctx)
}
