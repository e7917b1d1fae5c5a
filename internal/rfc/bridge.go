package rfc

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Observer receives call lifecycle events, typically to update metrics.
type Observer interface {
	CallCompleted(destination, function, outcome string, duration time.Duration)
	SessionOpened(destination string)
	SessionClosed(destination string)
	CommitCompleted(destination string, ok bool)
}

type nopObserver struct{}

func (nopObserver) CallCompleted(string, string, string, time.Duration) {}
func (nopObserver) SessionOpened(string)                                {}
func (nopObserver) SessionClosed(string)                                {}
func (nopObserver) CommitCompleted(string, bool)                        {}

// OutcomeSuccess is the outcome label of a successful call.
const OutcomeSuccess = "success"

// Bridge runs the call pipeline: resolve, marshal, execute (inside a
// transaction bracket when requested), extract.
type Bridge struct {
	destinations       DestinationProvider
	defaultDestination string
	settings           TransactionSettings
	invoker            invoker
	observer           Observer
	logger             observability.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithDefaultDestination sets the destination used when a request names none.
func WithDefaultDestination(name string) Option {
	return func(b *Bridge) {
		b.defaultDestination = name
	}
}

// WithTransactionSettings sets the commit and rollback behaviour.
func WithTransactionSettings(s TransactionSettings) Option {
	return func(b *Bridge) {
		if s.CommitFunction == "" {
			s.CommitFunction = DefaultCommitFunction
		}
		if s.RollbackFunction == "" {
			s.RollbackFunction = DefaultRollbackFunction
		}
		b.settings = s
	}
}

// WithCallTimeout bounds every remote execution. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.invoker.timeout = d
	}
}

// WithObserver sets the lifecycle event receiver.
func WithObserver(o Observer) Option {
	return func(b *Bridge) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBridge creates a bridge over the given destinations.
func NewBridge(destinations DestinationProvider, opts ...Option) *Bridge {
	b := &Bridge{
		destinations: destinations,
		settings:     DefaultTransactionSettings(),
		invoker:      invoker{timeout: DefaultCallTimeout},
		observer:     nopObserver{},
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DefaultDestination returns the destination used for requests naming none.
func (b *Bridge) DefaultDestination() string {
	return b.defaultDestination
}

// Call executes one request. The returned error is always an *Error.
func (b *Bridge) Call(ctx context.Context, req *CallRequest) (*ResultEnvelope, error) {
	start := time.Now()
	destName := b.destinationName(req.Destination)

	result, err := b.call(ctx, destName, req)

	outcome := OutcomeSuccess
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			outcome = e.Kind.String()
		}
	}
	b.observer.CallCompleted(destName, req.FunctionName, outcome, time.Since(start))

	logger := b.logger.WithContext(ctx)
	if err != nil {
		logger.Warn("remote function call failed",
			observability.String("destination", destName),
			observability.String("function", req.FunctionName),
			observability.Bool("transactional", req.Transactional),
			observability.String("outcome", outcome),
			observability.Error(err),
		)
		return nil, err
	}

	logger.Debug("remote function call completed",
		observability.String("destination", destName),
		observability.String("function", req.FunctionName),
		observability.Bool("transactional", req.Transactional),
		observability.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (b *Bridge) call(ctx context.Context, destName string, req *CallRequest) (*ResultEnvelope, error) {
	if req.FunctionName == "" {
		return nil, &Error{Kind: KindMissingFunction, Destination: destName, Detail: "Parameter fm is required."}
	}

	dest, err := b.destinations.Destination(ctx, destName)
	if err != nil {
		return nil, newError(KindTransport, req.FunctionName, destName, err)
	}

	schema, err := Resolve(ctx, dest, req.FunctionName)
	if err != nil {
		return nil, err
	}

	imports, tables, err := Marshal(schema, req)
	if err != nil {
		return nil, newError(KindTransport, req.FunctionName, destName, err)
	}

	creds, err := resolveCredentials(ctx, req.Credentials)
	if err != nil {
		return nil, newError(KindTransport, req.FunctionName, destName, err)
	}

	inv := &Invocation{
		Function:    req.FunctionName,
		Imports:     imports.imports(),
		Tables:      tables.tables(),
		Credentials: creds,
	}

	var result *CallResult
	if req.Transactional {
		result, err = b.callTransactional(ctx, dest, inv)
	} else {
		result, err = b.invoker.execute(ctx, dest.Name(), dest.Execute, inv)
	}
	if err != nil {
		return nil, err
	}

	return Extract(schema, tables, result), nil
}

// callTransactional runs inv and the commit function on one session.
func (b *Bridge) callTransactional(ctx context.Context, dest Destination, inv *Invocation) (*CallResult, error) {
	bracket, err := openBracket(ctx, dest, inv.Credentials, b.settings, b.invoker, b.observer, b.logger.WithContext(ctx))
	if err != nil {
		return nil, classify(err, inv.Function, dest.Name())
	}
	defer func() { _ = bracket.Close(ctx) }()

	result, err := bracket.Execute(ctx, inv)
	if err != nil {
		if b.settings.RollbackOnError {
			if rbErr := bracket.Rollback(ctx, inv.Credentials); rbErr != nil {
				b.logger.WithContext(ctx).Warn("rollback failed",
					observability.String("destination", dest.Name()),
					observability.String("function", inv.Function),
					observability.Error(rbErr),
				)
			}
		}
		return nil, err
	}

	if err := bracket.Commit(ctx, inv.Function, inv.Credentials); err != nil {
		return nil, err
	}
	return result, nil
}

// Describe returns the schema of a function, for metadata requests.
func (b *Bridge) Describe(ctx context.Context, destination, function string) (*FunctionSchema, error) {
	destName := b.destinationName(destination)
	if function == "" {
		return nil, &Error{Kind: KindMissingFunction, Destination: destName, Detail: "Parameter fm is required."}
	}

	dest, err := b.destinations.Destination(ctx, destName)
	if err != nil {
		return nil, newError(KindTransport, function, destName, err)
	}
	return Resolve(ctx, dest, function)
}

func (b *Bridge) destinationName(name string) string {
	if name == "" {
		return b.defaultDestination
	}
	return name
}

func resolveCredentials(ctx context.Context, provider CredentialProvider) (Credentials, error) {
	if provider == nil {
		return Credentials{}, nil
	}
	return provider.Credentials(ctx)
}
