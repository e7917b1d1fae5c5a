package rfc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Well-known transaction control functions.
const (
	DefaultCommitFunction   = "BAPI_TRANSACTION_COMMIT"
	DefaultRollbackFunction = "BAPI_TRANSACTION_ROLLBACK"
)

// TransactionSettings controls the commit step of transactional calls.
type TransactionSettings struct {
	// CommitFunction is executed on the session after the primary call.
	CommitFunction string
	// Wait sets the commit function's WAIT import to "X" when it declares one.
	Wait bool
	// RollbackFunction is executed when the primary call fails and
	// RollbackOnError is set.
	RollbackFunction string
	RollbackOnError  bool
}

// DefaultTransactionSettings returns the settings used when none are configured.
func DefaultTransactionSettings() TransactionSettings {
	return TransactionSettings{
		CommitFunction:   DefaultCommitFunction,
		RollbackFunction: DefaultRollbackFunction,
	}
}

// BracketState is the lifecycle state of a transaction bracket.
type BracketState int

const (
	// StateClosed means no session is held.
	StateClosed BracketState = iota
	// StateOpen means a session is held and accepts calls.
	StateOpen
	// StateCommitting means the commit function is running on the session.
	StateCommitting
)

// String returns the state name.
func (s BracketState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitting:
		return "committing"
	default:
		return "closed"
	}
}

// DefaultCloseGrace bounds how long Close waits for a remote step that
// outlived its deadline before ending the session anyway.
const DefaultCloseGrace = 30 * time.Second

// errBracketState is returned when an operation does not fit the current state.
var errBracketState = errors.New("transaction bracket is not in the required state")

// Bracket binds a primary call and its commit to one stateful session.
// It moves Closed -> Open -> Committing -> Closed and releases the session
// exactly once.
type Bracket struct {
	dest     Destination
	session  Session
	settings TransactionSettings
	invoker  invoker
	observer Observer
	logger   observability.Logger

	closeGrace time.Duration
	inflight   sync.WaitGroup

	mu     sync.Mutex
	state  BracketState
	closed bool
}

// openBracket begins a session on dest.
func openBracket(
	ctx context.Context,
	dest Destination,
	creds Credentials,
	settings TransactionSettings,
	iv invoker,
	observer Observer,
	logger observability.Logger,
) (*Bracket, error) {
	session, err := dest.BeginSession(ctx, creds)
	if err != nil {
		return nil, err
	}

	observer.SessionOpened(dest.Name())
	logger.Debug("transaction session opened",
		observability.String("destination", dest.Name()),
		observability.String("session", session.ID()),
	)

	return &Bracket{
		dest:     dest,
		session:  session,
		settings: settings,
		invoker:  iv,
		observer: observer,
		logger:     logger,
		state:      StateOpen,
		closeGrace: DefaultCloseGrace,
	}, nil
}

// State returns the current state.
func (b *Bracket) State() BracketState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs the primary function on the session.
func (b *Bracket) Execute(ctx context.Context, inv *Invocation) (*CallResult, error) {
	if err := b.require(StateOpen); err != nil {
		return nil, err
	}
	return b.run(ctx, inv)
}

// run executes inv on the session. The remote step is tracked until it
// returns, even when the invoker gave up on it.
func (b *Bracket) run(ctx context.Context, inv *Invocation) (*CallResult, error) {
	b.inflight.Add(1)
	return b.invoker.execute(ctx, b.dest.Name(), func(ctx context.Context, inv *Invocation) (*CallResult, error) {
		defer b.inflight.Done()
		return b.session.Execute(ctx, inv)
	}, inv)
}

// Commit runs the commit function on the same session. Any failure, including
// a RETURN message of type E or A, is reported as a partial commit of primary.
func (b *Bracket) Commit(ctx context.Context, primary string, creds Credentials) error {
	if err := b.transition(StateOpen, StateCommitting); err != nil {
		return err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rfc.Commit",
		trace.WithAttributes(
			attribute.String("rfc.destination", b.dest.Name()),
			attribute.String("rfc.function", b.settings.CommitFunction),
		),
	)
	defer span.End()

	err := b.runControl(ctx, b.settings.CommitFunction, creds, b.settings.Wait)
	b.observer.CommitCompleted(b.dest.Name(), err == nil)
	if err != nil {
		span.RecordError(err)
		return &Error{
			Kind:        KindPartialCommit,
			Function:    primary,
			Destination: b.dest.Name(),
			Detail:      b.settings.CommitFunction + " failed",
			Cause:       err,
		}
	}
	return nil
}

// Rollback runs the rollback function on the session. It is best effort;
// the returned error is only logged by callers.
func (b *Bracket) Rollback(ctx context.Context, creds Credentials) error {
	if err := b.require(StateOpen); err != nil {
		return err
	}
	return b.runControl(ctx, b.settings.RollbackFunction, creds, false)
}

// Close ends the session once no remote step is running on it, waiting at
// most the close grace period. Only the first call has an effect; later
// calls return nil. The session is ended even when ctx is already cancelled.
func (b *Bracket) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.state = StateClosed
	b.mu.Unlock()

	if !b.waitIdle() {
		b.logger.Warn("remote step still running on session, ending it anyway",
			observability.String("destination", b.dest.Name()),
			observability.String("session", b.session.ID()),
			observability.Duration("grace", b.closeGrace),
		)
	}

	err := b.session.End(context.WithoutCancel(ctx))
	b.observer.SessionClosed(b.dest.Name())
	if err != nil {
		b.logger.Warn("failed to end transaction session",
			observability.String("destination", b.dest.Name()),
			observability.String("session", b.session.ID()),
			observability.Error(err),
		)
		return err
	}

	b.logger.Debug("transaction session closed",
		observability.String("destination", b.dest.Name()),
		observability.String("session", b.session.ID()),
	)
	return nil
}

// waitIdle reports whether every remote step on the session returned within
// the close grace period.
func (b *Bracket) waitIdle() bool {
	idle := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(idle)
	}()

	timer := time.NewTimer(b.closeGrace)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Bracket) require(state BracketState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != state || b.closed {
		return fmt.Errorf("%w: want %s, have %s", errBracketState, state, b.state)
	}
	return nil
}

func (b *Bracket) transition(from, to BracketState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != from || b.closed {
		return fmt.Errorf("%w: want %s, have %s", errBracketState, from, b.state)
	}
	b.state = to
	return nil
}

// runControl resolves and executes a transaction control function on the session.
func (b *Bracket) runControl(ctx context.Context, function string, creds Credentials, wait bool) error {
	schema, err := Resolve(ctx, b.dest, function)
	if err != nil {
		return err
	}

	inv := &Invocation{Function: function, Imports: map[string]any{}, Credentials: creds}
	if p, ok := schema.Parameter("WAIT"); ok && wait && p.accepts(DirectionImport) {
		inv.Imports["WAIT"] = "X"
	}

	result, err := b.run(ctx, inv)
	if err != nil {
		return err
	}
	return returnMessageError(function, result)
}

// returnMessageError inspects the RETURN structure of a BAPI result.
func returnMessageError(function string, result *CallResult) error {
	ret, ok := result.Exports["RETURN"].(map[string]any)
	if !ok {
		return nil
	}
	typ, _ := ret["TYPE"].(string)
	if typ != "E" && typ != "A" {
		return nil
	}
	msg, _ := ret["MESSAGE"].(string)
	return &BusinessException{Key: function, Message: msg}
}
