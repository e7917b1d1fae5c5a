package rfc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

func newTestBridge(dest *fakeDestination, opts ...Option) (*Bridge, *recordingObserver) {
	obs := &recordingObserver{}
	opts = append([]Option{WithDefaultDestination(dest.Name()), WithObserver(obs)}, opts...)
	return NewBridge(fakeProvider{dest.Name(): dest}, opts...), obs
}

func createHandler(_ context.Context, inv *Invocation) (*CallResult, error) {
	return &CallResult{
		Exports: map[string]any{"NUMBER": "0010000999"},
		Tables:  map[string][]map[string]any{"PRITEM": inv.Tables["PRITEM"]},
	}, nil
}

func TestBridge_StatelessCall(t *testing.T) {
	dest := newFakeDestination("DEV")
	var got *Invocation
	dest.add(prGetDetailSchema(), func(_ context.Context, inv *Invocation) (*CallResult, error) {
		got = inv
		return &CallResult{Exports: map[string]any{"PRHEADER": map[string]any{"PREQ_NO": "0010000123"}}}, nil
	})
	bridge, obs := newTestBridge(dest)

	req, err := DecodeQuery(`{"NUMBER":"0010000123"}`)
	require.NoError(t, err)
	req.FunctionName = "BAPI_PR_GETDETAIL"

	env, err := bridge.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"NUMBER": "0010000123"}, got.Imports)
	assert.Equal(t, map[string]any{"PREQ_NO": "0010000123"}, env.Exports["PRHEADER"])
	assert.Equal(t, []map[string]any{}, env.Tables["PRITEM"])
	assert.Equal(t, []map[string]any{}, env.Tables["RETURN"])

	calls, open, begun, _ := dest.snapshot()
	assert.Equal(t, []string{"BAPI_PR_GETDETAIL"}, calls)
	assert.Equal(t, 0, open)
	assert.Equal(t, 0, begun)
	assert.Equal(t, []string{OutcomeSuccess}, obs.outcomes)
}

func TestBridge_TransactionalCallCommitsOnSameSession(t *testing.T) {
	dest := newFakeDestination("DEV")
	dest.add(prCreateSchema(), createHandler)
	bridge, obs := newTestBridge(dest, WithTransactionSettings(TransactionSettings{Wait: true}))

	req, err := DecodeBody([]byte(`{"imports":{"PRHEADER":{"PR_TYPE":"NB"}},"tables":{"PRITEM":[{"PREQ_ITEM":"10","MATERIAL":"M-01"}]}}`))
	require.NoError(t, err)
	req.FunctionName = "BAPI_PR_CREATE"

	env, err := bridge.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "0010000999", env.Exports["NUMBER"])
	assert.Equal(t, []map[string]any{{"PREQ_ITEM": "00010", "MATERIAL": "M-01"}}, env.Tables["PRITEM"])

	calls, open, begun, ended := dest.snapshot()
	assert.Equal(t, []string{"s1:BAPI_PR_CREATE", "s1:BAPI_TRANSACTION_COMMIT"}, calls)
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, begun)
	assert.Equal(t, 1, ended)
	assert.Equal(t, []bool{true}, obs.commits)
}

func TestBridge_SessionsReleasedOnEveryPath(t *testing.T) {
	tests := []struct {
		name    string
		primary handlerFunc
		commit  handlerFunc
		kind    ErrorKind
		calls   []string
	}{
		{
			name:    "business exception in primary",
			primary: func(context.Context, *Invocation) (*CallResult, error) { return nil, &BusinessException{Key: "NO_AUTH"} },
			kind:    KindBusiness,
			calls:   []string{"s1:BAPI_PR_CREATE"},
		},
		{
			name:    "transport failure in primary",
			primary: func(context.Context, *Invocation) (*CallResult, error) { return nil, &TransportException{Message: "lost"} },
			kind:    KindTransport,
			calls:   []string{"s1:BAPI_PR_CREATE"},
		},
		{
			name:    "unexpected failure in primary",
			primary: func(context.Context, *Invocation) (*CallResult, error) { return nil, errors.New("unexpected") },
			kind:    KindInternal,
			calls:   []string{"s1:BAPI_PR_CREATE"},
		},
		{
			name: "panic in primary",
			primary: func(context.Context, *Invocation) (*CallResult, error) {
				var exports map[string]any
				exports["NUMBER"] = "0010000999"
				return &CallResult{Exports: exports}, nil
			},
			kind:  KindInternal,
			calls: []string{"s1:BAPI_PR_CREATE"},
		},
		{
			name:    "commit failure",
			primary: createHandler,
			commit:  func(context.Context, *Invocation) (*CallResult, error) { return nil, &TransportException{Message: "lost"} },
			kind:    KindPartialCommit,
			calls:   []string{"s1:BAPI_PR_CREATE", "s1:BAPI_TRANSACTION_COMMIT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := newFakeDestination("DEV")
			dest.add(prCreateSchema(), tt.primary)
			if tt.commit != nil {
				dest.handlers[DefaultCommitFunction] = tt.commit
			}
			bridge, obs := newTestBridge(dest)

			_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_CREATE", Transactional: true})

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.kind, e.Kind)

			calls, open, begun, ended := dest.snapshot()
			assert.Equal(t, tt.calls, calls)
			assert.Equal(t, 0, open)
			assert.Equal(t, begun, ended)
			assert.Equal(t, obs.opened, obs.closed)
			assert.Equal(t, []string{tt.kind.String()}, obs.outcomes)
		})
	}
}

func TestBridge_RollbackOnError(t *testing.T) {
	dest := newFakeDestination("DEV")
	dest.add(prCreateSchema(), func(context.Context, *Invocation) (*CallResult, error) {
		return nil, &BusinessException{Key: "INVALID_MATERIAL"}
	})
	bridge, _ := newTestBridge(dest, WithTransactionSettings(TransactionSettings{RollbackOnError: true}))

	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_CREATE", Transactional: true})
	require.Error(t, err)

	calls, open, _, _ := dest.snapshot()
	assert.Equal(t, []string{"s1:BAPI_PR_CREATE", "s1:BAPI_TRANSACTION_ROLLBACK"}, calls)
	assert.Equal(t, 0, open)
}

func TestBridge_UnknownFunctionOpensNoSession(t *testing.T) {
	dest := newFakeDestination("DEV")
	bridge, _ := newTestBridge(dest)

	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "Z_DOES_NOT_EXIST", Transactional: true})

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindFunctionNotFound, e.Kind)
	assert.Equal(t, "Function Z_DOES_NOT_EXIST not found in destination system.", e.Exception())

	calls, _, begun, _ := dest.snapshot()
	assert.Empty(t, calls)
	assert.Equal(t, 0, begun)
}

func TestBridge_ValidationFailuresMakeNoRemoteCall(t *testing.T) {
	tests := []struct {
		name string
		req  *CallRequest
		kind ErrorKind
	}{
		{
			name: "missing function",
			req:  &CallRequest{Transactional: true},
			kind: KindMissingFunction,
		},
		{
			name: "unknown import",
			req:  &CallRequest{FunctionName: "BAPI_PR_CREATE", Transactional: true, Imports: map[string]any{"BOGUS": "1"}},
			kind: KindTransport,
		},
		{
			name: "bad table cell",
			req: &CallRequest{FunctionName: "BAPI_PR_CREATE", Transactional: true,
				Tables: map[string]any{"PRITEM": []any{map[string]any{"PREQ_ITEM": "abc"}}}},
			kind: KindTransport,
		},
		{
			name: "unknown destination",
			req:  &CallRequest{FunctionName: "BAPI_PR_CREATE", Destination: "PRD"},
			kind: KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := newFakeDestination("DEV")
			dest.add(prCreateSchema(), createHandler)
			bridge, _ := newTestBridge(dest)

			_, err := bridge.Call(context.Background(), tt.req)

			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.kind, e.Kind)

			calls, _, begun, _ := dest.snapshot()
			assert.Empty(t, calls)
			assert.Equal(t, 0, begun)
		})
	}
}

func TestBridge_MissingFunctionMessage(t *testing.T) {
	bridge, _ := newTestBridge(newFakeDestination("DEV"))

	_, err := bridge.Call(context.Background(), &CallRequest{})
	status, env := MapError(err, StatusLegacy)

	assert.Equal(t, 400, status)
	assert.Equal(t, "Function module name is missing.", env.Exception)
	assert.Equal(t, "Parameter fm is required.", env.ErrorMessage)
}

func TestBridge_TimeoutIsTransportFailure(t *testing.T) {
	dest := newFakeDestination("DEV")
	release := make(chan struct{})
	defer close(release)
	dest.add(prCreateSchema(), func(ctx context.Context, _ *Invocation) (*CallResult, error) {
		select {
		case <-release:
			return &CallResult{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	bridge, _ := newTestBridge(dest, WithCallTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_CREATE", Transactional: true})

	assert.Less(t, time.Since(start), 2*time.Second)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindTransport, e.Kind)
	assert.True(t, e.Timeout())

	_, open, _, _ := dest.snapshot()
	assert.Equal(t, 0, open)
}

func TestBridge_PanicIsInternalFailure(t *testing.T) {
	dest := newFakeDestination("DEV")
	dest.add(prGetDetailSchema(), func(context.Context, *Invocation) (*CallResult, error) {
		var exports map[string]any
		exports["PRHEADER"] = map[string]any{}
		return &CallResult{Exports: exports}, nil
	})
	bridge, obs := newTestBridge(dest)

	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_GETDETAIL"})

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindInternal, e.Kind)
	assert.Contains(t, e.Cause.Error(), "remote call panicked")
	assert.Equal(t, []string{KindInternal.String()}, obs.outcomes)
}

func TestBridge_TimedOutCallEndsSessionAfterPrimaryReturns(t *testing.T) {
	dest := newFakeDestination("DEV")
	var primaryDone atomic.Bool
	var openWhenDone atomic.Int32
	dest.add(prCreateSchema(), func(context.Context, *Invocation) (*CallResult, error) {
		time.Sleep(300 * time.Millisecond)
		_, open, _, _ := dest.snapshot()
		openWhenDone.Store(int32(open))
		primaryDone.Store(true)
		return &CallResult{}, nil
	})
	bridge, obs := newTestBridge(dest, WithCallTimeout(50*time.Millisecond))

	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_CREATE", Transactional: true})

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.True(t, e.Timeout())

	assert.True(t, primaryDone.Load(), "session ended while the primary call was running")
	assert.Equal(t, int32(1), openWhenDone.Load())

	calls, open, begun, ended := dest.snapshot()
	assert.Equal(t, []string{"s1:BAPI_PR_CREATE"}, calls)
	assert.Equal(t, 0, open)
	assert.Equal(t, 1, begun)
	assert.Equal(t, 1, ended)
	assert.Equal(t, 1, obs.closed)
}

func TestBridge_CredentialsReachDestination(t *testing.T) {
	dest := newFakeDestination("DEV")
	dest.add(prGetDetailSchema(), func(context.Context, *Invocation) (*CallResult, error) { return &CallResult{}, nil })
	bridge, _ := newTestBridge(dest)

	creds := CredentialFunc(func(context.Context) (Credentials, error) {
		return Credentials{User: "ALICE", Password: "secret"}, nil
	})
	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_GETDETAIL", Credentials: creds})
	require.NoError(t, err)

	dest.mu.Lock()
	defer dest.mu.Unlock()
	assert.Equal(t, Credentials{User: "ALICE", Password: "secret"}, dest.lastCreds)
}

func TestBridge_CredentialFailure(t *testing.T) {
	dest := newFakeDestination("DEV")
	dest.add(prGetDetailSchema(), func(context.Context, *Invocation) (*CallResult, error) { return &CallResult{}, nil })
	bridge, _ := newTestBridge(dest)

	creds := CredentialFunc(func(context.Context) (Credentials, error) {
		return Credentials{}, errors.New("vault sealed")
	})
	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_GETDETAIL", Credentials: creds})

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindTransport, e.Kind)
	calls, _, _, _ := dest.snapshot()
	assert.Empty(t, calls)
}

func TestBridge_ConcurrentTransactionalCalls(t *testing.T) {
	dest := newFakeDestination("DEV")
	dest.add(prCreateSchema(), createHandler)
	bridge, obs := newTestBridge(dest)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "BAPI_PR_CREATE", Transactional: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, open, begun, ended := dest.snapshot()
	assert.Equal(t, 0, open)
	assert.Equal(t, 20, begun)
	assert.Equal(t, 20, ended)
	assert.Equal(t, 20, obs.opened)
	assert.Equal(t, 20, obs.closed)
}

func TestBridge_Describe(t *testing.T) {
	dest := newFakeDestination("DEV")
	dest.add(prCreateSchema(), createHandler)
	bridge, _ := newTestBridge(dest)

	schema, err := bridge.Describe(context.Background(), "", "BAPI_PR_CREATE")
	require.NoError(t, err)
	assert.Equal(t, "BAPI_PR_CREATE", schema.Name)

	_, err = bridge.Describe(context.Background(), "DEV", "")
	assert.ErrorIs(t, err, &Error{Kind: KindMissingFunction})

	_, err = bridge.Describe(context.Background(), "DEV", "NOPE")
	assert.ErrorIs(t, err, &Error{Kind: KindFunctionNotFound})
}

func TestBridge_LogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	dest := newFakeDestination("DEV")
	bridge, _ := newTestBridge(dest, WithLogger(observability.NewZapLogger(zap.New(core))))

	_, err := bridge.Call(context.Background(), &CallRequest{FunctionName: "NOPE"})
	require.Error(t, err)

	entries := logs.FilterMessage("remote function call failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "DEV", fields["destination"])
	assert.Equal(t, "NOPE", fields["function"])
	assert.Equal(t, "function_not_found", fields["outcome"])
}
