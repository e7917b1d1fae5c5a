package destination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// sandboxHandler implements one sandbox function. Work that must survive
// the call is staged in tx and only becomes visible after a commit.
type sandboxHandler func(s *Sandbox, tx *sandboxTx, inv *rfc.Invocation) (*rfc.CallResult, error)

type sandboxFunction struct {
	schema  *rfc.FunctionSchema
	handler sandboxHandler
}

// Sandbox is an in-process remote system with a function repository,
// stateful sessions and a commit buffer. It backs the demo mode and tests.
type Sandbox struct {
	name      string
	functions map[string]sandboxFunction

	mu           sync.Mutex
	sessions     map[string]*sandboxSession
	requisitions map[string]*requisition

	nextNumber atomic.Int64
	closed     atomic.Bool
}

// NewSandbox creates a sandbox system with the standard function set.
func NewSandbox(name string) *Sandbox {
	s := &Sandbox{
		name:         name,
		functions:    make(map[string]sandboxFunction),
		sessions:     make(map[string]*sandboxSession),
		requisitions: make(map[string]*requisition),
	}
	s.nextNumber.Store(10000000)
	registerStandardFunctions(s)
	return s
}

// Register adds or replaces a function.
func (s *Sandbox) Register(schema *rfc.FunctionSchema, handler sandboxHandler) {
	s.functions[schema.Name] = sandboxFunction{schema: schema, handler: handler}
}

// Name returns the destination name.
func (s *Sandbox) Name() string {
	return s.name
}

// FunctionSchema returns the registered schema of function, or nil.
func (s *Sandbox) FunctionSchema(_ context.Context, function string) (*rfc.FunctionSchema, error) {
	f, ok := s.functions[function]
	if !ok {
		return nil, nil
	}
	return f.schema, nil
}

// Execute runs a function in a throwaway context. Staged work is dropped
// because nothing can commit it.
func (s *Sandbox) Execute(ctx context.Context, inv *rfc.Invocation) (*rfc.CallResult, error) {
	return s.run(ctx, &sandboxTx{}, inv)
}

// BeginSession opens a session whose staged work persists across calls.
func (s *Sandbox) BeginSession(_ context.Context, _ rfc.Credentials) (rfc.Session, error) {
	if s.closed.Load() {
		return nil, &rfc.TransportException{Message: "destination " + s.name + " is closed"}
	}

	sess := &sandboxSession{sandbox: s, id: uuid.NewString(), tx: &sandboxTx{}}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	return sess, nil
}

// OpenSessions returns the number of sessions not yet ended.
func (s *Sandbox) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Requisitions returns the numbers of all committed purchase requisitions.
func (s *Sandbox) Requisitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	numbers := make([]string, 0, len(s.requisitions))
	for n := range s.requisitions {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	return numbers
}

// Close ends every open session and rejects further work.
func (s *Sandbox) Close() error {
	s.closed.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.sessions {
		delete(s.sessions, id)
	}
	return nil
}

func (s *Sandbox) run(ctx context.Context, tx *sandboxTx, inv *rfc.Invocation) (*rfc.CallResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, &rfc.TransportException{Message: "destination " + s.name + " is closed"}
	}

	f, ok := s.functions[inv.Function]
	if !ok {
		return nil, &rfc.TransportException{Message: "function " + inv.Function + " does not exist"}
	}

	result, err := f.handler(s, tx, inv)
	if err != nil {
		return nil, err
	}
	if result.Exports == nil {
		result.Exports = map[string]any{}
	}
	if result.Tables == nil {
		result.Tables = map[string][]map[string]any{}
	}
	return result, nil
}

func (s *Sandbox) reserveNumber() string {
	return fmt.Sprintf("%010d", s.nextNumber.Add(1))
}

func (s *Sandbox) commit(tx *sandboxTx) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(tx.pending)
	for _, pr := range tx.pending {
		s.requisitions[pr.Number] = pr
	}
	tx.pending = nil
	return n
}

func (s *Sandbox) requisition(number string) (*requisition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requisitions[number]
	return pr, ok
}

// sandboxTx is the staged, uncommitted work of one remote context.
type sandboxTx struct {
	pending []*requisition
}

type sandboxSession struct {
	sandbox *Sandbox
	id      string

	mu    sync.Mutex
	tx    *sandboxTx
	ended bool
}

func (ss *sandboxSession) ID() string {
	return ss.id
}

func (ss *sandboxSession) Execute(ctx context.Context, inv *rfc.Invocation) (*rfc.CallResult, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ended {
		return nil, &rfc.TransportException{Message: "session " + ss.id + " has ended"}
	}
	return ss.sandbox.run(ctx, ss.tx, inv)
}

// End discards uncommitted work, like a remote context closed without commit.
func (ss *sandboxSession) End(_ context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ended {
		return nil
	}
	ss.ended = true
	ss.tx.pending = nil

	ss.sandbox.mu.Lock()
	delete(ss.sandbox.sessions, ss.id)
	ss.sandbox.mu.Unlock()
	return nil
}
