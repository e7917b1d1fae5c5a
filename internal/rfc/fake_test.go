package rfc

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type handlerFunc func(ctx context.Context, inv *Invocation) (*CallResult, error)

// fakeDestination is an in-memory destination that records what it is asked to do.
type fakeDestination struct {
	name      string
	schemas   map[string]*FunctionSchema
	handlers  map[string]handlerFunc
	schemaErr error
	beginErr  error
	endErr    error

	mu         sync.Mutex
	calls      []string
	open       int
	begun      int
	ended      int
	lastCreds  Credentials
	nextSessID int
}

func newFakeDestination(name string) *fakeDestination {
	d := &fakeDestination{
		name:     name,
		schemas:  make(map[string]*FunctionSchema),
		handlers: make(map[string]handlerFunc),
	}
	d.add(commitSchema(), func(_ context.Context, _ *Invocation) (*CallResult, error) {
		return &CallResult{Exports: map[string]any{"RETURN": map[string]any{"TYPE": "", "MESSAGE": ""}}}, nil
	})
	d.add(&FunctionSchema{Name: DefaultRollbackFunction}, func(_ context.Context, _ *Invocation) (*CallResult, error) {
		return &CallResult{}, nil
	})
	return d
}

func (d *fakeDestination) add(schema *FunctionSchema, h handlerFunc) {
	d.schemas[schema.Name] = schema
	d.handlers[schema.Name] = h
}

func (d *fakeDestination) Name() string { return d.name }

func (d *fakeDestination) FunctionSchema(_ context.Context, function string) (*FunctionSchema, error) {
	if d.schemaErr != nil {
		return nil, d.schemaErr
	}
	return d.schemas[function], nil
}

func (d *fakeDestination) Execute(ctx context.Context, inv *Invocation) (*CallResult, error) {
	return d.run(ctx, "", inv)
}

func (d *fakeDestination) run(ctx context.Context, session string, inv *Invocation) (*CallResult, error) {
	d.mu.Lock()
	label := inv.Function
	if session != "" {
		label = session + ":" + inv.Function
	}
	d.calls = append(d.calls, label)
	d.lastCreds = inv.Credentials
	h := d.handlers[inv.Function]
	d.mu.Unlock()

	if h == nil {
		return nil, fmt.Errorf("no handler for %s", inv.Function)
	}
	return h(ctx, inv)
}

func (d *fakeDestination) BeginSession(_ context.Context, _ Credentials) (Session, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSessID++
	d.begun++
	d.open++
	return &fakeSession{dest: d, id: fmt.Sprintf("s%d", d.nextSessID)}, nil
}

func (d *fakeDestination) snapshot() (calls []string, open, begun, ended int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...), d.open, d.begun, d.ended
}

type fakeSession struct {
	dest *fakeDestination
	id   string
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Execute(ctx context.Context, inv *Invocation) (*CallResult, error) {
	return s.dest.run(ctx, s.id, inv)
}

func (s *fakeSession) End(_ context.Context) error {
	s.dest.mu.Lock()
	defer s.dest.mu.Unlock()
	s.dest.open--
	s.dest.ended++
	return s.dest.endErr
}

// fakeProvider serves a fixed set of destinations.
type fakeProvider map[string]Destination

func (p fakeProvider) Destination(_ context.Context, name string) (Destination, error) {
	d, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDestination, name)
	}
	return d, nil
}

// recordingObserver counts lifecycle events.
type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	opened   int
	closed   int
	commits  []bool
}

func (o *recordingObserver) CallCompleted(_, _, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) SessionOpened(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *recordingObserver) SessionClosed(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
}

func (o *recordingObserver) CommitCompleted(_ string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits = append(o.commits, ok)
}

func commitSchema() *FunctionSchema {
	return &FunctionSchema{
		Name: DefaultCommitFunction,
		Parameters: []Parameter{
			{Name: "WAIT", Direction: DirectionImport, Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 1}, Optional: true},
			{Name: "RETURN", Direction: DirectionExport, Type: returnType()},
		},
	}
}

func returnType() Type {
	return Type{Kind: TypeStructure, Fields: []Field{
		{Name: "TYPE", Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 1}},
		{Name: "MESSAGE", Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 220}},
	}}
}

// prGetDetailSchema mirrors a purchase requisition read function.
func prGetDetailSchema() *FunctionSchema {
	return &FunctionSchema{
		Name: "BAPI_PR_GETDETAIL",
		Parameters: []Parameter{
			{Name: "NUMBER", Direction: DirectionImport, Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 10}},
			{Name: "ITEM_TEXT", Direction: DirectionImport, Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 1}, Optional: true},
			{Name: "PRHEADER", Direction: DirectionExport, Type: Type{Kind: TypeStructure, Fields: []Field{
				{Name: "PREQ_NO", Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 10}},
				{Name: "PR_TYPE", Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 4}},
			}}},
			{Name: "PRITEM", Direction: DirectionTable, Type: Type{Kind: TypeTable, Fields: []Field{
				{Name: "PREQ_ITEM", Type: Type{Kind: TypeScalar, Scalar: ScalarNum, Length: 5}},
				{Name: "MATERIAL", Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 40}},
				{Name: "QUANTITY", Type: Type{Kind: TypeScalar, Scalar: ScalarDecimal, Length: 13, Decimals: 3}},
			}}},
			{Name: "RETURN", Direction: DirectionTable, Type: Type{Kind: TypeTable, Fields: returnType().Fields}},
		},
	}
}

// prCreateSchema mirrors a purchase requisition create function.
func prCreateSchema() *FunctionSchema {
	return &FunctionSchema{
		Name: "BAPI_PR_CREATE",
		Parameters: []Parameter{
			{Name: "PRHEADER", Direction: DirectionImport, Type: Type{Kind: TypeStructure, Fields: []Field{
				{Name: "PR_TYPE", Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 4}},
			}}},
			{Name: "TESTRUN", Direction: DirectionImport, Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 1}, Optional: true},
			{Name: "NUMBER", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 10}},
			{Name: "PRITEM", Direction: DirectionTable, Type: Type{Kind: TypeTable, Fields: []Field{
				{Name: "PREQ_ITEM", Type: Type{Kind: TypeScalar, Scalar: ScalarNum, Length: 5}},
				{Name: "MATERIAL", Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 40}},
				{Name: "QUANTITY", Type: Type{Kind: TypeScalar, Scalar: ScalarDecimal, Length: 13, Decimals: 3}},
				{Name: "DELIV_DATE", Type: Type{Kind: TypeScalar, Scalar: ScalarDate}},
			}}},
			{Name: "RETURN", Direction: DirectionTable, Type: Type{Kind: TypeTable, Fields: returnType().Fields}},
		},
	}
}
