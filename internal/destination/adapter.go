package destination

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// Remote is a destination served by a connectivity adapter over a Transport.
type Remote struct {
	name      string
	transport Transport
}

// NewRemote creates a destination that speaks the adapter protocol.
func NewRemote(name string, transport Transport) *Remote {
	return &Remote{name: name, transport: transport}
}

// Name returns the destination name.
func (d *Remote) Name() string {
	return d.name
}

// FunctionSchema fetches the function's metadata from the adapter.
func (d *Remote) FunctionSchema(ctx context.Context, function string) (*rfc.FunctionSchema, error) {
	resp, err := d.roundTrip(ctx, &Request{Op: OpDescribe, Function: function})
	if err != nil {
		return nil, err
	}
	if resp.NotFound {
		return nil, nil
	}

	notFound, err := remoteError(function, resp.Body)
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, nil
	}

	var schema rfc.FunctionSchema
	if err := wire.Unmarshal(resp.Body, &schema); err != nil {
		return nil, &rfc.TransportException{Message: "malformed function metadata", Cause: err}
	}
	if schema.Name == "" {
		schema.Name = function
	}
	if err := schema.Validate(); err != nil {
		return nil, &rfc.TransportException{Message: "invalid function metadata", Cause: err}
	}
	return &schema, nil
}

// Execute runs a function statelessly.
func (d *Remote) Execute(ctx context.Context, inv *rfc.Invocation) (*rfc.CallResult, error) {
	return d.execute(ctx, inv, "")
}

// BeginSession opens a stateful session on the adapter.
func (d *Remote) BeginSession(ctx context.Context, creds rfc.Credentials) (rfc.Session, error) {
	resp, err := d.roundTrip(ctx, &Request{Op: OpOpenSession, Credentials: creds})
	if err != nil {
		return nil, err
	}
	if _, err := remoteError("", resp.Body); err != nil {
		return nil, err
	}

	id := gjson.GetBytes(resp.Body, "id").String()
	if id == "" {
		return nil, &rfc.TransportException{Message: "adapter did not return a session id"}
	}
	return &remoteSession{dest: d, id: id, creds: creds}, nil
}

// Close releases the transport.
func (d *Remote) Close() error {
	return d.transport.Close()
}

func (d *Remote) execute(ctx context.Context, inv *rfc.Invocation, session string) (*rfc.CallResult, error) {
	body, err := encodeExecute(inv, session)
	if err != nil {
		return nil, err
	}

	resp, err := d.roundTrip(ctx, &Request{
		Op:          OpExecute,
		Function:    inv.Function,
		Session:     session,
		Body:        body,
		Credentials: inv.Credentials,
	})
	if err != nil {
		return nil, err
	}
	if resp.NotFound {
		return nil, &rfc.TransportException{Message: "function " + inv.Function + " is not known to the adapter"}
	}
	return decodeExecute(inv.Function, resp.Body)
}

// roundTrip wraps exchange failures so the bridge reports them as
// transport errors.
func (d *Remote) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	resp, err := d.transport.RoundTrip(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &rfc.TransportException{
			Message: fmt.Sprintf("%s request to destination %s failed", req.Op, d.name),
			Cause:   err,
		}
	}
	return resp, nil
}

type remoteSession struct {
	dest  *Remote
	id    string
	creds rfc.Credentials
}

func (s *remoteSession) ID() string {
	return s.id
}

func (s *remoteSession) Execute(ctx context.Context, inv *rfc.Invocation) (*rfc.CallResult, error) {
	return s.dest.execute(ctx, inv, s.id)
}

func (s *remoteSession) End(ctx context.Context) error {
	resp, err := s.dest.roundTrip(ctx, &Request{Op: OpCloseSession, Session: s.id, Credentials: s.creds})
	if err != nil {
		return err
	}
	_, err = remoteError("", resp.Body)
	return err
}
