package destination

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// Headers carried on adapter request messages.
const (
	headerFunction      = "Rfc-Function"
	headerSession       = "Rfc-Session"
	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	headerStatus        = "Status"
)

// natsRequester is the part of *nats.Conn the transport uses.
type natsRequester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
	Close()
}

// NATSTransport speaks the adapter protocol as NATS request/reply on
// {prefix}.{operation} subjects. The operation payload is the message
// body; function, session and logon travel as headers.
type NATSTransport struct {
	conn    natsRequester
	prefix  string
	timeout time.Duration
}

// NewNATSTransport connects to the NATS server at serverURL. The connection
// is retried in the background, so an unreachable server surfaces as
// failing requests rather than a startup error.
func NewNATSTransport(name, serverURL, prefix string, timeout time.Duration) (*NATSTransport, error) {
	conn, err := nats.Connect(serverURL,
		nats.Name("avarfc-"+name),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, err
	}
	return newNATSTransport(conn, prefix, timeout), nil
}

func newNATSTransport(conn natsRequester, prefix string, timeout time.Duration) *NATSTransport {
	return &NATSTransport{conn: conn, prefix: prefix, timeout: timeout}
}

// RoundTrip sends one request and waits for the adapter's reply.
func (t *NATSTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	msg := nats.NewMsg(t.prefix + "." + string(req.Op))
	msg.Data = req.Body
	if req.Function != "" {
		msg.Header.Set(headerFunction, req.Function)
	}
	if req.Session != "" {
		msg.Header.Set(headerSession, req.Session)
	}
	if auth := authorization(req); auth != "" {
		msg.Header.Set(headerAuthorization, auth)
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	observability.InjectTraceContext(ctx, http.Header(msg.Header))

	reply, err := t.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, err
	}
	if reply.Header.Get(headerStatus) == "404" {
		return &Response{NotFound: true}, nil
	}
	return &Response{Body: reply.Data}, nil
}

// Close closes the NATS connection.
func (t *NATSTransport) Close() error {
	t.conn.Close()
	return nil
}

func authorization(req *Request) string {
	switch {
	case req.Credentials.Token != "":
		return "Bearer " + req.Credentials.Token
	case req.Credentials.User != "":
		raw := req.Credentials.User + ":" + req.Credentials.Password
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
	default:
		return ""
	}
}
