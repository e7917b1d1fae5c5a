package destination

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// Operation names one request of the adapter protocol.
type Operation string

// Adapter protocol operations.
const (
	OpDescribe     Operation = "describe"
	OpExecute      Operation = "execute"
	OpOpenSession  Operation = "session.open"
	OpCloseSession Operation = "session.close"
)

// Error kinds reported by adapters in {"error":{"kind":...}}.
const (
	errorKindNotFound = "not_found"
	errorKindBusiness = "business"
)

// Request is one adapter protocol request.
type Request struct {
	Op          Operation
	Function    string
	Session     string
	Body        []byte
	Credentials rfc.Credentials
}

// Response is an adapter reply. NotFound is set when the transport itself
// signalled a missing function; adapters may also report it in the body.
type Response struct {
	Body     []byte
	NotFound bool
}

// Transport carries adapter requests to a remote connectivity adapter.
// It returns an error only when the exchange itself failed; application
// level errors travel in the response body.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
	Close() error
}

// wire encodes and decodes adapter payloads.
var wire = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

type executeRequest struct {
	Imports map[string]any              `json:"imports"`
	Tables  map[string][]map[string]any `json:"tables"`
	Session string                      `json:"session,omitempty"`
}

type executeResponse struct {
	Exports map[string]any              `json:"exports"`
	Tables  map[string][]map[string]any `json:"tables"`
}

// remoteError turns an {"error":{...}} reply into the exception the
// bridge classifies. It returns nil when the body carries no error.
func remoteError(function string, body []byte) (notFound bool, err error) {
	e := gjson.GetBytes(body, "error")
	if !e.Exists() {
		return false, nil
	}

	kind := e.Get("kind").String()
	key := e.Get("key").String()
	message := e.Get("message").String()
	if message == "" && e.Type == gjson.String {
		message = e.String()
	}

	switch kind {
	case errorKindNotFound:
		return true, nil
	case errorKindBusiness:
		if key == "" {
			key = function
		}
		return false, &rfc.BusinessException{Key: key, Message: message}
	default:
		if message == "" {
			message = "adapter reported " + kind + " error"
		}
		return false, &rfc.TransportException{Message: message}
	}
}

// wireValues renders binary values as upper-case hex so that they survive
// JSON unchanged.
func wireValues(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = wireValue(v)
	}
	return out
}

func wireRows(tables map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(tables))
	for name, rows := range tables {
		converted := make([]map[string]any, len(rows))
		for i, row := range rows {
			converted[i] = wireValues(row)
		}
		out[name] = converted
	}
	return out
}

func wireValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return strings.ToUpper(hex.EncodeToString(x))
	case map[string]any:
		return wireValues(x)
	case []map[string]any:
		rows := make([]map[string]any, len(x))
		for i, row := range x {
			rows[i] = wireValues(row)
		}
		return rows
	default:
		return v
	}
}

func encodeExecute(inv *rfc.Invocation, session string) ([]byte, error) {
	body, err := wire.Marshal(executeRequest{
		Imports: wireValues(inv.Imports),
		Tables:  wireRows(inv.Tables),
		Session: session,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", inv.Function, err)
	}
	return body, nil
}

func decodeExecute(function string, body []byte) (*rfc.CallResult, error) {
	notFound, err := remoteError(function, body)
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, &rfc.TransportException{Message: "function " + function + " is not known to the adapter"}
	}

	var resp executeResponse
	if err := wire.Unmarshal(body, &resp); err != nil {
		return nil, &rfc.TransportException{Message: "malformed adapter reply", Cause: err}
	}
	return &rfc.CallResult{Exports: resp.Exports, Tables: resp.Tables}, nil
}
