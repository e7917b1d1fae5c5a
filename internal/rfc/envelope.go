package rfc

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// codec is used for every envelope. Numbers are kept as json.Number so
// that the marshaller sees the literal the caller sent.
var codec = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	UseNumber:              true,
	ValidateJsonRawMessage: true,
}.Froze()

// Mode selects how caller values are assigned to parameters.
type Mode int

const (
	// ModeStructured walks the schema tree and converts values to their declared types.
	ModeStructured Mode = iota
	// ModeFlat assigns every top-level key as a string import.
	ModeFlat
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeFlat {
		return "flat"
	}
	return "structured"
}

// CallRequest is one decoded invocation request.
// Imports and Tables are nil when the caller did not send them.
type CallRequest struct {
	Destination   string
	FunctionName  string
	Imports       map[string]any
	Tables        map[string]any
	Transactional bool
	Mode          Mode
	Credentials   CredentialProvider
}

// ResultEnvelope is the success response.
type ResultEnvelope struct {
	Exports map[string]any `json:"exports"`
	Tables  map[string]any `json:"tables"`
}

// ErrorEnvelope is the failure response.
type ErrorEnvelope struct {
	Exception    string `json:"exception"`
	ErrorMessage string `json:"errormessage"`
}

// DecodeBody decodes a payload-carrying request body of the form
// {"imports": {...}, "tables": {...}}. Both keys are optional.
// The request is transactional and uses structured mode.
func DecodeBody(raw []byte) (*CallRequest, error) {
	top, err := decodeObject(raw)
	if err != nil {
		return nil, &Error{Kind: KindMalformedBody, Cause: err}
	}

	imports, err := optionalObject(top, "imports")
	if err != nil {
		return nil, &Error{Kind: KindMalformedBody, Cause: err}
	}

	tables, err := optionalObject(top, "tables")
	if err != nil {
		return nil, &Error{Kind: KindMalformedBody, Cause: err}
	}

	return &CallRequest{
		Imports:       imports,
		Tables:        tables,
		Transactional: true,
		Mode:          ModeStructured,
	}, nil
}

// DecodeQuery decodes the flat JSON object carried in a query parameter.
// An empty parameter is the same as {}.
func DecodeQuery(raw string) (*CallRequest, error) {
	if raw == "" {
		raw = "{}"
	}

	imports, err := decodeObject([]byte(raw))
	if err != nil {
		return nil, &Error{Kind: KindMalformedQuery, Cause: err}
	}

	return &CallRequest{
		Imports: imports,
		Mode:    ModeFlat,
	}, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	var doc any
	if err := codec.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", jsonTypeName(doc))
	}
	return obj, nil
}

// optionalObject returns the object under key. A missing key or null is
// reported as nil without error.
func optionalObject(top map[string]any, key string) (map[string]any, error) {
	v, ok := top[key]
	if !ok || v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q must be a JSON object, got %s", key, jsonTypeName(v))
	}
	return obj, nil
}

// EncodeResult serializes a success envelope. Nil maps are written as {}.
func EncodeResult(r *ResultEnvelope) ([]byte, error) {
	out := ResultEnvelope{Exports: r.Exports, Tables: r.Tables}
	if out.Exports == nil {
		out.Exports = map[string]any{}
	}
	if out.Tables == nil {
		out.Tables = map[string]any{}
	}
	return codec.Marshal(out)
}

// EncodeError serializes a failure envelope.
func EncodeError(e ErrorEnvelope) ([]byte, error) {
	return codec.Marshal(e)
}

// EncodeSchema serializes a function schema for metadata requests.
func EncodeSchema(s *FunctionSchema) ([]byte, error) {
	return codec.Marshal(s)
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
