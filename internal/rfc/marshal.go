package rfc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ParameterSet holds the converted values for one direction of one call.
type ParameterSet struct {
	direction Direction
	values    map[string]any
}

func newParameterSet(dir Direction) *ParameterSet {
	return &ParameterSet{direction: dir, values: make(map[string]any)}
}

// Direction returns the direction the set was built for.
func (p *ParameterSet) Direction() Direction {
	return p.direction
}

// Get returns the value assigned to name.
func (p *ParameterSet) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Len returns the number of assigned parameters.
func (p *ParameterSet) Len() int {
	return len(p.values)
}

// Names returns the assigned parameter names in lexical order.
func (p *ParameterSet) Names() []string {
	return sortedKeys(p.values)
}

func (p *ParameterSet) imports() map[string]any {
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p *ParameterSet) tables() map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(p.values))
	for k, v := range p.values {
		if rows, ok := v.([]map[string]any); ok {
			out[k] = rows
		}
	}
	return out
}

// ConversionError reports a value that does not fit its declared type.
type ConversionError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot assign %s: %s", e.Path, e.Reason)
}

// UnknownParametersError lists every name the schema does not declare for
// the direction it was supplied in.
type UnknownParametersError struct {
	Function  string
	Direction Direction
	Names     []string
}

// Error implements the error interface.
func (e *UnknownParametersError) Error() string {
	return fmt.Sprintf("function %s has no %s parameter(s) %s",
		e.Function, e.Direction, strings.Join(e.Names, ", "))
}

// Marshal converts the caller's values into typed parameter sets, following
// the request mode. Absent imports or tables yield empty sets.
func Marshal(schema *FunctionSchema, req *CallRequest) (imports, tables *ParameterSet, err error) {
	imports = newParameterSet(DirectionImport)
	tables = newParameterSet(DirectionTable)

	if req.Mode == ModeFlat {
		if err := marshalFlat(schema, req.Imports, imports); err != nil {
			return nil, nil, err
		}
		return imports, tables, nil
	}

	if err := checkNames(schema, DirectionImport, req.Imports); err != nil {
		return nil, nil, err
	}
	if err := checkNames(schema, DirectionTable, req.Tables); err != nil {
		return nil, nil, err
	}

	for _, name := range sortedKeys(req.Imports) {
		param, _ := schema.Parameter(name)
		v, err := convert(name, param.Type, req.Imports[name])
		if err != nil {
			return nil, nil, err
		}
		if v != nil {
			imports.values[name] = v
		}
	}

	for _, name := range sortedKeys(req.Tables) {
		if req.Tables[name] == nil {
			continue
		}
		param, _ := schema.Parameter(name)
		v, err := convertTable(name, param.Type, req.Tables[name])
		if err != nil {
			return nil, nil, err
		}
		tables.values[name] = v
	}

	return imports, tables, nil
}

// marshalFlat assigns every top-level key as a string import without
// structural validation beyond the parameter name.
func marshalFlat(schema *FunctionSchema, values map[string]any, set *ParameterSet) error {
	if err := checkNames(schema, DirectionImport, values); err != nil {
		return err
	}
	for name, v := range values {
		s, err := FlatString(v)
		if err != nil {
			return &ConversionError{Path: name, Reason: err.Error()}
		}
		set.values[name] = s
	}
	return nil
}

// FlatString coerces a decoded JSON value to its flat string form.
// Numbers keep the literal the caller wrote; true and false become
// "true" and "false"; null becomes the empty string; arrays and objects
// are written back as compact JSON.
func FlatString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		b, err := codec.Marshal(x)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func checkNames[V any](schema *FunctionSchema, dir Direction, values map[string]V) error {
	var unknown []string
	for _, name := range sortedKeys(values) {
		param, ok := schema.Parameter(name)
		if !ok || !param.accepts(dir) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return &UnknownParametersError{Function: schema.Name, Direction: dir, Names: unknown}
	}
	return nil
}

// convert visits one node of the schema tree. A JSON null yields nil and
// leaves the parameter to its remote default.
func convert(path string, t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case TypeScalar:
		return convertScalar(path, t, v)
	case TypeStructure:
		return convertStructure(path, t, v)
	case TypeTable:
		return convertTable(path, t, v)
	default:
		return nil, &ConversionError{Path: path, Reason: "unsupported type kind " + t.Kind.String()}
	}
}

func convertStructure(path string, t Type, v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ConversionError{Path: path, Reason: "expected object, got " + jsonTypeName(v)}
	}

	out := make(map[string]any, len(obj))
	for _, name := range sortedKeys(obj) {
		field, ok := t.Field(name)
		if !ok {
			return nil, &ConversionError{Path: path + "." + name, Reason: "no such field"}
		}
		fv, err := convert(path+"."+name, field.Type, obj[name])
		if err != nil {
			return nil, err
		}
		if fv != nil {
			out[name] = fv
		}
	}
	return out, nil
}

func convertTable(path string, t Type, v any) ([]map[string]any, error) {
	if v == nil {
		return []map[string]any{}, nil
	}
	if t.Kind != TypeTable {
		return nil, &ConversionError{Path: path, Reason: "parameter is not table-typed"}
	}
	rows, ok := v.([]any)
	if !ok {
		return nil, &ConversionError{Path: path, Reason: "expected array of rows, got " + jsonTypeName(v)}
	}

	rowType := Type{Kind: TypeStructure, Fields: t.Fields}
	out := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		r, err := convertStructure(fmt.Sprintf("%s[%d]", path, i), rowType, row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

var (
	digitsPattern  = regexp.MustCompile(`^[0-9]*$`)
	decimalPattern = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?$`)
)

func convertScalar(path string, t Type, v any) (any, error) {
	fail := func(reason string) (any, error) {
		return nil, &ConversionError{Path: path, Reason: reason}
	}

	switch v.(type) {
	case map[string]any, []any:
		return fail(fmt.Sprintf("expected %s scalar, got %s", t.Scalar, jsonTypeName(v)))
	}

	switch t.Scalar {
	case ScalarChar, ScalarString:
		s := charValue(v)
		if t.Scalar == ScalarChar && t.Length > 0 && utf8.RuneCountInString(s) > t.Length {
			return fail(fmt.Sprintf("value exceeds length %d", t.Length))
		}
		return s, nil

	case ScalarNum:
		s, ok := textValue(v)
		if !ok || !digitsPattern.MatchString(s) {
			return fail("NUM accepts digits only")
		}
		if t.Length > 0 {
			if len(s) > t.Length {
				return fail(fmt.Sprintf("value exceeds length %d", t.Length))
			}
			s = strings.Repeat("0", t.Length-len(s)) + s
		}
		return s, nil

	case ScalarInt:
		s, ok := textValue(v)
		if !ok {
			return fail("expected integer")
		}
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return fail("expected 32-bit integer")
		}
		return n, nil

	case ScalarFloat:
		s, ok := textValue(v)
		if !ok {
			return fail("expected number")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return fail("expected number")
		}
		return f, nil

	case ScalarDecimal:
		s, ok := textValue(v)
		if !ok || !decimalPattern.MatchString(s) {
			return fail("expected decimal number")
		}
		if _, frac, found := strings.Cut(s, "."); found && len(frac) > t.Decimals {
			return fail(fmt.Sprintf("more than %d decimals", t.Decimals))
		}
		return s, nil

	case ScalarDate:
		s, ok := v.(string)
		if !ok {
			return fail("expected date string")
		}
		return normalizeDate(s, fail)

	case ScalarTime:
		s, ok := v.(string)
		if !ok {
			return fail("expected time string")
		}
		return normalizeTime(s, fail)

	case ScalarByte:
		s, ok := v.(string)
		if !ok {
			return fail("expected hex string")
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return fail("expected hex string")
		}
		if t.Length > 0 && len(b) > t.Length {
			return fail(fmt.Sprintf("value exceeds length %d", t.Length))
		}
		return b, nil

	default:
		return fail("unsupported scalar type " + string(t.Scalar))
	}
}

// charValue renders any scalar as character data. Booleans follow the
// ABAP flag convention: "X" for true, blank for false.
func charValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		if x {
			return "X"
		}
		return ""
	default:
		s, _ := FlatString(x)
		return s
	}
}

// textValue returns the literal of a number or a numeric string.
func textValue(v any) (string, bool) {
	switch x := v.(type) {
	case json.Number:
		return x.String(), true
	case string:
		return strings.TrimSpace(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return "", false
	}
}

func normalizeDate(s string, fail func(string) (any, error)) (any, error) {
	compact := strings.ReplaceAll(s, "-", "")
	if compact == "" || compact == "00000000" {
		return "00000000", nil
	}
	if _, err := time.Parse("20060102", compact); err != nil {
		return fail("expected date as YYYYMMDD or YYYY-MM-DD")
	}
	return compact, nil
}

func normalizeTime(s string, fail func(string) (any, error)) (any, error) {
	compact := strings.ReplaceAll(s, ":", "")
	if compact == "" {
		return "000000", nil
	}
	if _, err := time.Parse("150405", compact); err != nil {
		return fail("expected time as HHMMSS or HH:MM:SS")
	}
	return compact, nil
}
