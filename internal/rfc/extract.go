package rfc

import (
	"encoding/hex"
	"strings"
)

// Extract builds the success envelope from every export and table the
// function declares, whatever the caller asked for. Exports the destination
// did not return carry their type's initial value. Tables it did not return
// echo the rows sent by the caller, or are empty.
func Extract(schema *FunctionSchema, tables *ParameterSet, result *CallResult) *ResultEnvelope {
	env := &ResultEnvelope{
		Exports: make(map[string]any),
		Tables:  make(map[string]any),
	}

	for _, p := range schema.Parameters {
		switch {
		case p.returned():
			v, ok := result.Exports[p.Name]
			if !ok || v == nil {
				env.Exports[p.Name] = initialValue(p.Type)
				continue
			}
			env.Exports[p.Name] = exportValue(v)

		case p.Direction == DirectionTable:
			if rows, ok := result.Tables[p.Name]; ok && rows != nil {
				env.Tables[p.Name] = exportRows(rows)
				continue
			}
			if tables != nil {
				if sent, ok := tables.Get(p.Name); ok {
					env.Tables[p.Name] = exportValue(sent)
					continue
				}
			}
			env.Tables[p.Name] = []map[string]any{}
		}
	}

	return env
}

// initialValue is the value an unset parameter of type t holds remotely.
func initialValue(t Type) any {
	switch t.Kind {
	case TypeStructure:
		out := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			out[f.Name] = initialValue(f.Type)
		}
		return out
	case TypeTable:
		return []map[string]any{}
	}

	switch t.Scalar {
	case ScalarNum:
		return strings.Repeat("0", t.Length)
	case ScalarInt:
		return 0
	case ScalarFloat:
		return 0.0
	case ScalarDecimal:
		if t.Decimals > 0 {
			return "0." + strings.Repeat("0", t.Decimals)
		}
		return "0"
	case ScalarDate:
		return "00000000"
	case ScalarTime:
		return "000000"
	default:
		return ""
	}
}

// exportValue renders values for the JSON envelope; raw bytes become
// upper-case hex, the form callers send them in.
func exportValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return strings.ToUpper(hex.EncodeToString(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, fv := range x {
			out[k] = exportValue(fv)
		}
		return out
	case []map[string]any:
		return exportRows(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = exportValue(e)
		}
		return out
	default:
		return v
	}
}

func exportRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		r := make(map[string]any, len(row))
		for k, v := range row {
			r[k] = exportValue(v)
		}
		out[i] = r
	}
	return out
}
