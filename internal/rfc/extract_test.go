package rfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_EveryDeclaredParameterIsPresent(t *testing.T) {
	schema := prGetDetailSchema()
	result := &CallResult{
		Exports: map[string]any{"PRHEADER": map[string]any{"PREQ_NO": "0010000123", "PR_TYPE": "NB"}},
		Tables:  map[string][]map[string]any{"PRITEM": {{"PREQ_ITEM": "00010", "MATERIAL": "M-01", "QUANTITY": "2.000"}}},
	}

	env := Extract(schema, nil, result)

	assert.Equal(t, map[string]any{
		"PRHEADER": map[string]any{"PREQ_NO": "0010000123", "PR_TYPE": "NB"},
	}, env.Exports)
	assert.Equal(t, map[string]any{
		"PRITEM": []map[string]any{{"PREQ_ITEM": "00010", "MATERIAL": "M-01", "QUANTITY": "2.000"}},
		"RETURN": []map[string]any{},
	}, env.Tables)
	_, hasImport := env.Exports["NUMBER"]
	assert.False(t, hasImport)
}

func TestExtract_MissingExportsGetInitialValues(t *testing.T) {
	schema := &FunctionSchema{
		Name: "Z_ALL_TYPES",
		Parameters: []Parameter{
			{Name: "C", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarChar, Length: 3}},
			{Name: "N", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarNum, Length: 4}},
			{Name: "I", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarInt}},
			{Name: "F", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarFloat}},
			{Name: "P", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarDecimal, Decimals: 2}},
			{Name: "D", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarDate}},
			{Name: "T", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarTime}},
			{Name: "S", Direction: DirectionExport, Type: Type{Kind: TypeStructure, Fields: []Field{
				{Name: "X", Type: Type{Kind: TypeScalar, Scalar: ScalarInt}},
			}}},
			{Name: "CH", Direction: DirectionChanging, Type: Type{Kind: TypeScalar, Scalar: ScalarString}},
		},
	}

	env := Extract(schema, nil, &CallResult{})

	assert.Equal(t, map[string]any{
		"C":  "",
		"N":  "0000",
		"I":  0,
		"F":  0.0,
		"P":  "0.00",
		"D":  "00000000",
		"T":  "000000",
		"S":  map[string]any{"X": 0},
		"CH": "",
	}, env.Exports)
	assert.Empty(t, env.Tables)
}

func TestExtract_TablesEchoSentRows(t *testing.T) {
	schema := prCreateSchema()
	sent := newParameterSet(DirectionTable)
	sent.values["PRITEM"] = []map[string]any{{"PREQ_ITEM": "00010"}}

	env := Extract(schema, sent, &CallResult{Exports: map[string]any{"NUMBER": "0010000999"}})

	assert.Equal(t, "0010000999", env.Exports["NUMBER"])
	assert.Equal(t, []map[string]any{{"PREQ_ITEM": "00010"}}, env.Tables["PRITEM"])
	assert.Equal(t, []map[string]any{}, env.Tables["RETURN"])
}

func TestExtract_ResultRowsWinOverSentRows(t *testing.T) {
	sent := newParameterSet(DirectionTable)
	sent.values["PRITEM"] = []map[string]any{{"PREQ_ITEM": "00010"}}
	result := &CallResult{Tables: map[string][]map[string]any{
		"PRITEM": {{"PREQ_ITEM": "00010", "MATERIAL": "M-01"}},
	}}

	env := Extract(prCreateSchema(), sent, result)

	assert.Equal(t, []map[string]any{{"PREQ_ITEM": "00010", "MATERIAL": "M-01"}}, env.Tables["PRITEM"])
}

func TestExtract_BytesBecomeHex(t *testing.T) {
	schema := &FunctionSchema{
		Name: "Z_RAW",
		Parameters: []Parameter{
			{Name: "GUID", Direction: DirectionExport, Type: Type{Kind: TypeScalar, Scalar: ScalarByte, Length: 2}},
			{Name: "ROWS", Direction: DirectionTable, Type: Type{Kind: TypeTable, Fields: []Field{
				{Name: "B", Type: Type{Kind: TypeScalar, Scalar: ScalarByte}},
			}}},
		},
	}
	result := &CallResult{
		Exports: map[string]any{"GUID": []byte{0x0a, 0xff}},
		Tables:  map[string][]map[string]any{"ROWS": {{"B": []byte{0x01}}}},
	}

	env := Extract(schema, nil, result)

	assert.Equal(t, "0AFF", env.Exports["GUID"])
	assert.Equal(t, []map[string]any{{"B": "01"}}, env.Tables["ROWS"])
}
