package destination

import (
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// requisition is a committed purchase requisition held by the sandbox.
type requisition struct {
	Number string
	Type   string
	Items  []map[string]any
}

func char(length int) rfc.Type {
	return rfc.Type{Kind: rfc.TypeScalar, Scalar: rfc.ScalarChar, Length: length}
}

func scalar(s rfc.ScalarType, length, decimals int) rfc.Type {
	return rfc.Type{Kind: rfc.TypeScalar, Scalar: s, Length: length, Decimals: decimals}
}

var returnFields = []rfc.Field{
	{Name: "TYPE", Type: char(1)},
	{Name: "ID", Type: char(20)},
	{Name: "NUMBER", Type: scalar(rfc.ScalarNum, 3, 0)},
	{Name: "MESSAGE", Type: char(220)},
}

var requisitionItemFields = []rfc.Field{
	{Name: "PREQ_ITEM", Type: scalar(rfc.ScalarNum, 5, 0)},
	{Name: "MATERIAL", Type: char(40)},
	{Name: "QUANTITY", Type: scalar(rfc.ScalarDecimal, 13, 3)},
	{Name: "DELIV_DATE", Type: scalar(rfc.ScalarDate, 8, 0)},
}

func returnMessage(typ, number, message string) map[string]any {
	return map[string]any{"TYPE": typ, "ID": "AVARFC", "NUMBER": number, "MESSAGE": message}
}

func importString(inv *rfc.Invocation, name string) string {
	s, _ := inv.Imports[name].(string)
	return s
}

func registerStandardFunctions(s *Sandbox) {
	s.Register(&rfc.FunctionSchema{
		Name:        "RFC_PING",
		Description: "Connectivity check",
	}, func(_ *Sandbox, _ *sandboxTx, _ *rfc.Invocation) (*rfc.CallResult, error) {
		return &rfc.CallResult{}, nil
	})

	s.Register(&rfc.FunctionSchema{
		Name:        "STFC_CONNECTION",
		Description: "Echo the request text",
		Parameters: []rfc.Parameter{
			{Name: "REQUTEXT", Direction: rfc.DirectionImport, Type: char(255)},
			{Name: "ECHOTEXT", Direction: rfc.DirectionExport, Type: char(255)},
			{Name: "RESPTEXT", Direction: rfc.DirectionExport, Type: char(255)},
		},
	}, stfcConnection)

	s.Register(&rfc.FunctionSchema{
		Name:        "RFC_RAISE_ERROR",
		Description: "Raise an exception or fail the connection",
		Parameters: []rfc.Parameter{
			{Name: "MESSAGETYPE", Direction: rfc.DirectionImport, Type: char(1), Optional: true},
		},
	}, raiseError)

	s.Register(&rfc.FunctionSchema{
		Name:        rfc.DefaultCommitFunction,
		Description: "Commit the current unit of work",
		Parameters: []rfc.Parameter{
			{Name: "WAIT", Direction: rfc.DirectionImport, Type: char(1), Optional: true},
			{Name: "RETURN", Direction: rfc.DirectionExport, Type: rfc.Type{Kind: rfc.TypeStructure, Fields: returnFields}},
		},
	}, commitWork)

	s.Register(&rfc.FunctionSchema{
		Name:        rfc.DefaultRollbackFunction,
		Description: "Discard the current unit of work",
		Parameters: []rfc.Parameter{
			{Name: "RETURN", Direction: rfc.DirectionExport, Type: rfc.Type{Kind: rfc.TypeStructure, Fields: returnFields}},
		},
	}, rollbackWork)

	s.Register(&rfc.FunctionSchema{
		Name:        "BAPI_PR_GETDETAIL",
		Description: "Read a purchase requisition",
		Parameters: []rfc.Parameter{
			{Name: "PR_NUMBER", Direction: rfc.DirectionImport, Type: char(10)},
			{Name: "ITEM_TEXT", Direction: rfc.DirectionImport, Type: char(1), Optional: true},
			{Name: "PRHEADER", Direction: rfc.DirectionExport, Type: rfc.Type{Kind: rfc.TypeStructure, Fields: []rfc.Field{
				{Name: "PREQ_NO", Type: char(10)},
				{Name: "PR_TYPE", Type: char(4)},
			}}},
			{Name: "PRITEM", Direction: rfc.DirectionTable, Type: rfc.Type{Kind: rfc.TypeTable, Fields: requisitionItemFields}},
			{Name: "RETURN", Direction: rfc.DirectionTable, Type: rfc.Type{Kind: rfc.TypeTable, Fields: returnFields}},
		},
	}, getRequisition)

	s.Register(&rfc.FunctionSchema{
		Name:        "BAPI_PR_CREATE",
		Description: "Create a purchase requisition",
		Parameters: []rfc.Parameter{
			{Name: "PRHEADER", Direction: rfc.DirectionImport, Type: rfc.Type{Kind: rfc.TypeStructure, Fields: []rfc.Field{
				{Name: "PR_TYPE", Type: char(4)},
			}}},
			{Name: "TESTRUN", Direction: rfc.DirectionImport, Type: char(1), Optional: true},
			{Name: "NUMBER", Direction: rfc.DirectionExport, Type: char(10)},
			{Name: "PRITEM", Direction: rfc.DirectionTable, Type: rfc.Type{Kind: rfc.TypeTable, Fields: requisitionItemFields}},
			{Name: "RETURN", Direction: rfc.DirectionTable, Type: rfc.Type{Kind: rfc.TypeTable, Fields: returnFields}},
		},
	}, createRequisition)
}

func stfcConnection(_ *Sandbox, _ *sandboxTx, inv *rfc.Invocation) (*rfc.CallResult, error) {
	text := importString(inv, "REQUTEXT")
	return &rfc.CallResult{Exports: map[string]any{
		"ECHOTEXT": text,
		"RESPTEXT": fmt.Sprintf("avarfc sandbox, %s", time.Now().UTC().Format("20060102 150405")),
	}}, nil
}

func raiseError(_ *Sandbox, _ *sandboxTx, inv *rfc.Invocation) (*rfc.CallResult, error) {
	if importString(inv, "MESSAGETYPE") == "X" {
		return nil, &rfc.TransportException{Message: "connection aborted by RFC_RAISE_ERROR"}
	}
	return nil, &rfc.BusinessException{Key: "RAISE_EXCEPTION", Message: "Exception raised by RFC_RAISE_ERROR"}
}

func commitWork(s *Sandbox, tx *sandboxTx, _ *rfc.Invocation) (*rfc.CallResult, error) {
	n := s.commit(tx)
	return &rfc.CallResult{Exports: map[string]any{
		"RETURN": returnMessage("S", "000", fmt.Sprintf("%d document(s) committed", n)),
	}}, nil
}

func rollbackWork(_ *Sandbox, tx *sandboxTx, _ *rfc.Invocation) (*rfc.CallResult, error) {
	n := len(tx.pending)
	tx.pending = nil
	return &rfc.CallResult{Exports: map[string]any{
		"RETURN": returnMessage("S", "000", fmt.Sprintf("%d document(s) discarded", n)),
	}}, nil
}

func getRequisition(s *Sandbox, _ *sandboxTx, inv *rfc.Invocation) (*rfc.CallResult, error) {
	number := importString(inv, "PR_NUMBER")
	if len(number) < 10 {
		number = strings.Repeat("0", 10-len(number)) + number
	}

	pr, ok := s.requisition(number)
	if !ok {
		return &rfc.CallResult{Tables: map[string][]map[string]any{
			"RETURN": {returnMessage("E", "001", fmt.Sprintf("Purchase requisition %s does not exist", number))},
		}}, nil
	}

	return &rfc.CallResult{
		Exports: map[string]any{
			"PRHEADER": map[string]any{"PREQ_NO": pr.Number, "PR_TYPE": pr.Type},
		},
		Tables: map[string][]map[string]any{
			"PRITEM": pr.Items,
			"RETURN": {},
		},
	}, nil
}

func createRequisition(s *Sandbox, tx *sandboxTx, inv *rfc.Invocation) (*rfc.CallResult, error) {
	items := inv.Tables["PRITEM"]
	if len(items) == 0 {
		return &rfc.CallResult{Tables: map[string][]map[string]any{
			"RETURN": {returnMessage("E", "002", "No items were transferred")},
		}}, nil
	}

	prType := "NB"
	if header, ok := inv.Imports["PRHEADER"].(map[string]any); ok {
		if t, ok := header["PR_TYPE"].(string); ok && t != "" {
			prType = t
		}
	}

	stored := make([]map[string]any, len(items))
	for i, item := range items {
		row := make(map[string]any, len(item))
		for k, v := range item {
			row[k] = v
		}
		if row["PREQ_ITEM"] == nil || row["PREQ_ITEM"] == "" || row["PREQ_ITEM"] == "00000" {
			row["PREQ_ITEM"] = fmt.Sprintf("%05d", (i+1)*10)
		}
		stored[i] = row
	}

	if importString(inv, "TESTRUN") == "X" {
		return &rfc.CallResult{Tables: map[string][]map[string]any{
			"PRITEM": stored,
			"RETURN": {returnMessage("S", "003", "Test run: purchase requisition would be created")},
		}}, nil
	}

	number := s.reserveNumber()
	tx.pending = append(tx.pending, &requisition{Number: number, Type: prType, Items: stored})

	return &rfc.CallResult{
		Exports: map[string]any{"NUMBER": number},
		Tables: map[string][]map[string]any{
			"PRITEM": stored,
			"RETURN": {returnMessage("S", "004", fmt.Sprintf("Purchase requisition %s created", number))},
		},
	}, nil
}
