package rfc

import (
	"fmt"
	"sort"
	"strings"
)

// Direction is the direction of a function parameter.
type Direction int

const (
	// DirectionImport is an input parameter.
	DirectionImport Direction = iota
	// DirectionExport is an output parameter.
	DirectionExport
	// DirectionChanging is an input parameter that is also returned.
	DirectionChanging
	// DirectionTable is a tabular parameter, readable and writable.
	DirectionTable
)

var directionNames = map[Direction]string{
	DirectionImport:   "import",
	DirectionExport:   "export",
	DirectionChanging: "changing",
	DirectionTable:    "table",
}

// String returns the wire name of the direction.
func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	name, ok := directionNames[d]
	if !ok {
		return nil, fmt.Errorf("unknown parameter direction %d", int(d))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for dir, name := range directionNames {
		if name == s {
			*d = dir
			return nil
		}
	}
	return fmt.Errorf("unknown parameter direction %q", string(text))
}

// TypeKind tags the variants of the parameter type tree.
type TypeKind int

const (
	// TypeScalar is a single elementary value.
	TypeScalar TypeKind = iota
	// TypeStructure is a flat or nested record of named fields.
	TypeStructure
	// TypeTable is a sequence of rows sharing one line type.
	TypeTable
)

var typeKindNames = map[TypeKind]string{
	TypeScalar:    "scalar",
	TypeStructure: "structure",
	TypeTable:     "table",
}

// String returns the wire name of the type kind.
func (k TypeKind) String() string {
	if name, ok := typeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k TypeKind) MarshalText() ([]byte, error) {
	name, ok := typeKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown type kind %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *TypeKind) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for kind, name := range typeKindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown type kind %q", string(text))
}

// ScalarType is the elementary type of a scalar value.
type ScalarType string

// Elementary types understood by the marshaller.
const (
	ScalarChar    ScalarType = "CHAR"
	ScalarString  ScalarType = "STRING"
	ScalarNum     ScalarType = "NUM"
	ScalarInt     ScalarType = "INT"
	ScalarFloat   ScalarType = "FLOAT"
	ScalarDecimal ScalarType = "DECIMAL"
	ScalarDate    ScalarType = "DATE"
	ScalarTime    ScalarType = "TIME"
	ScalarByte    ScalarType = "BYTE"
)

// Type describes the shape of a parameter or field.
// Structures list their fields in Fields; tables list the fields of their row type.
type Type struct {
	Kind     TypeKind   `json:"kind" yaml:"kind"`
	Scalar   ScalarType `json:"scalar,omitempty" yaml:"scalar,omitempty"`
	Length   int        `json:"length,omitempty" yaml:"length,omitempty"`
	Decimals int        `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	Fields   []Field    `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Field is a named member of a structure or table row.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// Field returns the field with the given name.
func (t Type) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Parameter is one declared parameter of a remote function.
type Parameter struct {
	Name        string    `json:"name" yaml:"name"`
	Direction   Direction `json:"direction" yaml:"direction"`
	Type        Type      `json:"type" yaml:"type"`
	Optional    bool      `json:"optional,omitempty" yaml:"optional,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// FunctionSchema is the metadata of a remote function as published by the
// destination's repository. It is read-only once resolved.
type FunctionSchema struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  []Parameter `json:"parameters" yaml:"parameters"`
}

// Parameter returns the declared parameter with the given name.
func (s *FunctionSchema) Parameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ByDirection returns the parameters of the given direction in declaration order.
func (s *FunctionSchema) ByDirection(dir Direction) []Parameter {
	var params []Parameter
	for _, p := range s.Parameters {
		if p.Direction == dir {
			params = append(params, p)
		}
	}
	return params
}

// accepts reports whether a parameter may receive caller input in the
// given direction. Changing parameters are addressed as imports.
func (p Parameter) accepts(dir Direction) bool {
	switch dir {
	case DirectionImport:
		return p.Direction == DirectionImport || p.Direction == DirectionChanging
	default:
		return p.Direction == dir
	}
}

// returned reports whether the parameter is part of the export list.
func (p Parameter) returned() bool {
	return p.Direction == DirectionExport || p.Direction == DirectionChanging
}

// Validate checks the structural consistency of the schema tree.
func (s *FunctionSchema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("function schema has no name")
	}
	seen := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		if p.Name == "" {
			return fmt.Errorf("function %s: parameter without name", s.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("function %s: duplicate parameter %s", s.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Direction == DirectionTable && p.Type.Kind != TypeTable {
			return fmt.Errorf("function %s: table parameter %s is not table-typed", s.Name, p.Name)
		}
		if err := p.Type.validate(s.Name + "." + p.Name); err != nil {
			return err
		}
	}
	return nil
}

func (t Type) validate(path string) error {
	switch t.Kind {
	case TypeScalar:
		if !knownScalar(t.Scalar) {
			return fmt.Errorf("%s: unknown scalar type %q", path, t.Scalar)
		}
		return nil
	case TypeStructure, TypeTable:
		if len(t.Fields) == 0 {
			return fmt.Errorf("%s: %s without fields", path, t.Kind)
		}
		for _, f := range t.Fields {
			if err := f.Type.validate(path + "." + f.Name); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown type kind %d", path, int(t.Kind))
	}
}

func knownScalar(s ScalarType) bool {
	switch s {
	case ScalarChar, ScalarString, ScalarNum, ScalarInt, ScalarFloat,
		ScalarDecimal, ScalarDate, ScalarTime, ScalarByte:
		return true
	}
	return false
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
