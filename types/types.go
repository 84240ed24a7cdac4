// Package types describes the static types of szl programs.
//
// Types are plain trees of *Type. Basic types are shared singletons and
// composite types are built with the constructor functions; a Type is never
// mutated after the checker hands it to the compiler.
package types

import (
	"fmt"
	"strings"
)

// Kind identifies the shape of a type.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int
	UInt
	Float
	Fingerprint
	Time
	String
	Bytes
	Array
	Map
	Tuple
	Function
	Table
	Void
)

var kindNames = [...]string{
	Invalid:     "invalid",
	Bool:        "bool",
	Int:         "int",
	UInt:        "uint",
	Float:       "float",
	Fingerprint: "fingerprint",
	Time:        "time",
	String:      "string",
	Bytes:       "bytes",
	Array:       "array",
	Map:         "map",
	Tuple:       "tuple",
	Function:    "function",
	Table:       "table",
	Void:        "void",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Field is one slot of a tuple type.
type Field struct {
	Name string `cbor:"1,keyasint,omitempty"`
	Type *Type  `cbor:"2,keyasint"`
	Tag  int    `cbor:"3,keyasint,omitempty"` // protocol buffer field number, 0 if none
}

// TableSpec holds the declaration of an output table.
type TableSpec struct {
	Kind       string  `cbor:"1,keyasint"`
	Param      int64   `cbor:"2,keyasint,omitempty"`
	HasParam   bool    `cbor:"3,keyasint,omitempty"`
	Indices    []*Type `cbor:"4,keyasint,omitempty"`
	Elem       *Type   `cbor:"5,keyasint"`
	ElemName   string  `cbor:"6,keyasint,omitempty"`
	Weight     *Type   `cbor:"7,keyasint,omitempty"`
	WeightName string  `cbor:"8,keyasint,omitempty"`
}

// Type is a static type descriptor.
type Type struct {
	Kind   Kind       `cbor:"1,keyasint"`
	Name   string     `cbor:"2,keyasint,omitempty"` // declared name, for diagnostics only
	Elem   *Type      `cbor:"3,keyasint,omitempty"` // array element, map value
	Key    *Type      `cbor:"4,keyasint,omitempty"` // map key
	Fields []Field    `cbor:"5,keyasint,omitempty"`
	Params []*Type    `cbor:"6,keyasint,omitempty"`
	Result *Type      `cbor:"7,keyasint,omitempty"`
	Table  *TableSpec `cbor:"8,keyasint,omitempty"`
}

// Shared basic types.
var (
	BoolType        = &Type{Kind: Bool}
	IntType         = &Type{Kind: Int}
	UIntType        = &Type{Kind: UInt}
	FloatType       = &Type{Kind: Float}
	FingerprintType = &Type{Kind: Fingerprint}
	TimeType        = &Type{Kind: Time}
	StringType      = &Type{Kind: String}
	BytesType       = &Type{Kind: Bytes}
	VoidType        = &Type{Kind: Void}
)

// Basic returns the shared type for a basic kind, or nil.
func Basic(k Kind) *Type {
	switch k {
	case Bool:
		return BoolType
	case Int:
		return IntType
	case UInt:
		return UIntType
	case Float:
		return FloatType
	case Fingerprint:
		return FingerprintType
	case Time:
		return TimeType
	case String:
		return StringType
	case Bytes:
		return BytesType
	case Void:
		return VoidType
	}
	return nil
}

// ArrayOf returns the type "array of elem".
func ArrayOf(elem *Type) *Type {
	return &Type{Kind: Array, Elem: elem}
}

// MapOf returns the type "map[key] of elem".
func MapOf(key, elem *Type) *Type {
	return &Type{Kind: Map, Key: key, Elem: elem}
}

// TupleOf returns a tuple type with the given fields.
func TupleOf(fields ...Field) *Type {
	return &Type{Kind: Tuple, Fields: fields}
}

// FuncOf returns a function type. A nil result means void.
func FuncOf(params []*Type, result *Type) *Type {
	if result == nil {
		result = VoidType
	}
	return &Type{Kind: Function, Params: params, Result: result}
}

// TableOf returns an output table type.
func TableOf(spec *TableSpec) *Type {
	return &Type{Kind: Table, Table: spec}
}

// IsBasic reports whether t is a scalar, string or bytes type.
func (t *Type) IsBasic() bool {
	switch t.Kind {
	case Bool, Int, UInt, Float, Fingerprint, Time, String, Bytes:
		return true
	}
	return false
}

// IsNumeric reports whether t is int, uint or float.
func (t *Type) IsNumeric() bool {
	return t.Kind == Int || t.Kind == UInt || t.Kind == Float
}

// IsIndexable reports whether t supports x[i] with an integer index.
func (t *Type) IsIndexable() bool {
	return t.Kind == Array || t.Kind == Bytes || t.Kind == String
}

// IsAdditive reports whether values of t can be summed element-wise.
func (t *Type) IsAdditive() bool {
	switch t.Kind {
	case Int, UInt, Float, Time:
		return true
	case Tuple:
		for _, f := range t.Fields {
			if !f.Type.IsAdditive() {
				return false
			}
		}
		return len(t.Fields) > 0
	case Map:
		return t.Key.Kind == String && t.Elem.IsAdditive()
	}
	return false
}

// FieldIndex returns the index of the named field, or -1.
func (t *Type) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports structural type identity. Declared names and field names
// are ignored; tags are not.
func Equal(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case Array:
		return Equal(a.Elem, b.Elem)
	case Map:
		return Equal(a.Key, b.Key) && Equal(a.Elem, b.Elem)
	case Tuple:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Tag != b.Fields[i].Tag || !Equal(a.Fields[i].Type, b.Fields[i].Type) {
				return false
			}
		}
		return true
	case Function:
		if len(a.Params) != len(b.Params) || !Equal(a.Result, b.Result) {
			return false
		}
		for i := range a.Params {
			if !Equal(a.Params[i], b.Params[i]) {
				return false
			}
		}
		return true
	case Table:
		sa, sb := a.Table, b.Table
		if sa.Kind != sb.Kind || sa.Param != sb.Param || len(sa.Indices) != len(sb.Indices) {
			return false
		}
		for i := range sa.Indices {
			if !Equal(sa.Indices[i], sb.Indices[i]) {
				return false
			}
		}
		return Equal(sa.Elem, sb.Elem) && Equal(sa.Weight, sb.Weight)
	}
	return true
}

// String renders t in source syntax.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var sb strings.Builder
	t.write(&sb)
	return sb.String()
}

func (t *Type) write(sb *strings.Builder) {
	switch t.Kind {
	case Array:
		sb.WriteString("array of ")
		t.Elem.write(sb)
	case Map:
		sb.WriteString("map[")
		t.Key.write(sb)
		sb.WriteString("] of ")
		t.Elem.write(sb)
	case Tuple:
		sb.WriteByte('{')
		for i, f := range t.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			if f.Name != "" {
				sb.WriteString(f.Name)
				sb.WriteString(": ")
			}
			f.Type.write(sb)
			if f.Tag != 0 {
				fmt.Fprintf(sb, " @ %d", f.Tag)
			}
		}
		sb.WriteByte('}')
	case Function:
		sb.WriteString("function(")
		for i, p := range t.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			p.write(sb)
		}
		sb.WriteByte(')')
		if t.Result != nil && t.Result.Kind != Void {
			sb.WriteString(": ")
			t.Result.write(sb)
		}
	case Table:
		s := t.Table
		sb.WriteString("table ")
		sb.WriteString(s.Kind)
		if s.HasParam {
			fmt.Fprintf(sb, "(%d)", s.Param)
		}
		for _, idx := range s.Indices {
			sb.WriteByte('[')
			idx.write(sb)
			sb.WriteByte(']')
		}
		sb.WriteString(" of ")
		if s.ElemName != "" {
			sb.WriteString(s.ElemName)
			sb.WriteString(": ")
		}
		s.Elem.write(sb)
		if s.Weight != nil {
			sb.WriteString(" weight ")
			if s.WeightName != "" {
				sb.WriteString(s.WeightName)
				sb.WriteString(": ")
			}
			s.Weight.write(sb)
		}
	default:
		sb.WriteString(t.Kind.String())
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

type conversion struct{ from, to Kind }

// conversions lists the basic conversions T(x) accepted by the checker and
// implemented by the interpreter. Identity conversions are always allowed.
var conversions = map[conversion]bool{
	{Int, Float}: true, {Int, UInt}: true, {Int, String}: true, {Int, Time}: true,
	{Int, Fingerprint}: true, {Int, Bool}: true, {Int, Bytes}: true,
	{UInt, Int}: true, {UInt, Float}: true, {UInt, String}: true, {UInt, Time}: true,
	{UInt, Fingerprint}: true,
	{Float, Int}:        true, {Float, UInt}: true, {Float, String}: true,
	{Bool, Int}: true, {Bool, String}: true,
	{Fingerprint, Int}: true, {Fingerprint, UInt}: true, {Fingerprint, String}: true,
	{Fingerprint, Bytes}: true,
	{Time, Int}:          true, {Time, UInt}: true, {Time, String}: true,
	{String, Int}: true, {String, UInt}: true, {String, Float}: true, {String, Bool}: true,
	{String, Time}: true, {String, Fingerprint}: true, {String, Bytes}: true,
	{Bytes, String}: true, {Bytes, Int}: true, {Bytes, Fingerprint}: true,
}

// Convertible reports whether a basic value of kind from converts to kind to.
func Convertible(from, to Kind) bool {
	return from == to || conversions[conversion{from, to}]
}
