package types

import "testing"

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  *Type
		want string
	}{
		{IntType, "int"},
		{ArrayOf(StringType), "array of string"},
		{MapOf(StringType, ArrayOf(FloatType)), "map[string] of array of float"},
		{TupleOf(Field{Name: "a", Type: IntType}, Field{Type: FloatType, Tag: 3}), "{a: int, float @ 3}"},
		{FuncOf([]*Type{IntType, BytesType}, BoolType), "function(int, bytes): bool"},
		{FuncOf(nil, nil), "function()"},
		{TableOf(&TableSpec{Kind: "sum", Elem: IntType}), "table sum of int"},
		{TableOf(&TableSpec{
			Kind: "top", Param: 10, HasParam: true,
			Indices: []*Type{StringType},
			Elem:    StringType, ElemName: "word",
			Weight: IntType,
		}), "table top(10)[string] of word: string weight int"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestEqual(t *testing.T) {
	a := TupleOf(Field{Name: "x", Type: IntType}, Field{Name: "y", Type: ArrayOf(BytesType)})
	b := TupleOf(Field{Name: "p", Type: IntType}, Field{Name: "q", Type: ArrayOf(BytesType)})
	if !Equal(a, b) {
		t.Errorf("tuples differing only in field names should be equal")
	}
	c := TupleOf(Field{Name: "x", Type: IntType, Tag: 1}, Field{Name: "y", Type: ArrayOf(BytesType)})
	if Equal(a, c) {
		t.Errorf("tuples with different tags should differ")
	}
	if Equal(MapOf(StringType, IntType), MapOf(StringType, UIntType)) {
		t.Errorf("maps with different value types should differ")
	}
	if !Equal(FuncOf([]*Type{IntType}, nil), FuncOf([]*Type{IntType}, VoidType)) {
		t.Errorf("nil result should mean void")
	}
}

func TestIsAdditive(t *testing.T) {
	tests := []struct {
		typ  *Type
		want bool
	}{
		{IntType, true},
		{FloatType, true},
		{TimeType, true},
		{StringType, false},
		{TupleOf(Field{Type: IntType}, Field{Type: FloatType}), true},
		{TupleOf(Field{Type: IntType}, Field{Type: StringType}), false},
		{MapOf(StringType, IntType), true},
		{MapOf(IntType, IntType), false},
		{ArrayOf(IntType), false},
	}
	for _, tt := range tests {
		if got := tt.typ.IsAdditive(); got != tt.want {
			t.Errorf("%s.IsAdditive() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestFieldIndex(t *testing.T) {
	tup := TupleOf(Field{Name: "a", Type: IntType}, Field{Name: "b", Type: IntType})
	if got := tup.FieldIndex("b"); got != 1 {
		t.Errorf("FieldIndex(b) = %d, want 1", got)
	}
	if got := tup.FieldIndex("c"); got != -1 {
		t.Errorf("FieldIndex(c) = %d, want -1", got)
	}
}
