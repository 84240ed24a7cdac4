package syntax

import (
	"testing"

	"github.com/google/szl-sub002/types"
)

func TestParseTypeRoundTrip(t *testing.T) {
	tests := []string{
		"int",
		"array of string",
		"map[string] of array of float",
		"{name: string, age: int @ 3}",
		"table sum of int",
		"table sum[string][int] of {count: int, total: float}",
		"table top(10)[string] of url: string weight hits: int",
		"table quantile(101) of float",
		"table weightedsample(5) of string weight float",
	}
	for _, src := range tests {
		typ, err := ParseType(src)
		if err != nil {
			t.Errorf("ParseType(%q): %v", src, err)
			continue
		}
		if got := typ.String(); got != src {
			t.Errorf("ParseType(%q).String() = %q", src, got)
		}
	}
}

func TestParseTypeKinds(t *testing.T) {
	typ, err := ParseType("table unique(100)[int] of string")
	if err != nil {
		t.Fatalf("ParseType: %v", err)
	}
	if typ.Kind != types.Table || typ.Table.Kind != "unique" || typ.Table.Param != 100 {
		t.Errorf("type = %+v", typ.Table)
	}
	if len(typ.Table.Indices) != 1 || typ.Table.Indices[0].Kind != types.Int {
		t.Errorf("indices = %v, want [int]", typ.Table.Indices)
	}
}

func TestParseTypeErrors(t *testing.T) {
	for _, src := range []string{"", "nosuchtype", "table sum of int weight int", "array of"} {
		if typ, err := ParseType(src); err == nil {
			t.Errorf("ParseType(%q) = %v, want error", src, typ)
		}
	}
}
