package syntax

import (
	"strings"
	"testing"

	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/types"
)

func check(t *testing.T, input string) *ast.Program {
	t.Helper()
	prog := parseProgram(t, input)
	if err := Check(prog); err != nil {
		t.Fatalf("Check(%q): %v", input, err)
	}
	return prog
}

// ---------------------------------------------------------------------------
// Declarations and frames
// ---------------------------------------------------------------------------

func TestCheckerGlobals(t *testing.T) {
	prog := check(t, `
		x := 1;
		static s: string = "a";
		counts: table sum[string] of int;
		{ y: float = 2.0; }
	`)
	names := make([]string, len(prog.Globals))
	for i, d := range prog.Globals {
		names[i] = d.Name
		if d.Slot != i+1 {
			t.Errorf("%s.Slot = %d, want %d", d.Name, d.Slot, i+1)
		}
	}
	if got, want := strings.Join(names, ","), "input,aux,x,s,y"; got != want {
		t.Errorf("Globals = %s, want %s", got, want)
	}
	if prog.Input != prog.Globals[0] || prog.Aux != prog.Globals[1] {
		t.Errorf("Input/Aux are not the first two globals")
	}
	if len(prog.Tables) != 3 || prog.Tables[2].Name != "counts" || prog.Tables[2].Table != 2 {
		t.Fatalf("Tables = %v, want stdout, stderr, counts", prog.Tables)
	}
	spec := prog.Tables[2].T.Table
	if spec.Kind != "sum" || len(spec.Indices) != 1 || spec.Elem.Kind != types.Int {
		t.Errorf("counts spec = %+v", spec)
	}
	if x := prog.Globals[2]; x.T.Kind != types.Int || x.Depth != 0 {
		t.Errorf("x = %+v, want int at depth 0", x)
	}
}

func TestCheckerFunctionFrames(t *testing.T) {
	prog := check(t, `
		outer: function(a: int, b: int): int {
			c := a + b;
			inner: function(d: int): int { return c + d; };
			return inner(1);
		}
		g := function(): int { return 0; };
		z := outer(1, 2) + g();
	`)
	if len(prog.Funcs) != 3 {
		t.Fatalf("len(Funcs) = %d, want 3", len(prog.Funcs))
	}
	outer, inner := prog.Funcs[0], prog.Funcs[1]
	if outer.Name != "outer" || outer.Index != 1 || outer.Depth != 1 || outer.Parent != nil {
		t.Errorf("outer = %s index %d depth %d", outer.Name, outer.Index, outer.Depth)
	}
	if inner.Name != "inner" || inner.Depth != 2 || inner.Parent != outer {
		t.Errorf("inner = %s depth %d", inner.Name, inner.Depth)
	}
	if prog.Funcs[2].Name != "$func3" {
		t.Errorf("anonymous function name = %q, want $func3", prog.Funcs[2].Name)
	}

	// Locals first, then parameters.
	if len(outer.Locals) != 2 || outer.Locals[0].Name != "c" || outer.Locals[1].Name != "inner" {
		t.Fatalf("outer locals = %v", outer.Locals)
	}
	if outer.Params[0].Slot != 3 || outer.Params[1].Slot != 4 {
		t.Errorf("param slots = %d, %d, want 3, 4", outer.Params[0].Slot, outer.Params[1].Slot)
	}
	if !outer.Locals[1].Fixed || outer.Locals[1].Depth != 1 {
		t.Errorf("inner decl = %+v, want fixed at depth 1", outer.Locals[1])
	}
}

func TestCheckerCallKinds(t *testing.T) {
	prog := check(t, `
		f: function(x: int): int { return x; }
		g := f;
		a := f(1);
		b := g(2);
		c := string(a);
		d := len("abc");
	`)
	want := []ast.CallKind{ast.CallDirect, ast.CallClosure, ast.CallConvert, ast.CallIntrinsic}
	for i, k := range want {
		call := prog.Stmts[i+2].(*ast.VarDecl).Init.(*ast.CallExpr)
		if call.Kind != k {
			t.Errorf("call %d kind = %v, want %v", i, call.Kind, k)
		}
	}
	direct := prog.Stmts[2].(*ast.VarDecl).Init.(*ast.CallExpr)
	if direct.Target == nil || direct.Target.Name != "f" {
		t.Errorf("direct call target = %v, want f", direct.Target)
	}
	if in := prog.Stmts[5].(*ast.VarDecl).Init.(*ast.CallExpr); in.Intrinsic != "len" {
		t.Errorf("Intrinsic = %q, want len", in.Intrinsic)
	}
}

func TestCheckerTupleFields(t *testing.T) {
	prog := check(t, `
		type P = {name: string, age: int @ 3};
		p: P = {"x", 1};
		n := p.age;
	`)
	sel := prog.Stmts[2].(*ast.VarDecl).Init.(*ast.SelectorExpr)
	if sel.Field != 1 || sel.Type().Kind != types.Int {
		t.Errorf("p.age field = %d type %v, want 1 int", sel.Field, sel.Type())
	}
	pt := prog.Stmts[0].(*ast.TypeDecl).T
	if pt.Name != "P" || pt.Fields[1].Tag != 3 {
		t.Errorf("P = %+v", pt)
	}
}

// ---------------------------------------------------------------------------
// Nested assignment temporaries
// ---------------------------------------------------------------------------

func TestCheckerAssignTemps(t *testing.T) {
	tests := []struct {
		stmt  string
		temps []bool // nil means no temporaries at all
	}{
		{"a[0] = a[1];", nil},
		{"a[0][0] = 5;", []bool{false, false, false}},
		{"a[0][0] = a[1][0];", []bool{true, false, false}},
		{"a[a[0][0]][0] = 1;", []bool{false, true, false}},
		{"a[0][len(a)]++;", []bool{false, false, true}},
	}
	for _, tc := range tests {
		prog := check(t, "a: array of array of int = {{1}, {2}};\n"+tc.stmt)
		var got []*ast.VarDecl
		switch s := prog.Stmts[1].(type) {
		case *ast.AssignStmt:
			got = s.Temps
		case *ast.IncDecStmt:
			got = s.Temps
		}
		if tc.temps == nil {
			if got != nil {
				t.Errorf("%s: Temps = %v, want none", tc.stmt, got)
			}
			continue
		}
		if len(got) != len(tc.temps) {
			t.Errorf("%s: len(Temps) = %d, want %d", tc.stmt, len(got), len(tc.temps))
			continue
		}
		for i, want := range tc.temps {
			if (got[i] != nil) != want {
				t.Errorf("%s: Temps[%d] set = %v, want %v", tc.stmt, i, got[i] != nil, want)
			}
			if got[i] != nil && got[i].Slot == 0 {
				t.Errorf("%s: Temps[%d] has no slot", tc.stmt, i)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestCheckerErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"x := y;", "undefined: y"},
		{"x := 1; x := 2;", "x redeclared in this block"},
		{`x: int = "s";`, "cannot use string as int"},
		{"x := 1 + 1.0;", "invalid operation int + float"},
		{"x := 1 < true;", "invalid operation"},
		{"f: function() { static k := 1; };", "static declaration of k inside a function"},
		{"{ static k := 1; }", "static declaration of k must be at top level"},
		{"static k := 1; k = 2;", "cannot modify static variable k"},
		{"x := 1; static k := x;", "static initializer refers to non-static variable x"},
		{"break;", "break outside loop"},
		{"continue;", "continue outside loop"},
		{"return 1;", "return with a value outside a function"},
		{"f: function(): int { return; };", "missing return value"},
		{"f: function() { return 1; };", "function f has no result"},
		{"f: function() {} f = f;", "cannot assign to function f"},
		{"f: function() { t: table sum of int; };", "table t must be declared at top level"},
		{"t: table sum[string] of int; emit t <- 1;", "table t has 1 indices, emit has 0"},
		{`t: table top(3) of string weight int; emit t <- "a";`, "emit to t needs a weight"},
		{"t: table sum of int weight int;", "sum"},
		{"t: table sum of int; emit t <- 1 weight 2;", "table t is not weighted"},
		{"x := 1; emit x <- 1;", "x is not a table"},
		{"x := 1; x++; s := \"a\"; s++;", "cannot increment string"},
		{"1 + 2;", "expression evaluated but not used"},
		{"x := int;", "type int is not an expression"},
		{"x := len;", "len must be called"},
		{"x := bool(B\"a\");", "cannot convert bytes to bool"},
		{"x := {};", "cannot infer the type of an empty composite literal"},
		{"a: array of array of int = {{1}}; a[0][0:1] = {2};", "slice assignment must target a variable"},
		{"type T = {a: int, a: int};", "duplicate field a"},
		{"m: map[function()] of int;", "invalid map key type"},
	}

	for _, tc := range tests {
		prog, err := Parse("bad.szl", tc.input)
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.input, err)
			continue
		}
		err = Check(prog)
		if err == nil {
			t.Errorf("Check(%q) succeeded, want %q", tc.input, tc.want)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Check(%q) = %v, want %q", tc.input, err, tc.want)
		}
	}
}

func TestCheckerIsBuiltin(t *testing.T) {
	for _, name := range []string{"len", "def", "format", "match", "fingerprintof"} {
		if !IsBuiltin(name) {
			t.Errorf("IsBuiltin(%q) = false, want true", name)
		}
	}
	if IsBuiltin("input") {
		t.Errorf("IsBuiltin(input) = true, want false")
	}
}
