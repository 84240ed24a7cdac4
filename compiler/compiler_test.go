package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/szl-sub002/syntax"
	"github.com/google/szl-sub002/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type result struct {
	out    string
	status vm.Status
	proc   *vm.Proc
}

func compile(t *testing.T, src string) *vm.Program {
	t.Helper()
	prog, err := Compile("test.szl", src, Options{VerifySP: true})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	return prog
}

func runProgram(t *testing.T, prog *vm.Program, ignoreUndefs bool, input string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	p, err := vm.NewProc(prog, vm.Options{Stdout: &out, Stderr: &errOut, IgnoreUndefs: ignoreUndefs})
	if err != nil {
		t.Fatalf("NewProc error: %v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if err := p.SetupRun([]byte(input), nil); err != nil {
		t.Fatalf("SetupRun error: %v", err)
	}
	st := p.Run()
	return result{out: out.String(), status: st, proc: p}
}

func run(t *testing.T, src string) result {
	t.Helper()
	return runProgram(t, compile(t, src), true, "")
}

// ---------------------------------------------------------------------------
// Expressions and statements
// ---------------------------------------------------------------------------

func TestPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"arithmetic", `x: int = 6 * 7; emit stdout <- format("%d", x);`, "42\n"},
		{"precedence", `emit stdout <- format("%d", 1 + 2 * 3 - 8 / 4);`, "5\n"},
		{"float", `f := 1.5; f = f * 2.0; emit stdout <- format("%g", f);`, "3\n"},
		{"uint", `u: uint = 7u; u++; emit stdout <- format("%d", u);`, "8\n"},
		{"string concat", `s := "ab" + "cd"; emit stdout <- s;`, "abcd\n"},
		{"intrinsic", `emit stdout <- uppercase("abc");`, "ABC\n"},
		{"conversion", `n := int("123"); emit stdout <- string(n + 1);`, "124\n"},
		{"comparison value", `b := 3 < 4; emit stdout <- format("%b", b);`, "true\n"},
		{"logical", `a := true; b := false; emit stdout <- format("%b %b %b", a && b, a || b, !b);`, "false true true\n"},
		{"if else", `x := 5; if (x > 3) emit stdout <- "big"; else emit stdout <- "small";`, "big\n"},
		{"while", `i := 0; s := 0; while (i < 10) { i++; s = s + i; } emit stdout <- format("%d", s);`, "55\n"},
		{"do while", `i := 0; do { i = i + 2; } while (i < 5); emit stdout <- format("%d", i);`, "6\n"},
		{"for break continue", `
			s := 0;
			for (i := 0; i < 100; i++) {
				if (i % 2 == 0) continue;
				if (i > 9) break;
				s = s + i;
			}
			emit stdout <- format("%d", s);`, "25\n"},
		{"len", `a := {1, 2, 3}; emit stdout <- format("%d %d", len(a), len("héllo"));`, "3 5\n"},
		{"slice", `s := "abcdef"; emit stdout <- s[1:3] + s[4:];`, "bcef\n"},
		{"string index", `s: string = "abc"; s[1] = 'X'; emit stdout <- s;`, "aXc\n"},
		{"bytes index", `b: bytes = B"abc"; b[0]++; emit stdout <- string(b);`, "bbc\n"},
		{"slice assignment", `a: array of int = {1, 2, 3}; a[0:2] = {9}; emit stdout <- format("%d %d", len(a), a[0]);`, "2 9\n"},
		{"map", `m: map[string] of int = {:}; m["a"] = 1; m["a"]++; emit stdout <- format("%d %b", m["a"], haskey(m, "b"));`, "2 false\n"},
		{"tuple", `type T = {a: int, b: string}; t: T = {1, "x"}; t.a = 5; t.a++; emit stdout <- format("%d %s", t.a, t.b);`, "6 x\n"},
		{"nested assignment", `
			a: array of array of int = {{1, 2}, {3, 4}};
			a[1][0] = 7;
			a[0][1]++;
			emit stdout <- format("%d %d %d %d", a[0][0], a[0][1], a[1][0], a[1][1]);`, "1 3 7 4\n"},
		{"nested assignment reading target", `
			a: array of array of int = {{1}, {2}};
			a[0][0] = a[1][0] + 1;
			a[a[0][0] - 2][0] = 9;
			emit stdout <- format("%d %d", a[0][0], a[1][0]);`, "3 9\n"},
		{"nested float increment", `
			m: map[string] of array of float = {"k": {1.0}};
			m["k"][0]++;
			emit stdout <- format("%g", m["k"][0]);`, "2\n"},
		{"match", `emit stdout <- format("%b %b", match("a+b", "xaab"), match("^z", "abc"));`, "true false\n"},
		{"keys", `m := {"x": 1}; k := keys(m); emit stdout <- k[0];`, "x\n"},
		{"abs", `emit stdout <- format("%d %g", abs(-3), abs(-2.5));`, "3 2.5\n"},
		{"assert passes", `assert(1 < 2, "ordering"); emit stdout <- "ok";`, "ok\n"},
		{"top-level return", `emit stdout <- "a"; return; emit stdout <- "b";`, "a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, tt.src)
			if r.status != vm.Terminated {
				t.Fatalf("status = %v (%s), want TERMINATED", r.status, r.proc.TrapInfo())
			}
			if r.out != tt.want {
				t.Errorf("output = %q, want %q", r.out, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestFunctions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"recursion", `
			fib: function(n: int): int {
				if (n < 2) return n;
				return fib(n - 1) + fib(n - 2);
			}
			emit stdout <- format("%d", fib(10));`, "55\n"},
		{"nested function reads outer", `
			f: function(n: int): int {
				add: function(x: int): int { return x + n; };
				return add(1);
			};
			emit stdout <- format("%d", f(41));`, "42\n"},
		{"function value", `
			g := function(x: int): int { return x * 2; };
			emit stdout <- format("%d", g(21));`, "42\n"},
		{"outer assignment", `
			count := 0;
			bump: function() { count++; };
			bump(); bump();
			emit stdout <- format("%d", count);`, "2\n"},
		{"void return", `
			p: function(s: string) { if (s == "") return; emit stdout <- s; };
			p(""); p("x");`, "x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := run(t, tt.src)
			if r.status != vm.Terminated {
				t.Fatalf("status = %v (%s), want TERMINATED", r.status, r.proc.TrapInfo())
			}
			if r.out != tt.want {
				t.Errorf("output = %q, want %q", r.out, tt.want)
			}
		})
	}
}

func TestMissingReturnTraps(t *testing.T) {
	r := run(t, `
		f: function(x: int): int { if (x > 0) return 1; };
		y := f(-1);
		emit stdout <- format("%b", def(y));`)
	if r.status != vm.Trapped {
		t.Fatalf("status = %v, want TRAPPED", r.status)
	}
	if r.out != "false\n" {
		t.Errorf("output = %q, want %q", r.out, "false\n")
	}
	if !strings.Contains(r.proc.TrapInfo(), "missing return value") {
		t.Errorf("TrapInfo = %q, want missing return value", r.proc.TrapInfo())
	}
}

// ---------------------------------------------------------------------------
// Traps
// ---------------------------------------------------------------------------

func TestDefProbeIsSilent(t *testing.T) {
	r := run(t, `a: array of int = {1}; emit stdout <- format("%b %b", def(a[3]), def(a[0]));`)
	if r.status != vm.Terminated {
		t.Fatalf("status = %v, want TERMINATED", r.status)
	}
	if r.out != "false true\n" {
		t.Errorf("output = %q, want %q", r.out, "false true\n")
	}
	if r.proc.TrapCount() != 0 {
		t.Errorf("TrapCount = %d, want 0", r.proc.TrapCount())
	}
}

func TestStatementTrapUndefinesTarget(t *testing.T) {
	src := `
		x: int = 1;
		zero := 0;
		x = 10 / zero;
		emit stdout <- format("%b", def(x));`
	r := runProgram(t, compile(t, src), true, "")
	if r.status != vm.Trapped {
		t.Fatalf("status = %v, want TRAPPED", r.status)
	}
	if r.out != "false\n" {
		t.Errorf("output = %q, want %q", r.out, "false\n")
	}
	if r.proc.TrapCount() != 1 {
		t.Errorf("TrapCount = %d, want 1", r.proc.TrapCount())
	}
	if !strings.Contains(r.proc.TrapInfo(), "divide by zero") {
		t.Errorf("TrapInfo = %q, want divide by zero", r.proc.TrapInfo())
	}
}

func TestFailedElementStoreKeepsVariable(t *testing.T) {
	r := run(t, `
		a: array of int = {1, 2};
		b: array of array of int = {{1}};
		zero := 0;
		a[0] = 1 / zero;
		a[5] = 3;
		b[0][3] = 1;
		emit stdout <- format("%b %d %d %b", def(a), a[0], a[1], def(b));`)
	if r.status != vm.Trapped {
		t.Fatalf("status = %v, want TRAPPED", r.status)
	}
	if r.out != "true 1 2 false\n" {
		t.Errorf("output = %q, want %q", r.out, "true 1 2 false\n")
	}
	if r.proc.TrapCount() != 3 {
		t.Errorf("TrapCount = %d, want 3", r.proc.TrapCount())
	}
}

func TestStrictModeFails(t *testing.T) {
	src := `zero := 0; x := 1 / zero; emit stdout <- "unreachable";`
	r := runProgram(t, compile(t, src), false, "")
	if r.status != vm.Failed {
		t.Fatalf("status = %v, want FAILED", r.status)
	}
	if r.out != "" {
		t.Errorf("output = %q, want none", r.out)
	}
}

func TestTrapInsideCallRecoversInCaller(t *testing.T) {
	// The failing return statement is recovered inside get, which then
	// falls off its end; that second trap unwinds into the caller's def().
	r := run(t, `
		get: function(a: array of int, i: int): int { return a[i]; };
		a := {1, 2};
		ok := def(get(a, 5));
		emit stdout <- format("%b %d", ok, get(a, 1));`)
	if r.status != vm.Trapped {
		t.Fatalf("status = %v (%s), want TRAPPED", r.status, r.proc.TrapInfo())
	}
	if r.proc.TrapCount() != 1 {
		t.Errorf("TrapCount = %d, want 1", r.proc.TrapCount())
	}
	if r.out != "false 2\n" {
		t.Errorf("output = %q, want %q", r.out, "false 2\n")
	}
}

func TestStrictModeDefAcrossCalls(t *testing.T) {
	prog := compile(t, `
		get: function(a: array of int, i: int): int { return a[i]; };
		via: function(a: array of int, i: int): int { x := get(a, i); return x + 1; };
		a := {1, 2};
		ok := def(get(a, 5));
		deep := def(via(a, 7));
		emit stdout <- format("%b %b %d", ok, deep, via(a, 1));`)
	r := runProgram(t, prog, false, "")
	if r.status != vm.Terminated {
		t.Fatalf("status = %v (%s), want TERMINATED", r.status, r.proc.TrapInfo())
	}
	if r.out != "false false 3\n" {
		t.Errorf("output = %q, want %q", r.out, "false false 3\n")
	}
	if r.proc.TrapCount() != 0 {
		t.Errorf("TrapCount = %d, want 0", r.proc.TrapCount())
	}

	// Outside def() the same call still fails the proc.
	prog = compile(t, `
		get: function(a: array of int, i: int): int { return a[i]; };
		a := {1, 2};
		x := get(a, 5);
		emit stdout <- "unreachable";`)
	r = runProgram(t, prog, false, "")
	if r.status != vm.Failed {
		t.Fatalf("status = %v, want FAILED", r.status)
	}
	if !strings.Contains(r.proc.TrapInfo(), "index out of bounds (index = 5, length = 2)") {
		t.Errorf("TrapInfo = %q", r.proc.TrapInfo())
	}
	if r.out != "" {
		t.Errorf("output = %q, want none", r.out)
	}
}

func TestAssertFailureIsFatal(t *testing.T) {
	r := run(t, `x := 1; assert(x == 2, "x must be 2"); emit stdout <- "after";`)
	if r.status != vm.Failed {
		t.Fatalf("status = %v, want FAILED", r.status)
	}
	if !strings.Contains(r.proc.TrapInfo(), "x must be 2") {
		t.Errorf("TrapInfo = %q, want the assertion message", r.proc.TrapInfo())
	}
}

// ---------------------------------------------------------------------------
// Program structure
// ---------------------------------------------------------------------------

func TestStaticsPersistAcrossRecords(t *testing.T) {
	prog := compile(t, `
		double: function(x: int): int { return 2 * x; };
		static base: int = double(5);
		n: int = 0;
		n++;
		emit stdout <- format("%d %d %d", base, n, len(input));`)
	var out bytes.Buffer
	p, err := vm.NewProc(prog, vm.Options{Stdout: &out, Stderr: &bytes.Buffer{}, IgnoreUndefs: true})
	if err != nil {
		t.Fatalf("NewProc error: %v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	for _, in := range []string{"ab", "abcd"} {
		if err := p.SetupRun([]byte(in), nil); err != nil {
			t.Fatalf("SetupRun error: %v", err)
		}
		if st := p.Run(); st != vm.Terminated {
			t.Fatalf("status = %v (%s)", st, p.TrapInfo())
		}
	}
	if got, want := out.String(), "10 1 2\n10 1 4\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestEmitToTable(t *testing.T) {
	r := run(t, `
		total: table sum of int;
		byword: table sum[string] of int;
		emit total <- 3;
		emit total <- 4;
		emit byword["a"] <- 1;
		emit byword["a"] <- 2;`)
	if r.status != vm.Terminated {
		t.Fatalf("status = %v (%s)", r.status, r.proc.TrapInfo())
	}
	lines, err := r.proc.Display()
	if err != nil {
		t.Fatalf("Display error: %v", err)
	}
	want := []string{"total[] = 7", "byword[a] = 3"}
	if len(lines) != len(want) {
		t.Fatalf("Display = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Display[%d] = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestLineCounts(t *testing.T) {
	prog, err := Compile("test.szl", "x := 0;\nwhile (x < 3)\n  x++;\n", Options{LineCounts: true})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	r := runProgram(t, prog, true, "")
	if r.status != vm.Terminated {
		t.Fatalf("status = %v", r.status)
	}
	counts := r.proc.LineCounts()
	if counts[3] != 3 {
		t.Errorf("line 3 count = %d, want 3", counts[3])
	}
	if counts[1] != 1 {
		t.Errorf("line 1 count = %d, want 1", counts[1])
	}
}

func TestProgramLayout(t *testing.T) {
	prog := compile(t, `
		static k := 1;
		f: function(a: int, b: int): int { c := a + b; return c; };
		y := f(k, 2);`)
	if len(prog.Funcs) != 2 {
		t.Fatalf("len(Funcs) = %d, want 2", len(prog.Funcs))
	}
	f := prog.Funcs[1]
	if f.Name != "f" || f.NParams != 2 || f.NLocals != 1 || f.Level != 1 {
		t.Errorf("f = %+v, want name f, 2 params, 1 local, level 1", f)
	}
	if f.SlotNames[1] != "c" || f.SlotNames[2] != "a" || f.SlotNames[3] != "b" {
		t.Errorf("SlotNames = %q, want locals then params", f.SlotNames)
	}
	if prog.InitPC >= prog.MainPC || prog.MainPC >= f.Entry {
		t.Errorf("InitPC %d, MainPC %d, f.Entry %d out of order", prog.InitPC, prog.MainPC, f.Entry)
	}
	if !strings.Contains(prog.Disassemble(), "ENTER 1") {
		t.Errorf("disassembly lacks ENTER 1:\n%s", prog.Disassemble())
	}
	g := prog.Global()
	if !prog.Statics[g.SlotIndex("k")] || !prog.Statics[g.SlotIndex("f")] || prog.Statics[g.SlotIndex("y")] {
		t.Errorf("Statics = %v, want k and f static, y not", prog.Statics)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`x := y;`, "undefined: y"},
		{`x: int = "s";`, "cannot use string as int"},
		{`b := match("(", "x");`, "invalid regular expression"},
		{`a: array of array of int = {{1}}; a[0][0:1] = {2};`, "slice assignment must target a variable"},
	}
	for _, tt := range tests {
		_, err := Compile("bad.szl", tt.src, Options{})
		if err == nil {
			t.Errorf("Compile(%q) succeeded, want error", tt.src)
			continue
		}
		var list syntax.ErrorList
		if !errors.As(err, &list) {
			t.Errorf("Compile(%q) error %T, want syntax.ErrorList", tt.src, err)
			continue
		}
		if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Compile(%q) = %v, want %q", tt.src, err, tt.want)
		}
	}
}
