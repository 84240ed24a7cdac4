package vm_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/szl-sub002/compiler"
	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/vm"
)

func start(t *testing.T, src string, opts vm.Options) *vm.Proc {
	t.Helper()
	prog, err := compiler.Compile("test.szl", src, compiler.Options{})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	if opts.Stdout == nil {
		opts.Stdout = &bytes.Buffer{}
	}
	if opts.Stderr == nil {
		opts.Stderr = &bytes.Buffer{}
	}
	p, err := vm.NewProc(prog, opts)
	if err != nil {
		t.Fatalf("NewProc error: %v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	return p
}

func runRecord(t *testing.T, p *vm.Proc, input string) vm.Status {
	t.Helper()
	if err := p.SetupRun([]byte(input), nil); err != nil {
		t.Fatalf("SetupRun error: %v", err)
	}
	return p.Run()
}

func equalLines(t *testing.T, what string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %q, want %q", what, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d] = %q, want %q", what, i, got[i], want[i])
		}
	}
}

const countingSrc = `
	total: table sum of int;
	byword: table sum[string] of int;
	emit total <- len(input);
	emit byword[string(input)] <- 1;`

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestSetupRunRequiresInitialize(t *testing.T) {
	prog, err := compiler.Compile("test.szl", "x := 1;", compiler.Options{})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	p, err := vm.NewProc(prog, vm.Options{})
	if err != nil {
		t.Fatalf("NewProc error: %v", err)
	}
	if err := p.SetupRun(nil, nil); !errors.Is(err, vm.ErrNotInitialized) {
		t.Errorf("SetupRun before Initialize = %v, want ErrNotInitialized", err)
	}
}

func TestExecuteSuspends(t *testing.T) {
	p := start(t, "i := 0; while (i < 1000) i++;", vm.Options{})
	if err := p.SetupRun(nil, nil); err != nil {
		t.Fatalf("SetupRun error: %v", err)
	}
	if st := p.Execute(10); st != vm.Suspended {
		t.Fatalf("Execute(10) = %v, want SUSPENDED", st)
	}
	before := p.Steps()
	if before == 0 {
		t.Errorf("Steps = 0 after a suspended slice")
	}
	if st := p.Execute(0); st != vm.Suspended || p.Steps() != before {
		t.Errorf("Execute(0) = %v with %d steps, want SUSPENDED with %d", st, p.Steps(), before)
	}
	if st := p.Run(); st != vm.Terminated {
		t.Errorf("Run = %v, want TERMINATED", st)
	}
	if st := p.Execute(10); st != vm.Terminated {
		t.Errorf("Execute after termination = %v, want TERMINATED", st)
	}
}

func TestStatusString(t *testing.T) {
	if vm.Trapped.String() != "TRAPPED" || vm.Status(9).String() != "Status(9)" {
		t.Errorf("Status names = %s, %s", vm.Trapped, vm.Status(9))
	}
	if !vm.Trapped.Done() || vm.Failed.Done() || vm.Suspended.Done() {
		t.Errorf("Done is wrong for TRAPPED, FAILED or SUSPENDED")
	}
}

func TestFailureStackTrace(t *testing.T) {
	var errOut bytes.Buffer
	p := start(t, "f: function(a: array of int): int { return a[5]; };\nx := f({1});\n",
		vm.Options{Stderr: &errOut, IgnoreUndefs: false})
	if st := runRecord(t, p, ""); st != vm.Failed {
		t.Fatalf("status = %v, want FAILED", st)
	}
	if !strings.Contains(p.TrapInfo(), "index out of bounds") {
		t.Errorf("TrapInfo = %q, want index out of bounds", p.TrapInfo())
	}
	got := errOut.String()
	for _, want := range []string{"szl: index out of bounds", "#0 f at test.szl:1", "#1 $main at test.szl:2"} {
		if !strings.Contains(got, want) {
			t.Errorf("stderr lacks %q:\n%s", want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Tables
// ---------------------------------------------------------------------------

func TestFlushAndMerge(t *testing.T) {
	a := start(t, countingSrc, vm.Options{})
	b := start(t, countingSrc, vm.Options{})
	if st := runRecord(t, a, "abc"); st != vm.Terminated {
		t.Fatalf("a: status = %v (%s)", st, a.TrapInfo())
	}
	if st := runRecord(t, b, "xy"); st != vm.Terminated {
		t.Fatalf("b: status = %v (%s)", st, b.TrapInfo())
	}

	states := a.Flush()
	if len(states) != 2 || states[0].Name != "total" || states[1].Name != "byword" {
		t.Fatalf("Flush returned %d tables", len(states))
	}
	for _, st := range states {
		for _, e := range st.Entries {
			if err := b.Merge(st.Name, e.Key, e.Payload); err != nil {
				t.Fatalf("Merge(%s) error: %v", st.Name, err)
			}
		}
	}

	lines, err := b.Display()
	if err != nil {
		t.Fatalf("Display error: %v", err)
	}
	equalLines(t, "Display", lines, []string{"total[] = 5", "byword[abc] = 1", "byword[xy] = 1"})

	if lines, _ := a.Display(); len(lines) != 0 {
		t.Errorf("Display after Flush = %q, want nothing", lines)
	}
	if n := a.Output("total").TotElems(); n != 0 {
		t.Errorf("TotElems after Flush = %d, want 0", n)
	}
}

func TestMergeErrors(t *testing.T) {
	p := start(t, countingSrc, vm.Options{})
	if err := p.Merge("missing", nil, nil); !errors.Is(err, vm.ErrUnknownTable) {
		t.Errorf("Merge(missing) = %v, want ErrUnknownTable", err)
	}
	if err := p.Merge("stdout", nil, nil); !errors.Is(err, vm.ErrUnknownTable) {
		t.Errorf("Merge(stdout) = %v, want ErrUnknownTable", err)
	}
	if err := p.Merge("total", nil, []byte{0xFF, 0xFF}); !errors.Is(err, emitter.ErrMerge) {
		t.Errorf("Merge(garbage) = %v, want ErrMerge", err)
	}
}

func TestFailedMergeLeavesTableUnchanged(t *testing.T) {
	const src = `
		u: table unique(10)[string] of string;
		emit u[string(input)] <- string(input);`
	a := start(t, src, vm.Options{})
	b := start(t, src, vm.Options{})
	runRecord(t, a, "a")
	runRecord(t, b, "zz")
	peer := b.Flush()[0].Entries[0]

	before, _ := a.Display()
	equalLines(t, "Display", before, []string{"u[a] = 1"})
	for _, payload := range [][]byte{{0xFF, 0x01}, {0xFF, 0xFF}} {
		if err := a.Merge("u", peer.Key, payload); !errors.Is(err, emitter.ErrMerge) {
			t.Errorf("Merge(%x) = %v, want ErrMerge", payload, err)
		}
		after, _ := a.Display()
		equalLines(t, "Display after failed merge", after, before)
	}

	if err := a.Merge("u", peer.Key, peer.Payload); err != nil {
		t.Fatalf("Merge error: %v", err)
	}
	after, _ := a.Display()
	equalLines(t, "Display", after, []string{"u[a] = 1", "u[zz] = 1"})
}

type recorder struct {
	tables []string
	elems  [][]byte
}

func (r *recorder) Emit(table string, key, elem, weight []byte) error {
	r.tables = append(r.tables, table)
	r.elems = append(r.elems, elem)
	return nil
}

func TestRegisterEmitter(t *testing.T) {
	p := start(t, countingSrc, vm.Options{})
	rec := &recorder{}
	if err := p.RegisterEmitter("byword", rec); err != nil {
		t.Fatalf("RegisterEmitter error: %v", err)
	}
	for _, name := range []string{"stdout", "missing"} {
		if err := p.RegisterEmitter(name, rec); !errors.Is(err, vm.ErrUnknownTable) {
			t.Errorf("RegisterEmitter(%s) = %v, want ErrUnknownTable", name, err)
		}
	}

	for _, in := range []string{"a", "bb"} {
		if st := runRecord(t, p, in); st != vm.Terminated {
			t.Fatalf("status = %v (%s)", st, p.TrapInfo())
		}
	}
	if len(rec.tables) != 2 || rec.tables[0] != "byword" {
		t.Errorf("recorded tables = %q, want two byword emits", rec.tables)
	}

	states := p.Flush()
	if len(states) != 1 || states[0].Name != "total" {
		t.Errorf("Flush returned %d tables, want only total", len(states))
	}
}

// ---------------------------------------------------------------------------
// Additional inputs
// ---------------------------------------------------------------------------

func TestAdditionalInputs(t *testing.T) {
	var out bytes.Buffer
	p := start(t, `
		lockadditionalinput();
		emit stdout <- string(getadditionalinput("k"));`, vm.Options{Stdout: &out, IgnoreUndefs: true})
	p.AddInput("k", []byte("v1"))
	if st := runRecord(t, p, ""); st != vm.Terminated {
		t.Fatalf("status = %v (%s)", st, p.TrapInfo())
	}
	if !p.InputsLocked() {
		t.Fatalf("InputsLocked = false after lockadditionalinput")
	}

	p.AddInput("k", []byte("v2"))
	if st := runRecord(t, p, ""); st != vm.Terminated {
		t.Fatalf("status = %v (%s)", st, p.TrapInfo())
	}
	if got := out.String(); got != "v1\nv1\n" {
		t.Errorf("output = %q, want the locked input twice", got)
	}

	p.ClearInputs()
	if st := runRecord(t, p, ""); st != vm.Trapped {
		t.Fatalf("status after ClearInputs = %v, want TRAPPED", st)
	}
	if !p.InputsLocked() {
		t.Error("ClearInputs released the lock")
	}
	p.AddInput("k", []byte("v3"))
	if st := runRecord(t, p, ""); st != vm.Trapped {
		t.Errorf("AddInput after lock took effect: status = %v", st)
	}
	if got := out.String(); got != "v1\nv1\n" {
		t.Errorf("output = %q, want nothing after ClearInputs", got)
	}
}

func TestMissingAdditionalInputTraps(t *testing.T) {
	p := start(t, `x := getadditionalinput("absent");`, vm.Options{IgnoreUndefs: true})
	if st := runRecord(t, p, ""); st != vm.Trapped {
		t.Fatalf("status = %v, want TRAPPED", st)
	}
	if !strings.Contains(p.TrapInfo(), "no additional input named absent") {
		t.Errorf("TrapInfo = %q", p.TrapInfo())
	}
}

// ---------------------------------------------------------------------------
// Debugger and profiler
// ---------------------------------------------------------------------------

func TestDebugger(t *testing.T) {
	var out bytes.Buffer
	p := start(t, "x := 1;\nx = x + 1;\ny := x * 2;\nemit stdout <- format(\"%d\", y);\n",
		vm.Options{Stdout: &out})
	if err := p.SetupRun(nil, nil); err != nil {
		t.Fatalf("SetupRun error: %v", err)
	}

	d := vm.NewDebugger(p)
	d.SetBreakpoint(5)
	d.SetBreakpoint(3)
	d.RemoveBreakpoint(5)
	if bps := d.Breakpoints(); len(bps) != 1 || bps[0] != 3 {
		t.Errorf("Breakpoints = %v, want [3]", bps)
	}

	if st := d.Continue(); st != vm.Suspended {
		t.Fatalf("Continue = %v, want SUSPENDED at the breakpoint", st)
	}
	if d.CurrentLineNumber() != 3 || d.CurrentFunctionName() != "$main" || d.CurrentFileName() != "test.szl" {
		t.Errorf("stopped at %s:%d in %s, want test.szl:3 in $main",
			d.CurrentFileName(), d.CurrentLineNumber(), d.CurrentFunctionName())
	}

	vars, err := d.Variables(0)
	if err != nil {
		t.Fatalf("Variables error: %v", err)
	}
	values := make(map[string]string)
	for _, v := range vars {
		values[v.Name] = v.Type + " " + v.Value
	}
	if values["x"] != "int 2" || values["y"] != "int undefined" {
		t.Errorf("Variables = %v, want x = 2 and y undefined", values)
	}
	if _, err := d.Variables(1); err == nil {
		t.Errorf("Variables(1) succeeded with a single frame")
	}

	if st := d.Continue(); st != vm.Terminated {
		t.Fatalf("Continue = %v, want TERMINATED", st)
	}
	if out.String() != "4\n" {
		t.Errorf("output = %q, want %q", out.String(), "4\n")
	}
}

func TestProcProfiling(t *testing.T) {
	p := start(t, "i := 0; while (i < 5000) i++;", vm.Options{Profile: true, ProfileInterval: 10})
	if st := runRecord(t, p, ""); st != vm.Terminated {
		t.Fatalf("status = %v", st)
	}
	prof := p.Profiler()
	if prof == nil {
		t.Fatalf("Profiler = nil with profiling on")
	}
	if prof.Stats().TotalSamples == 0 {
		t.Errorf("no samples recorded")
	}
	if top := prof.TopFunctions(1); len(top) != 1 || top[0].Name != "$main" {
		t.Errorf("TopFunctions(1) = %v, want $main", top)
	}
}

func TestProfiler(t *testing.T) {
	prof := vm.NewProfiler()
	prof.RecordSample("f", 1)
	prof.RecordSample("f", 1)
	prof.RecordSample("f", 2)
	prof.RecordSample("g", 7)

	if st := prof.Stats(); st.Functions != 2 || st.TotalSamples != 4 {
		t.Errorf("Stats = %+v, want 2 functions and 4 samples", st)
	}
	top := prof.TopFunctions(5)
	if len(top) != 2 || top[0] != (vm.FunctionSamples{Name: "f", Samples: 3}) || top[1].Name != "g" {
		t.Errorf("TopFunctions = %v", top)
	}
	if lines := prof.Function("f").Lines(); lines[1] != 2 || lines[2] != 1 {
		t.Errorf("f lines = %v, want 1:2 2:1", lines)
	}
	if prof.Function("h") != nil {
		t.Errorf("Function(h) != nil")
	}

	prof.Reset()
	if st := prof.Stats(); st.Functions != 0 || st.TotalSamples != 0 {
		t.Errorf("Stats after Reset = %+v", st)
	}
}
