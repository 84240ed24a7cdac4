package szl_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/google/szl-sub002/manifest"
	"github.com/google/szl-sub002/syntax"
	"github.com/google/szl-sub002/szl"
	"github.com/google/szl-sub002/vm"
)

func testOptions(stdout, stderr *bytes.Buffer) szl.Options {
	opts := szl.DefaultOptions()
	opts.VM.Stdout = stdout
	opts.VM.Stderr = stderr
	return opts
}

func newProcess(t *testing.T, src string, opts szl.Options, handler szl.ErrorHandler) *szl.Process {
	t.Helper()
	exe := szl.NewExecutable("test.szl", src, opts, nil)
	if !exe.IsExecutable() {
		t.Fatalf("compile: %v", exe.Err())
	}
	p, err := szl.NewProcess(exe, handler)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
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

// ---------------------------------------------------------------------------
// Executable
// ---------------------------------------------------------------------------

func TestCompileErrorsReachHandler(t *testing.T) {
	var got []error
	exe := szl.NewExecutable("bad.szl", "x: int = \"a\";\ny := nosuch;\n", szl.DefaultOptions(),
		func(err error) { got = append(got, err) })

	if exe.IsExecutable() || exe.Program() != nil {
		t.Fatal("program with errors is executable")
	}
	if len(got) < 2 {
		t.Fatalf("handler saw %d errors, want at least 2: %v", len(got), got)
	}
	var se *syntax.Error
	if !errors.As(got[0], &se) || se.Pos.Line != 1 || se.File != "bad.szl" {
		t.Errorf("first error = %v, want a syntax.Error on bad.szl line 1", got[0])
	}
	if last := got[len(got)-1]; !strings.Contains(last.Error(), "undefined: nosuch") {
		t.Errorf("last error = %v, want undefined: nosuch", last)
	}
	if exe.Err() == nil {
		t.Error("Err() = nil")
	}

	if _, err := szl.NewProcess(exe, nil); !errors.Is(err, szl.ErrNotExecutable) {
		t.Errorf("NewProcess = %v, want ErrNotExecutable", err)
	}
	if exe.Disassemble() != "" {
		t.Error("Disassemble of a failed compile is not empty")
	}
}

func TestDisassemble(t *testing.T) {
	exe := szl.NewExecutable("d.szl", "f: function(): int { return 1; };\nx := f();\n", szl.DefaultOptions(), nil)
	if !exe.IsExecutable() {
		t.Fatal(exe.Err())
	}
	got := exe.Disassemble()
	for _, want := range []string{"; d.szl", "; func $main at", "; func f at", "STOP"} {
		if !strings.Contains(got, want) {
			t.Errorf("Disassemble lacks %q:\n%s", want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Process
// ---------------------------------------------------------------------------

const wordSrc = `
	words: table sum[string] of int;
	emit words[lowercase(string(input))] <- 1;`

func TestProcessRoundTrip(t *testing.T) {
	var out, errOut bytes.Buffer
	a := newProcess(t, wordSrc, testOptions(&out, &errOut), nil)
	b := newProcess(t, wordSrc, testOptions(&out, &errOut), nil)
	if a.ID() == b.ID() {
		t.Error("processes share an ID")
	}
	for _, w := range []string{"Go", "go", "Sawzall"} {
		if st, err := a.RunRecord([]byte(w), nil); err != nil || st != vm.Terminated {
			t.Fatalf("RunRecord(%s) = %v, %v", w, st, err)
		}
	}
	if st, err := b.RunRecord([]byte("GO"), nil); err != nil || st != vm.Terminated {
		t.Fatalf("RunRecord = %v, %v", st, err)
	}

	sh := a.Shard()
	if sh.Procs[0] != a.ID().String() || sh.Source != "test.szl" {
		t.Errorf("shard header = %v %s", sh.Procs, sh.Source)
	}
	if err := b.MergeShard(sh); err != nil {
		t.Fatalf("MergeShard: %v", err)
	}
	lines, err := b.Display()
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Display", lines, []string{"words[go] = 3", "words[sawzall] = 1"})

	if lines, _ := a.Display(); len(lines) != 0 {
		t.Errorf("Display after Shard = %q, want nothing", lines)
	}
}

func TestRunFailureReachesHandler(t *testing.T) {
	var out, errOut bytes.Buffer
	opts := testOptions(&out, &errOut)
	opts.VM.IgnoreUndefs = false

	var got []error
	p := newProcess(t, "a: array of int = {1};\nx := a[3];\n", opts, func(err error) { got = append(got, err) })
	if st, _ := p.RunRecord(nil, nil); st != vm.Failed {
		t.Fatalf("status = %v, want FAILED", st)
	}
	var re *szl.RunError
	if len(got) != 1 || !errors.As(got[0], &re) {
		t.Fatalf("handler saw %v, want one RunError", got)
	}
	if re.Process != p.ID() || !strings.Contains(re.Info, "index out of bounds") {
		t.Errorf("RunError = %+v", re)
	}
	if p.Status() != vm.Failed || p.TrapInfo() != re.Info {
		t.Errorf("Status, TrapInfo = %v, %q", p.Status(), p.TrapInfo())
	}
}

func TestExecuteZeroSuspends(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newProcess(t, wordSrc, testOptions(&out, &errOut), nil)
	if err := p.SetupRun([]byte("x"), nil); err != nil {
		t.Fatal(err)
	}
	if st := p.Execute(0); st != vm.Suspended {
		t.Errorf("Execute(0) = %v, want SUSPENDED", st)
	}
	if st := p.Run(); st != vm.Terminated {
		t.Errorf("Run = %v, want TERMINATED", st)
	}
}

type recorder struct{ keys []string }

func (r *recorder) Emit(table string, key, elem, weight []byte) error {
	r.keys = append(r.keys, table)
	return nil
}

func TestRegisterEmitterSkipsShard(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newProcess(t, wordSrc, testOptions(&out, &errOut), nil)
	rec := &recorder{}
	if err := p.RegisterEmitter("words", rec); err != nil {
		t.Fatal(err)
	}
	if _, err := p.RunRecord([]byte("a"), nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.keys) != 1 || rec.keys[0] != "words" {
		t.Errorf("recorded %v, want [words]", rec.keys)
	}
	if sh := p.Shard(); len(sh.Tables) != 0 {
		t.Errorf("shard has %d tables, want 0", len(sh.Tables))
	}
}

// ---------------------------------------------------------------------------
// Conversions through the protocol buffer converter
// ---------------------------------------------------------------------------

const pairSrc = `
	type Pair = {key: string @ 1, value: int @ 2};
	sums: table sum[string] of int;
	p: Pair = Pair(input);
	emit sums[p.key] <- p.value;
	emit stdout <- string(len(bytes(p)));`

func pair(key string, value int64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(value))
	return b
}

func TestProtoConversion(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newProcess(t, pairSrc, testOptions(&out, &errOut), nil)
	for _, rec := range [][]byte{pair("a", 2), pair("b", 5), pair("a", 3)} {
		if st, err := p.RunRecord(rec, nil); err != nil || st != vm.Terminated {
			t.Fatalf("RunRecord = %v, %v (%s)", st, err, p.TrapInfo())
		}
	}
	lines, err := p.Display()
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Display", lines, []string{"sums[a] = 5", "sums[b] = 5"})
	if got := out.String(); got != "5\n5\n5\n" {
		t.Errorf("output = %q, want the re-encoded length three times", got)
	}

	if st, _ := p.RunRecord([]byte{0xff}, nil); st != vm.Trapped {
		t.Errorf("malformed record: status = %v, want TRAPPED", st)
	}
}

// ---------------------------------------------------------------------------
// Manifest
// ---------------------------------------------------------------------------

func TestOptionsFromManifest(t *testing.T) {
	dir := t.TempDir()
	content := `
[runtime]
cycle_budget = 100
ignore_undefs = false
line_counts = true
timezone = "Europe/Paris"

[profile]
enabled = true

[tables]
seed = 9

[inputs]
greeting = "hello.txt"
`
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("bonjour"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := szl.OptionsFromManifest(m)
	if err != nil {
		t.Fatal(err)
	}
	if opts.VM.CycleBudget != 100 || opts.VM.IgnoreUndefs || !opts.VM.Profile || opts.VM.Seed != 9 {
		t.Errorf("VM options = %+v", opts.VM)
	}
	if !opts.Compiler.LineCounts || opts.VM.Location.String() != "Europe/Paris" {
		t.Errorf("LineCounts = %v, Location = %v", opts.Compiler.LineCounts, opts.VM.Location)
	}
	if opts.VM.Converter == nil {
		t.Error("no converter configured")
	}

	var out, errOut bytes.Buffer
	opts.VM.Stdout, opts.VM.Stderr = &out, &errOut
	p := newProcess(t, `emit stdout <- string(getadditionalinput("greeting"));`, opts, nil)
	if err := p.AddInputs(m); err != nil {
		t.Fatal(err)
	}
	if st, _ := p.RunRecord(nil, nil); st != vm.Terminated {
		t.Fatalf("status = %v (%s)", st, p.TrapInfo())
	}
	if out.String() != "bonjour\n" {
		t.Errorf("output = %q, want bonjour", out.String())
	}
}
