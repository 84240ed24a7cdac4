package shard

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/google/szl-sub002/compiler"
	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/vm"
)

const countingSrc = `
	total: table sum of int;
	byword: table sum[string] of int;
	emit total <- len(input);
	emit byword[string(input)] <- 1;`

func runInputs(t *testing.T, inputs ...string) (*vm.Proc, []vm.TableState) {
	t.Helper()
	prog, err := compiler.Compile("count.szl", countingSrc, compiler.Options{})
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}
	p, err := vm.NewProc(prog, vm.Options{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewProc error: %v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	for _, in := range inputs {
		if err := p.SetupRun([]byte(in), nil); err != nil {
			t.Fatalf("SetupRun error: %v", err)
		}
		if st := p.Run(); st != vm.Terminated {
			t.Fatalf("Run = %v, want TERMINATED", st)
		}
	}
	return p, p.Flush()
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
// Envelope
// ---------------------------------------------------------------------------

func TestMarshalRoundTrip(t *testing.T) {
	p, states := runInputs(t, "abc", "xy")
	s := New("count.szl", p.ID, states)

	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	again, err := Marshal(s)
	if err != nil || !bytes.Equal(data, again) {
		t.Error("Marshal is not deterministic")
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.ID != s.ID || got.Source != "count.szl" || got.Created != s.Created {
		t.Errorf("header = %s %s %d, want %s count.szl %d", got.ID, got.Source, got.Created, s.ID, s.Created)
	}
	if len(got.Procs) != 1 || got.Procs[0] != p.ID.String() {
		t.Errorf("Procs = %v, want [%s]", got.Procs, p.ID)
	}
	if len(got.Tables) != 2 {
		t.Fatalf("Tables = %d, want 2", len(got.Tables))
	}
	bw := got.Table("byword")
	if bw == nil {
		t.Fatal("Table(byword) = nil")
	}
	if bw.Type != "table sum[string] of int" || len(bw.Entries) != 2 {
		t.Errorf("byword = %q with %d entries", bw.Type, len(bw.Entries))
	}
	if got.Table("nope") != nil {
		t.Error("Table(nope) != nil")
	}
}

func TestUnmarshalErrors(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil || !strings.HasPrefix(err.Error(), "shard: unmarshal") {
		t.Errorf("Unmarshal(garbage) = %v", err)
	}

	data, err := cbor.Marshal(&Shard{Version: 99, ID: uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, ErrVersion) {
		t.Errorf("Unmarshal(version 99) = %v, want ErrVersion", err)
	}
}

func TestResolveType(t *testing.T) {
	tbl := Table{Name: "best", Type: "table top(2) of string weight int"}
	typ, err := tbl.ResolveType()
	if err != nil {
		t.Fatalf("ResolveType failed: %v", err)
	}
	if typ.Table == nil || typ.Table.Kind != "top" || typ.Table.Param != 2 {
		t.Errorf("ResolveType = %s", typ)
	}

	bad := Table{Name: "x", Type: "table nosuch of int"}
	if _, err := bad.ResolveType(); err == nil || !strings.Contains(err.Error(), "table x") {
		t.Errorf("ResolveType(bad) = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Merging
// ---------------------------------------------------------------------------

func TestMergeInto(t *testing.T) {
	p1, states := runInputs(t, "abc", "xy", "xy")
	s := New("count.szl", p1.ID, states)

	p2, _ := runInputs(t, "abc")
	if err := s.MergeInto(p2); err != nil {
		t.Fatalf("MergeInto failed: %v", err)
	}
	got, err := p2.Display()
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Display", got, []string{
		"total[] = 7",
		"byword[abc] = 1",
		"byword[xy] = 2",
	})
}

type failingMerger struct{}

func (failingMerger) Merge(table string, key, payload []byte) error {
	return emitter.ErrMerge
}

func TestMergeIntoError(t *testing.T) {
	p, states := runInputs(t, "abc")
	s := New("count.szl", p.ID, states)
	err := s.MergeInto(failingMerger{})
	if !errors.Is(err, emitter.ErrMerge) || !strings.Contains(err.Error(), s.ID.String()) {
		t.Errorf("MergeInto = %v, want ErrMerge naming the shard", err)
	}
}

func TestCombine(t *testing.T) {
	p1, st1 := runInputs(t, "abc", "xy")
	p2, st2 := runInputs(t, "xy", "xy", "q")
	a := New("count.szl", p1.ID, st1)
	b := New("count.szl", p2.ID, st2)

	c, err := Combine(a, b)
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if c.Source != "count.szl" || len(c.Procs) != 2 {
		t.Errorf("combined header = %s %v", c.Source, c.Procs)
	}
	if c.ID == a.ID || c.ID == b.ID {
		t.Error("combined shard reuses an input ID")
	}

	lines, err := c.Display(time.UTC)
	if err != nil {
		t.Fatalf("Display failed: %v", err)
	}
	equalLines(t, "Display", lines, []string{
		"total[] = 10",
		"byword[abc] = 1",
		"byword[q] = 1",
		"byword[xy] = 3",
	})
}

func TestCombineTypeMismatch(t *testing.T) {
	a := &Shard{Version: Version, Tables: []Table{{Name: "t", Type: "table sum of int"}}}
	b := &Shard{Version: Version, Tables: []Table{{Name: "t", Type: "table sum of float"}}}
	if _, err := Combine(a, b); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Combine = %v, want ErrTypeMismatch", err)
	}
}

func TestCombineMalformedPayload(t *testing.T) {
	a := &Shard{Version: Version, Tables: []Table{{
		Name:    "t",
		Type:    "table sum of int",
		Entries: []Entry{{Payload: []byte{0xde, 0xad}}},
	}}}
	if _, err := Combine(a); !errors.Is(err, emitter.ErrMerge) {
		t.Errorf("Combine = %v, want ErrMerge", err)
	}
}

func TestDisplayMergesDuplicateKeys(t *testing.T) {
	p1, st1 := runInputs(t, "xy")
	p2, st2 := runInputs(t, "xy")
	s := New("count.szl", p1.ID, st1)
	other := New("count.szl", p2.ID, st2)
	bw := s.Table("byword")
	bw.Entries = append(bw.Entries, other.Table("byword").Entries...)

	lines, err := bw.Display(time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Display", lines, []string{"byword[xy] = 2"})
}
