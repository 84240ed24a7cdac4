package tablestore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/shard"
	"github.com/google/szl-sub002/syntax"
)

const wordsType = "table sum[string] of int"

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "tables.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func encString(s string) []byte {
	e := codec.NewEncoder()
	e.PutString(s)
	return e.Bytes()
}

func encInt(i int64) []byte {
	e := codec.NewEncoder()
	e.PutInt(i)
	return e.Bytes()
}

// wordCounts builds a shard with one table counting the given words.
func wordCounts(t *testing.T, words ...string) *shard.Shard {
	t.Helper()
	typ, err := syntax.ParseType(wordsType)
	if err != nil {
		t.Fatal(err)
	}
	w, err := emitter.NewWriter("words", typ, emitter.Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	entries := make(map[string]emitter.Entry)
	var order []string
	for _, word := range words {
		e, ok := entries[word]
		if !ok {
			e = w.NewEntry()
			entries[word] = e
			order = append(order, word)
		}
		e.AddElem(encInt(1))
	}
	tbl := shard.Table{Name: "words", Type: wordsType}
	for _, word := range order {
		tbl.Entries = append(tbl.Entries, shard.Entry{Key: encString(word), Payload: entries[word].Flush()})
	}
	return &shard.Shard{Version: shard.Version, Tables: []shard.Table{tbl}}
}

func display(t *testing.T, tbl *shard.Table) []string {
	t.Helper()
	lines, err := tbl.Display(time.UTC)
	if err != nil {
		t.Fatalf("Display failed: %v", err)
	}
	return lines
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
// Put
// ---------------------------------------------------------------------------

func TestPutMerges(t *testing.T) {
	s := openStore(t)
	if err := s.Put(wordCounts(t, "b", "a", "b")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(wordCounts(t, "c", "b")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	tbl, err := s.Table("words")
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	if tbl.Type != wordsType {
		t.Errorf("Type = %q, want %q", tbl.Type, wordsType)
	}
	equalLines(t, "Display", display(t, tbl), []string{
		"words[a] = 1",
		"words[b] = 3",
		"words[c] = 1",
	})
}

func TestPutPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(wordCounts(t, "x")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Put(wordCounts(t, "x")); err != nil {
		t.Fatal(err)
	}
	tbl, err := s.Table("words")
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Display", display(t, tbl), []string{"words[x] = 2"})
}

func TestPutTypeMismatch(t *testing.T) {
	s := openStore(t)
	if err := s.Put(wordCounts(t, "a")); err != nil {
		t.Fatal(err)
	}
	bad := &shard.Shard{Version: shard.Version, Tables: []shard.Table{{Name: "words", Type: "table sum[string] of float"}}}
	if err := s.Put(bad); !errors.Is(err, shard.ErrTypeMismatch) {
		t.Errorf("Put = %v, want ErrTypeMismatch", err)
	}
}

func TestPutRollsBack(t *testing.T) {
	s := openStore(t)
	sh := wordCounts(t, "a")
	sh.Tables = append(sh.Tables, shard.Table{
		Name:    "broken",
		Type:    "table sum of int",
		Entries: []shard.Entry{{Payload: []byte{0xde, 0xad}}},
	})
	if err := s.Put(sh); !errors.Is(err, emitter.ErrMerge) {
		t.Fatalf("Put = %v, want ErrMerge", err)
	}
	names, err := s.Tables()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("Tables after a failed Put = %v, want none", names)
	}
}

func TestUnindexedTable(t *testing.T) {
	s := openStore(t)
	typ, err := syntax.ParseType("table sum of int")
	if err != nil {
		t.Fatal(err)
	}
	w, err := emitter.NewWriter("total", typ, emitter.Options{Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	e := w.NewEntry()
	e.AddElem(encInt(4))
	sh := &shard.Shard{Version: shard.Version, Tables: []shard.Table{{
		Name:    "total",
		Type:    "table sum of int",
		Entries: []shard.Entry{{Payload: e.Flush()}},
	}}}
	for i := 0; i < 2; i++ {
		if err := s.Put(sh); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	tbl, err := s.Table("total")
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Display", display(t, tbl), []string{"total[] = 8"})
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestTablesAndSnapshot(t *testing.T) {
	s := openStore(t)
	sh := wordCounts(t, "a")
	sh.Tables = append(sh.Tables, shard.Table{Name: "empty", Type: "table collection of string"})
	if err := s.Put(sh); err != nil {
		t.Fatal(err)
	}

	names, err := s.Tables()
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Tables", names, []string{"empty", "words"})

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Source != s.Path() || len(snap.Tables) != 2 {
		t.Errorf("Snapshot = %s with %d tables", snap.Source, len(snap.Tables))
	}
	lines, err := snap.Display(time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	equalLines(t, "Display", lines, []string{"words[a] = 1"})
}

func TestTableNotFound(t *testing.T) {
	s := openStore(t)
	if _, err := s.Table("nope"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Table(nope) = %v, want ErrTableNotFound", err)
	}
	if err := s.Drop("nope"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Drop(nope) = %v, want ErrTableNotFound", err)
	}
}

func TestDrop(t *testing.T) {
	s := openStore(t)
	if err := s.Put(wordCounts(t, "a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := s.Drop("words"); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if _, err := s.Table("words"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Table after Drop = %v, want ErrTableNotFound", err)
	}
	// A dropped table may come back with another type.
	sh := &shard.Shard{Version: shard.Version, Tables: []shard.Table{{Name: "words", Type: "table collection of string"}}}
	if err := s.Put(sh); err != nil {
		t.Errorf("Put after Drop = %v", err)
	}
}
