package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const wordProg = `
words: table sum[string] of int;
total: table sum of int;
emit words[string(input)] <- 1;
emit total <- 1;
`

// project creates a directory holding szl.toml, the program and the
// given input files.
func project(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files["szl.toml"] = manifest
	if _, ok := files["words.szl"]; !ok {
		files["words.szl"] = wordProg
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	return dir
}

// runCLI runs the CLI and returns its exit code and output.
func runCLI(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(append([]string{"-C", dir}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func at(dir, name string) string { return filepath.Join(dir, name) }

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestRunDisplaysTables(t *testing.T) {
	dir := project(t, "", map[string]string{"in.txt": "b\na\nb\n"})
	code, out, errOut := runCLI(t, dir, "run", at(dir, "words.szl"), at(dir, "in.txt"))
	if code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, errOut)
	}
	want := "words[a] = 1\nwords[b] = 2\ntotal[] = 3\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRunCompileError(t *testing.T) {
	dir := project(t, "", map[string]string{"bad.szl": "x: int = nosuch;\n"})
	code, _, errOut := runCLI(t, dir, "run", at(dir, "bad.szl"))
	if code != exitCompile {
		t.Errorf("exit = %d, want %d", code, exitCompile)
	}
	if !strings.Contains(errOut, "error: ") || !strings.Contains(errOut, "undefined: nosuch") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRunFailureExitCode(t *testing.T) {
	dir := project(t, "[runtime]\nignore_undefs = false\n", map[string]string{
		"fail.szl": "a: array of int = {1};\nx := a[len(input)];\n",
		"in.txt":   "\nxyz\n",
	})
	code, _, errOut := runCLI(t, dir, "run", at(dir, "fail.szl"), at(dir, "in.txt"))
	if code != exitRuntime {
		t.Errorf("exit = %d, want %d", code, exitRuntime)
	}
	if !strings.Contains(errOut, "in.txt:2: ") || strings.Contains(errOut, "in.txt:1: ") {
		t.Errorf("stderr should report record 2 only:\n%s", errOut)
	}
}

func TestRunDisassemble(t *testing.T) {
	dir := project(t, "", map[string]string{})
	code, out, _ := runCLI(t, dir, "run", "-d", at(dir, "words.szl"))
	if code != exitOK || !strings.Contains(out, "EMIT") {
		t.Errorf("exit = %d, output:\n%s", code, out)
	}
}

func TestUsage(t *testing.T) {
	dir := project(t, "", map[string]string{})
	if code, _, errOut := runCLI(t, dir); code != exitCompile || !strings.Contains(errOut, "Usage: szl") {
		t.Errorf("no command: exit = %d, stderr = %q", code, errOut)
	}
	if code, _, errOut := runCLI(t, dir, "frobnicate"); code != exitCompile || !strings.Contains(errOut, "unknown command") {
		t.Errorf("bad command: exit = %d, stderr = %q", code, errOut)
	}
}

func TestBadManifest(t *testing.T) {
	dir := project(t, "[runtime]\nbogus = 1\n", map[string]string{})
	if code, _, errOut := runCLI(t, dir, "run", at(dir, "words.szl")); code != exitCompile || !strings.Contains(errOut, "unknown key") {
		t.Errorf("exit = %d, stderr = %q", code, errOut)
	}
}

// ---------------------------------------------------------------------------
// Shards
// ---------------------------------------------------------------------------

func TestShardsMergeAndDisplay(t *testing.T) {
	dir := project(t, "", map[string]string{"a.txt": "x\ny\n", "b.txt": "x\n"})
	for _, name := range []string{"a", "b"} {
		code, _, errOut := runCLI(t, dir, "run", "-o", at(dir, name+".shard"), at(dir, "words.szl"), at(dir, name+".txt"))
		if code != exitOK {
			t.Fatalf("run %s: exit = %d\n%s", name, code, errOut)
		}
	}

	code, _, errOut := runCLI(t, dir, "merge", "-o", at(dir, "all.shard"), at(dir, "a.shard"), at(dir, "b.shard"))
	if code != exitOK {
		t.Fatalf("merge: exit = %d\n%s", code, errOut)
	}

	code, out, _ := runCLI(t, dir, "display", at(dir, "all.shard"))
	want := "words[x] = 2\nwords[y] = 1\ntotal[] = 3\n"
	if code != exitOK || out != want {
		t.Errorf("display: exit = %d, output = %q, want %q", code, out, want)
	}

	code, out, _ = runCLI(t, dir, "display", "-format", "yaml", at(dir, "a.shard"), at(dir, "b.shard"))
	if code != exitOK {
		t.Fatalf("display yaml: exit = %d", code)
	}
	var docs []yamlTable
	dec := yaml.NewDecoder(strings.NewReader(out))
	for {
		var doc yamlTable
		if err := dec.Decode(&doc); err != nil {
			break
		}
		docs = append(docs, doc)
	}
	if len(docs) != 2 || docs[0].Table != "words" || docs[0].Type != "table sum[string] of int" {
		t.Fatalf("yaml documents = %+v", docs)
	}
	if len(docs[0].Rows) != 2 || docs[0].Rows[0] != (yamlRow{Index: "[x]", Value: "2"}) {
		t.Errorf("words rows = %+v", docs[0].Rows)
	}
}

func TestDisplayErrors(t *testing.T) {
	dir := project(t, "", map[string]string{"junk.shard": "not cbor"})
	if code, _, _ := runCLI(t, dir, "display", at(dir, "junk.shard")); code != exitCompile {
		t.Errorf("junk shard: exit = %d, want %d", code, exitCompile)
	}
	if code, _, _ := runCLI(t, dir, "display", "-format", "xml", at(dir, "junk.shard")); code != exitCompile {
		t.Errorf("bad format: exit = %d, want %d", code, exitCompile)
	}
	if code, _, _ := runCLI(t, dir, "merge", at(dir, "junk.shard")); code != exitCompile {
		t.Errorf("merge without -o: exit = %d, want %d", code, exitCompile)
	}
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func TestStore(t *testing.T) {
	dir := project(t, "[store]\npath = \"data/tables.db\"\n", map[string]string{"in.txt": "p\nq\np\n"})
	prog := at(dir, "words.szl")
	in := at(dir, "in.txt")

	if code, _, errOut := runCLI(t, dir, "run", "-store", prog, in); code != exitOK {
		t.Fatalf("run -store: exit = %d\n%s", code, errOut)
	}
	if code, _, errOut := runCLI(t, dir, "run", "-o", at(dir, "one.shard"), prog, in); code != exitOK {
		t.Fatalf("run -o: exit = %d\n%s", code, errOut)
	}
	if code, _, errOut := runCLI(t, dir, "store", "put", at(dir, "one.shard")); code != exitOK {
		t.Fatalf("store put: exit = %d\n%s", code, errOut)
	}
	if _, err := os.Stat(at(dir, "data/tables.db")); err != nil {
		t.Errorf("store not created at [store].path: %v", err)
	}

	code, out, _ := runCLI(t, dir, "store", "show")
	want := "total[] = 6\nwords[p] = 4\nwords[q] = 2\n"
	if code != exitOK || out != want {
		t.Errorf("store show: exit = %d, output = %q, want %q", code, out, want)
	}
	code, out, _ = runCLI(t, dir, "store", "show", "total")
	if code != exitOK || out != "total[] = 6\n" {
		t.Errorf("store show total: exit = %d, output = %q", code, out)
	}

	if code, _, _ := runCLI(t, dir, "store", "drop", "total"); code != exitOK {
		t.Errorf("store drop: exit = %d", code)
	}
	if code, _, errOut := runCLI(t, dir, "store", "show", "total"); code != exitRuntime || !strings.Contains(errOut, "table not found") {
		t.Errorf("show dropped table: exit = %d, stderr = %q", code, errOut)
	}
	if code, _, _ := runCLI(t, dir, "store", "frob"); code != exitCompile {
		t.Errorf("unknown store subcommand: exit = %d", code)
	}
}
