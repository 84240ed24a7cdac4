package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
stack_size = 4096
cycle_budget = 500
ignore_undefs = false
verify_sp = true
line_counts = true
timezone = "America/New_York"

[profile]
enabled = true
interval = 50

[tables]
seed = 42
fast_weighted_sample = true

[store]
path = "/var/szl/tables.db"

[log]
verbosity = 2
path = "szl.log"

[inputs]
dict = "data/dict.txt"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Runtime.StackSize != 4096 || m.Runtime.CycleBudget != 500 {
		t.Errorf("runtime sizes = %d, %d, want 4096, 500", m.Runtime.StackSize, m.Runtime.CycleBudget)
	}
	if m.Runtime.IgnoreUndefs {
		t.Error("runtime ignore_undefs = true, want false")
	}
	if !m.Runtime.VerifySP || !m.Runtime.LineCounts {
		t.Error("runtime verify_sp and line_counts should be set")
	}
	if m.Runtime.GCThreshold != 1<<20 {
		t.Errorf("runtime gc_threshold = %d, want default", m.Runtime.GCThreshold)
	}
	if !m.Profile.Enabled || m.Profile.Interval != 50 {
		t.Errorf("profile = %+v, want enabled with interval 50", m.Profile)
	}
	if m.Tables.Seed != 42 || !m.Tables.FastWeightedSample {
		t.Errorf("tables = %+v", m.Tables)
	}
	if m.StorePath() != "/var/szl/tables.db" {
		t.Errorf("store path = %q, want /var/szl/tables.db", m.StorePath())
	}
	if m.Log.Verbosity != 2 || m.LogPath() != filepath.Join(m.Dir, "szl.log") {
		t.Errorf("log = %d %q", m.Log.Verbosity, m.LogPath())
	}
	loc, err := m.Location()
	if err != nil || loc.String() != "America/New_York" {
		t.Errorf("Location = %v, %v", loc, err)
	}
	if names := m.InputNames(); len(names) != 1 || names[0] != "dict" {
		t.Errorf("input names = %v, want [dict]", names)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[profile]
enabled = true
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Default()
	if m.Runtime != want.Runtime {
		t.Errorf("runtime = %+v, want %+v", m.Runtime, want.Runtime)
	}
	if !m.Runtime.IgnoreUndefs {
		t.Error("default ignore_undefs = false, want true")
	}
	if m.Profile.Interval != 1000 || m.Tables.Seed != 1 {
		t.Errorf("profile interval = %d, seed = %d", m.Profile.Interval, m.Tables.Seed)
	}
	if m.StorePath() != filepath.Join(m.Dir, "szl.db") {
		t.Errorf("store path = %q", m.StorePath())
	}
	if m.LogPath() != "" {
		t.Errorf("log path = %q, want stderr", m.LogPath())
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"[runtime\n", "parse error"},
		{"[runtime]\nstack = 1\n", "unknown key runtime.stack"},
		{"[runtime]\ntimezone = \"Mars/Olympus\"\n", "bad timezone"},
	}
	for _, tc := range tests {
		dir := t.TempDir()
		writeManifest(t, dir, tc.content)
		_, err := Load(dir)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Load(%q) = %v, want %q", tc.content, err, tc.want)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[tables]\nseed = 7\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Tables.Seed != 7 {
		t.Errorf("seed = %d, want 7", m.Tables.Seed)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no szl.toml exists")
	}
}

func TestResolveInputs(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data", "b.txt"), []byte("bee"), 0644); err != nil {
		t.Fatal(err)
	}
	abs := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(abs, []byte("ay"), 0644); err != nil {
		t.Fatal(err)
	}

	m := &Manifest{Dir: dir, Inputs: map[string]string{"b": "data/b.txt", "a": abs}}
	inputs, err := m.ResolveInputs()
	if err != nil {
		t.Fatalf("ResolveInputs failed: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(inputs))
	}
	if inputs[0].Name != "a" || string(inputs[0].Data) != "ay" {
		t.Errorf("inputs[0] = %s %q, want a \"ay\"", inputs[0].Name, inputs[0].Data)
	}
	if inputs[1].Name != "b" || string(inputs[1].Data) != "bee" || inputs[1].Path != filepath.Join(dir, "data", "b.txt") {
		t.Errorf("inputs[1] = %s %q at %s", inputs[1].Name, inputs[1].Data, inputs[1].Path)
	}

	m.Inputs["missing"] = "nope.txt"
	if _, err := m.ResolveInputs(); !errors.Is(err, ErrInputNotFound) {
		t.Errorf("ResolveInputs with a missing file = %v, want ErrInputNotFound", err)
	}
}
