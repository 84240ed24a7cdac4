// Package manifest handles szl.toml run configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "szl.toml"

// Manifest represents a szl.toml configuration.
type Manifest struct {
	Runtime Runtime           `toml:"runtime"`
	Profile Profile           `toml:"profile"`
	Tables  Tables            `toml:"tables"`
	Store   Store             `toml:"store"`
	Log     Log               `toml:"log"`
	Inputs  map[string]string `toml:"inputs"` // additional input name -> file

	// Dir is the directory containing the szl.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures the interpreter.
type Runtime struct {
	StackSize    int    `toml:"stack_size"`
	CycleBudget  int    `toml:"cycle_budget"`
	GCThreshold  int    `toml:"gc_threshold"`
	IgnoreUndefs bool   `toml:"ignore_undefs"`
	VerifySP     bool   `toml:"verify_sp"`
	LineCounts   bool   `toml:"line_counts"`
	Timezone     string `toml:"timezone"`
}

// Profile configures the sampling profiler.
type Profile struct {
	Enabled  bool `toml:"enabled"`
	Interval int  `toml:"interval"`
}

// Tables configures the aggregators.
type Tables struct {
	Seed               int64 `toml:"seed"`
	FastWeightedSample bool  `toml:"fast_weighted_sample"`
}

// Store configures the table store.
type Store struct {
	Path string `toml:"path"`
}

// Log configures the log backend.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no szl.toml is present.
func Default() *Manifest {
	m := &Manifest{}
	m.Runtime.IgnoreUndefs = true
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Runtime.StackSize <= 0 {
		m.Runtime.StackSize = 1 << 16
	}
	if m.Runtime.CycleBudget <= 0 {
		m.Runtime.CycleBudget = 1 << 20
	}
	if m.Runtime.GCThreshold <= 0 {
		m.Runtime.GCThreshold = 1 << 20
	}
	if m.Runtime.Timezone == "" {
		m.Runtime.Timezone = "UTC"
	}
	if m.Profile.Interval <= 0 {
		m.Profile.Interval = 1000
	}
	if m.Tables.Seed == 0 {
		m.Tables.Seed = 1
	}
	if m.Store.Path == "" {
		m.Store.Path = "szl.db"
	}
}

// Load parses a szl.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse error in %s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if !md.IsDefined("runtime", "ignore_undefs") {
		m.Runtime.IgnoreUndefs = true
	}
	m.applyDefaults()
	if _, err := m.Location(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a szl.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Location returns the time zone used to format and parse times.
func (m *Manifest) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(m.Runtime.Timezone)
	if err != nil {
		return nil, fmt.Errorf("bad timezone %q: %w", m.Runtime.Timezone, err)
	}
	return loc, nil
}

// StorePath returns the table store path, resolved against Dir.
func (m *Manifest) StorePath() string {
	return m.resolve(m.Store.Path)
}

// LogPath returns the log file path resolved against Dir, or "" for stderr.
func (m *Manifest) LogPath() string {
	if m.Log.Path == "" {
		return ""
	}
	return m.resolve(m.Log.Path)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
