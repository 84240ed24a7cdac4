package szl

import (
	"github.com/google/szl-sub002/compiler"
	"github.com/google/szl-sub002/convert"
	"github.com/google/szl-sub002/manifest"
	"github.com/google/szl-sub002/vm"
)

// Options configures compilation and the processes created from an
// Executable.
type Options struct {
	Compiler compiler.Options
	VM       vm.Options
}

// DefaultOptions returns the options used without a szl.toml.
func DefaultOptions() Options {
	opts := Options{VM: vm.DefaultOptions()}
	opts.VM.Converter = convert.New()
	return opts
}

// OptionsFromManifest builds options from a loaded szl.toml.
func OptionsFromManifest(m *manifest.Manifest) (Options, error) {
	loc, err := m.Location()
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.Compiler.LineCounts = m.Runtime.LineCounts
	opts.Compiler.VerifySP = m.Runtime.VerifySP
	opts.VM.StackSize = m.Runtime.StackSize
	opts.VM.CycleBudget = m.Runtime.CycleBudget
	opts.VM.GCThreshold = m.Runtime.GCThreshold
	opts.VM.IgnoreUndefs = m.Runtime.IgnoreUndefs
	opts.VM.Location = loc
	opts.VM.Profile = m.Profile.Enabled
	opts.VM.ProfileInterval = m.Profile.Interval
	opts.VM.Seed = m.Tables.Seed
	opts.VM.FastWeightedSample = m.Tables.FastWeightedSample
	return opts, nil
}
