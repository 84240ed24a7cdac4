package manifest

import (
	"errors"
	"fmt"
	"os"
	"sort"
)

// ErrInputNotFound is returned when a declared additional input is missing.
var ErrInputNotFound = errors.New("additional input not found")

// Input is a resolved additional input.
type Input struct {
	Name string
	Path string // absolute path of the file
	Data []byte
}

// InputNames returns the declared input names in sorted order.
func (m *Manifest) InputNames() []string {
	names := make([]string, 0, len(m.Inputs))
	for name := range m.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveInputs reads every file declared in [inputs], relative paths being
// resolved against the manifest directory. Inputs are returned sorted by
// name.
func (m *Manifest) ResolveInputs() ([]Input, error) {
	var inputs []Input
	for _, name := range m.InputNames() {
		path := m.resolve(m.Inputs[name])
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("input %q: %w at %s", name, ErrInputNotFound, path)
			}
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs = append(inputs, Input{Name: name, Path: path, Data: data})
	}
	return inputs, nil
}
