package syntax

import (
	"fmt"

	"github.com/google/szl-sub002/types"
)

// ParseType resolves a type written in szl syntax, such as the String form
// of a *types.Type. Output table types are validated like declarations.
func ParseType(src string) (*types.Type, error) {
	const name = "typ"
	prog, err := Parse("<type>", name+": "+src+";")
	if err != nil {
		return nil, err
	}
	if err := Check(prog); err != nil {
		return nil, err
	}
	for _, d := range prog.Tables {
		if d.Name == name {
			return d.T, nil
		}
	}
	for _, d := range prog.Globals {
		if d.Name == name {
			return d.T, nil
		}
	}
	return nil, fmt.Errorf("%q is not a type", src)
}
