// Package szl is the caller API around the compiler and interpreter: an
// Executable is a compiled program that may be shared, a Process runs it
// over records one at a time.
package szl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/google/szl-sub002/compiler"
	"github.com/google/szl-sub002/syntax"
	"github.com/google/szl-sub002/vm"
)

var log = commonlog.GetLogger("szl")

var ErrNotExecutable = errors.New("program is not executable")

// ErrorHandler receives compile errors and run failures. A nil handler
// drops them; they remain available from Err and TrapInfo.
type ErrorHandler func(err error)

// Executable is a compiled program. It is immutable and may back any
// number of processes.
type Executable struct {
	name string
	prog *vm.Program
	opts Options
	err  error
}

// NewExecutable compiles source. Each compile error is passed to handler;
// the result is then not executable.
func NewExecutable(name, source string, opts Options, handler ErrorHandler) *Executable {
	e := &Executable{name: name, opts: opts}
	prog, err := compiler.Compile(name, source, opts.Compiler)
	if err != nil {
		e.err = err
		var list syntax.ErrorList
		if errors.As(err, &list) {
			log.Infof("%s: %d compile errors", name, len(list))
			if handler != nil {
				for _, se := range list {
					handler(se)
				}
			}
		} else if handler != nil {
			handler(err)
		}
		return e
	}
	e.prog = prog
	return e
}

// Name returns the source file name.
func (e *Executable) Name() string { return e.name }

// IsExecutable reports whether compilation succeeded.
func (e *Executable) IsExecutable() bool { return e.prog != nil }

// Err returns the compile errors, or nil.
func (e *Executable) Err() error { return e.err }

// Program returns the compiled program, or nil.
func (e *Executable) Program() *vm.Program { return e.prog }

// Options returns the options the program was compiled with.
func (e *Executable) Options() Options { return e.opts }

// Disassemble lists the compiled code, one function per section.
func (e *Executable) Disassemble() string {
	if e.prog == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "; %s\n", e.name)
	for _, fn := range e.prog.Funcs {
		fmt.Fprintf(&sb, "; func %s at %04d\n", fn.Name, fn.Entry)
	}
	sb.WriteString(vm.Disassemble(e.prog.Code))
	return sb.String()
}
