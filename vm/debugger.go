package vm

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Debugger: line stepping and inspection for a Proc
// ---------------------------------------------------------------------------

// Debugger drives a Proc one source line at a time.
type Debugger struct {
	proc        *Proc
	breakpoints map[int]bool
}

// NewDebugger attaches a debugger to p.
func NewDebugger(p *Proc) *Debugger {
	return &Debugger{proc: p, breakpoints: make(map[int]bool)}
}

// SetBreakpoint stops Continue before the first instruction of line.
func (d *Debugger) SetBreakpoint(line int) {
	d.breakpoints[line] = true
}

// RemoveBreakpoint clears a breakpoint.
func (d *Debugger) RemoveBreakpoint(line int) {
	delete(d.breakpoints, line)
}

// Breakpoints returns the breakpoint lines in order.
func (d *Debugger) Breakpoints() []int {
	lines := make([]int, 0, len(d.breakpoints))
	for l := range d.breakpoints {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	return lines
}

// currentLine is the line of the next instruction to execute.
func (d *Debugger) currentLine() int {
	return d.proc.prog.LineAt(d.proc.pc)
}

// Step executes instructions until the source line or the frame changes,
// or the Proc stops.
func (d *Debugger) Step() Status {
	p := d.proc
	line, fp := d.currentLine(), p.fp
	for {
		st := p.Execute(1)
		if st != Suspended {
			return st
		}
		if d.currentLine() != line || p.fp != fp {
			return st
		}
	}
}

// Continue runs until a breakpoint line is reached or the Proc stops.
func (d *Debugger) Continue() Status {
	p := d.proc
	line := d.currentLine()
	for {
		st := p.Execute(1)
		if st != Suspended {
			return st
		}
		if l := d.currentLine(); l != line {
			if d.breakpoints[l] {
				return st
			}
			line = l
		}
	}
}

// CurrentLineNumber returns the source line of the next instruction.
func (d *Debugger) CurrentLineNumber() int {
	return d.currentLine()
}

// CurrentFunctionName returns the function containing the next
// instruction.
func (d *Debugger) CurrentFunctionName() string {
	_, fn := d.proc.prog.FuncAt(d.proc.pc)
	return fn.Name
}

// CurrentFileName returns the name of the program source.
func (d *Debugger) CurrentFileName() string {
	return d.proc.prog.File
}

// Variable is a named slot of a frame.
type Variable struct {
	Name  string
	Type  string
	Value string // "undefined" when empty
}

// Variables returns the declared variables of the frame at depth frame
// (0 is innermost).
func (d *Debugger) Variables(frame int) ([]Variable, error) {
	p := d.proc
	frames := p.Frames()
	if frame < 0 || frame >= len(frames) {
		return nil, fmt.Errorf("no frame %d", frame)
	}
	fp := frames[frame].FP
	pc := p.pc
	if frame > 0 {
		pc = int(p.stack[frames[frame-1].FP+2].payload()) - 1
	}
	_, fn := p.prog.FuncAt(pc)
	var vars []Variable
	for i := 1; i < len(fn.SlotNames); i++ {
		if fn.SlotNames[i] == "" || i >= len(fn.SlotTypes) {
			continue
		}
		t := fn.SlotTypes[i]
		v := Variable{Name: fn.SlotNames[i], Type: t.String(), Value: "undefined"}
		if x := p.stack[fp+frameHeader+i]; x != Undef {
			v.Value = p.FormatValue(x, t)
		}
		vars = append(vars, v)
	}
	return vars, nil
}
