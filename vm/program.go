package vm

import (
	"regexp"
	"sort"

	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Program: immutable compiled code shared by every Proc
// ---------------------------------------------------------------------------

// Const is an entry of the constant pool. Each Proc materializes the pool
// into its own heap.
type Const struct {
	Type  *types.Type
	Int   int64
	Bits  uint64 // uint, fingerprint, time, float bits
	Bytes []byte // string or bytes contents
}

// FuncInfo describes the frame of one function.
type FuncInfo struct {
	Name      string
	Entry     int // pc of the ENTER instruction
	End       int // first pc past the body
	Level     int // static nesting depth, 0 for the global frame
	Parent    int // index of the lexically enclosing function, -1 for the global frame
	NLocals   int // declared locals, excluding the reserved slot 0
	NParams   int
	MaxTemps  int           // deepest expression stack above the frame
	SlotNames []string      // slot index -> name, for diagnostics
	SlotTypes []*types.Type // slot index -> static type, for the debugger
	Line      int
}

// FrameSize returns the number of stack slots occupied by the frame
// header, slot 0, locals and parameters.
func (f *FuncInfo) FrameSize() int {
	return frameHeader + 1 + f.NLocals + f.NParams
}

// SlotIndex returns the slot holding the named variable, or -1.
func (f *FuncInfo) SlotIndex(name string) int {
	for i, n := range f.SlotNames {
		if n == name {
			return i
		}
	}
	return -1
}

// TrapRange marks code whose failures are recovered at Target.
type TrapRange struct {
	Begin  int // first pc covered
	End    int // first pc not covered
	Target int // recovery pc
	Height int // temporaries above the frame at Begin and Target
	Func   int // index into Program.Funcs

	// Variable to undefine on recovery, relative to the function's frame.
	HasVar   bool
	VarLevel int
	VarIndex int

	Silent    bool // def() probe: no logging, never fatal
	Statement bool // whole-statement range
	Comment   string
	Line      int
}

// Contains reports whether pc lies in the range.
func (t *TrapRange) Contains(pc int) bool {
	return pc >= t.Begin && pc < t.End
}

// LineEntry maps the code starting at PC to a source line.
type LineEntry struct {
	PC   int
	Line int
}

// TableDecl is a declared output table.
type TableDecl struct {
	Name string
	Type *types.Type
	Fd   int // 1 or 2 for the predefined stdout and stderr tables
	Line int
}

// Program is the output of the compiler.
type Program struct {
	File string

	Code      []byte
	Consts    []Const
	Types     []*types.Type
	TypeLists [][]*types.Type
	Regexes   []*regexp.Regexp
	Funcs     []*FuncInfo
	Traps     []TrapRange
	Lines     []LineEntry
	Counters  []int // counter index -> source line
	Tables    []TableDecl

	// Global frame layout. Funcs[0] describes the global frame.
	Statics   []bool // slot -> static declaration
	InputSlot int
	AuxSlot   int

	InitPC int
	MainPC int
}

// Global returns the descriptor of the global frame.
func (p *Program) Global() *FuncInfo {
	return p.Funcs[0]
}

// LineAt returns the source line for pc, or 0.
func (p *Program) LineAt(pc int) int {
	i := sort.Search(len(p.Lines), func(i int) bool { return p.Lines[i].PC > pc })
	if i == 0 {
		return 0
	}
	return p.Lines[i-1].Line
}

// FuncAt returns the innermost function whose body contains pc.
func (p *Program) FuncAt(pc int) (int, *FuncInfo) {
	best := 0
	for i, f := range p.Funcs[1:] {
		if pc >= f.Entry && pc < f.End {
			if best == 0 || f.Entry > p.Funcs[best].Entry {
				best = i + 1
			}
		}
	}
	return best, p.Funcs[best]
}

// findTrap returns the innermost trap range containing pc.
func (p *Program) findTrap(pc int) *TrapRange {
	var best *TrapRange
	for i := range p.Traps {
		t := &p.Traps[i]
		if !t.Contains(pc) {
			continue
		}
		if best == nil || t.Begin > best.Begin || (t.Begin == best.Begin && t.End < best.End) {
			best = t
		}
	}
	return best
}

// inSilentTrap reports whether a def() range contains pc.
func (p *Program) inSilentTrap(pc int) bool {
	for i := range p.Traps {
		if t := &p.Traps[i]; t.Silent && t.Contains(pc) {
			return true
		}
	}
	return false
}

// Disassemble returns a listing of the program code.
func (p *Program) Disassemble() string {
	return Disassemble(p.Code)
}
