// Package compiler lowers checked szl programs to vm bytecode.
//
// The generator walks the tree once. It keeps an abstract stack height for
// every instruction it emits so that trap ranges can record the height the
// interpreter restores on recovery, and so that branch targets reached on
// several paths agree on it.
package compiler

import (
	"fmt"
	"math"

	"github.com/tliron/commonlog"

	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/syntax"
	"github.com/google/szl-sub002/types"
	"github.com/google/szl-sub002/vm"
)

var log = commonlog.GetLogger("szl.compiler")

// Options controls code generation.
type Options struct {
	LineCounts bool // count executions of every statement
	VerifySP   bool // check the stack height at every statement
}

// Compile parses, checks and compiles source. Errors are returned as a
// syntax.ErrorList.
func Compile(file, source string, opts Options) (*vm.Program, error) {
	prog, err := syntax.Parse(file, source)
	if err != nil {
		return nil, err
	}
	if err := syntax.Check(prog); err != nil {
		return nil, err
	}
	return Generate(prog, opts)
}

// Generate compiles a checked program.
func Generate(prog *ast.Program, opts Options) (*vm.Program, error) {
	g := newGenerator(prog, opts)
	g.program()
	if err := g.errors.Err(); err != nil {
		return nil, err
	}
	log.Debugf("%s: %d bytes of code, %d functions, %d trap ranges",
		prog.File, len(g.out.Code), len(g.out.Funcs), len(g.out.Traps))
	return g.out, nil
}

// ---------------------------------------------------------------------------
// Generator state
// ---------------------------------------------------------------------------

// funcState tracks the function whose body is being generated.
type funcState struct {
	lit       *ast.FuncLit // nil for the global frame
	index     int
	depth     int
	height    int // temporaries above the frame
	maxHeight int
}

// label is a branch target with the stack height expected there.
type label struct {
	*vm.Label
	height int
	known  bool
}

type loop struct {
	brk, cont *label
}

type constKey struct {
	kind types.Kind
	bits uint64
	str  string
}

type generator struct {
	prog   *ast.Program
	opts   Options
	out    *vm.Program
	b      *vm.BytecodeBuilder
	errors syntax.ErrorList

	fn    *funcState
	dead  bool // the next instruction is unreachable
	loops []loop

	entries map[*ast.FuncLit]*vm.Label
	consts  map[constKey]int
	types   map[*types.Type]int
	regexes map[string]int
}

func newGenerator(prog *ast.Program, opts Options) *generator {
	return &generator{
		prog:    prog,
		opts:    opts,
		out:     &vm.Program{File: prog.File},
		b:       vm.NewBytecodeBuilder(),
		entries: make(map[*ast.FuncLit]*vm.Label),
		consts:  make(map[constKey]int),
		types:   make(map[*types.Type]int),
		regexes: make(map[string]int),
	}
}

func (g *generator) errorf(n ast.Node, format string, args ...interface{}) {
	g.errors = append(g.errors, &syntax.Error{File: g.prog.File, Pos: n.Span().Start, Msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Program layout
// ---------------------------------------------------------------------------

// program lays out the static initialisers, the per-record body and then
// every function body.
func (g *generator) program() {
	p := g.prog
	global := &vm.FuncInfo{Name: "$main", Parent: -1, NLocals: len(p.Globals)}
	global.SlotNames, global.SlotTypes = slotInfo(p.Globals, nil, len(p.Globals))
	g.out.Funcs = append(g.out.Funcs, global)
	for _, f := range p.Funcs {
		info := &vm.FuncInfo{
			Name:    f.Name,
			Level:   f.Depth,
			NLocals: len(f.Locals),
			NParams: len(f.Params),
			Line:    f.Span().Start.Line,
		}
		if f.Parent != nil {
			info.Parent = f.Parent.Index
		}
		info.SlotNames, info.SlotTypes = slotInfo(f.Locals, f.Params, len(f.Locals))
		g.out.Funcs = append(g.out.Funcs, info)
		g.entries[f] = g.b.NewLabel()
	}

	g.out.Statics = make([]bool, len(p.Globals)+1)
	for _, s := range p.Stmts {
		if isInit(s) {
			g.out.Statics[s.(*ast.VarDecl).Slot] = true
		}
	}
	if p.Input != nil {
		g.out.InputSlot = p.Input.Slot
	}
	if p.Aux != nil {
		g.out.AuxSlot = p.Aux.Slot
	}
	for _, d := range p.Tables {
		decl := vm.TableDecl{Name: d.Name, Type: d.T, Line: d.Span().Start.Line}
		if decl.Line == 0 {
			// predeclared
			switch d.Name {
			case "stdout":
				decl.Fd = 1
			case "stderr":
				decl.Fd = 2
			}
		}
		g.out.Tables = append(g.out.Tables, decl)
	}

	g.fn = &funcState{}
	g.out.InitPC = g.b.Len()
	for _, s := range p.Stmts {
		if isInit(s) {
			g.stmt(s)
		}
	}
	g.op(vm.OpStop)
	g.dead = false

	g.out.MainPC = g.b.Len()
	for _, s := range p.Stmts {
		if !isInit(s) {
			g.stmt(s)
		}
	}
	g.op(vm.OpStop)
	global.End = g.b.Len()
	global.MaxTemps = g.fn.maxHeight

	for _, f := range p.Funcs {
		g.function(f)
	}
	g.out.Code = g.b.Bytes()
}

// isInit reports whether a top-level statement belongs to the static
// initialisation code.
func isInit(s ast.Stmt) bool {
	d, ok := s.(*ast.VarDecl)
	return ok && (d.Static || d.Fixed)
}

func slotInfo(locals, params []*ast.VarDecl, nlocals int) ([]string, []*types.Type) {
	n := 1 + nlocals + len(params)
	names := make([]string, n)
	ts := make([]*types.Type, n)
	for _, d := range locals {
		names[d.Slot], ts[d.Slot] = d.Name, d.T
	}
	for _, d := range params {
		names[d.Slot], ts[d.Slot] = d.Name, d.T
	}
	return names, ts
}

func (g *generator) function(f *ast.FuncLit) {
	info := g.out.Funcs[f.Index]
	g.fn = &funcState{lit: f, index: f.Index, depth: f.Depth}
	g.dead = false
	g.loops = nil
	g.b.Mark(g.entries[f])
	info.Entry = g.b.Len()
	g.line(f)
	g.opU16(vm.OpEnter, f.Index)
	for _, s := range f.Body.Stmts {
		g.stmt(s)
	}
	if f.T.Result.Kind == types.Void {
		g.op(vm.OpRet)
	} else {
		g.op(vm.OpRetU)
	}
	info.End = g.b.Len()
	info.MaxTemps = g.fn.maxHeight
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (g *generator) adjust(n int) {
	g.fn.height += n
	if g.fn.height > g.fn.maxHeight {
		g.fn.maxHeight = g.fn.height
	}
}

// effect applies the fixed stack effect of op.
func (g *generator) effect(op vm.Opcode) {
	if e := op.Info().StackEffect; e != vm.VariableEffect {
		g.adjust(e)
	}
	switch op {
	case vm.OpBranch, vm.OpRet, vm.OpRetV, vm.OpRetU, vm.OpStop, vm.OpTerminate:
		g.dead = true
	}
}

func (g *generator) op(op vm.Opcode) {
	if g.dead {
		return
	}
	g.b.Emit(op)
	g.effect(op)
}

func (g *generator) opByte(op vm.Opcode, x byte) {
	if g.dead {
		return
	}
	g.b.EmitByte(op, x)
	g.effect(op)
}

func (g *generator) opU16(op vm.Opcode, x int) {
	if g.dead {
		return
	}
	g.b.EmitUint16(op, uint16(x))
	g.effect(op)
}

func (g *generator) opU16Pair(op vm.Opcode, x, y int) {
	if g.dead {
		return
	}
	g.b.EmitUint16Pair(op, uint16(x), uint16(y))
	g.effect(op)
}

func (g *generator) pushInt(x int64) {
	if g.dead {
		return
	}
	g.b.EmitInt64(vm.OpPushInt, x)
	g.effect(vm.OpPushInt)
}

// varRef returns the static-link level and slot of d from the current
// function.
func (g *generator) varRef(d *ast.VarDecl) (uint8, uint16) {
	return uint8(g.fn.depth - d.Depth), uint16(d.Slot)
}

func (g *generator) opVar(op vm.Opcode, d *ast.VarDecl) {
	if g.dead {
		return
	}
	level, slot := g.varRef(d)
	g.b.EmitVar(op, level, slot)
	g.effect(op)
}

func (g *generator) opVarDelta(op vm.Opcode, d *ast.VarDecl, delta int) {
	if g.dead {
		return
	}
	level, slot := g.varRef(d)
	g.b.EmitVarDelta(op, level, slot, int8(delta))
	g.effect(op)
}

func (g *generator) opVarField(op vm.Opcode, d *ast.VarDecl, field int) {
	if g.dead {
		return
	}
	level, slot := g.varRef(d)
	g.b.EmitVarField(op, level, slot, uint16(field))
	g.effect(op)
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

func (g *generator) newLabel() *label {
	return &label{Label: g.b.NewLabel()}
}

// branch emits a jump to l and records the height expected there.
func (g *generator) branch(op vm.Opcode, l *label) {
	if g.dead {
		return
	}
	g.b.EmitBranch(op, l.Label)
	g.effect(op)
	if !l.known {
		l.height, l.known = g.fn.height, true
	} else if l.height != g.fn.height {
		panic(fmt.Sprintf("compiler: stack height %d at branch, label expects %d", g.fn.height, l.height))
	}
}

// mark binds l here. Code after a label that no branch reaches stays dead.
func (g *generator) mark(l *label) {
	g.b.Mark(l.Label)
	switch {
	case l.known && g.dead:
		g.fn.height = l.height
		g.dead = false
	case l.known:
		if l.height != g.fn.height {
			panic(fmt.Sprintf("compiler: stack height %d at label, expected %d", g.fn.height, l.height))
		}
	case !g.dead:
		l.height, l.known = g.fn.height, true
	}
}

// markAt binds a trap recovery target reached with the given height.
func (g *generator) markAt(l *label, height int) {
	l.height, l.known = height, true
	g.mark(l)
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

func (g *generator) typeIndex(t *types.Type) int {
	if i, ok := g.types[t]; ok {
		return i
	}
	i := len(g.out.Types)
	g.out.Types = append(g.out.Types, t)
	g.types[t] = i
	return i
}

func (g *generator) typeList(ts []*types.Type) int {
	g.out.TypeLists = append(g.out.TypeLists, ts)
	return len(g.out.TypeLists) - 1
}

func (g *generator) constIndex(c vm.Const) int {
	key := constKey{kind: c.Type.Kind, bits: c.Bits, str: string(c.Bytes)}
	if c.Type.Kind == types.Int || c.Type.Kind == types.Bool {
		key.bits = uint64(c.Int)
	}
	if i, ok := g.consts[key]; ok {
		return i
	}
	i := len(g.out.Consts)
	g.out.Consts = append(g.out.Consts, c)
	g.consts[key] = i
	return i
}

func (g *generator) stringConst(s string) int {
	return g.constIndex(vm.Const{Type: types.StringType, Bytes: []byte(s)})
}

// literalConst returns the pool entry for a literal that has no immediate
// form.
func (g *generator) literalConst(x *ast.Literal) int {
	c := vm.Const{Type: types.Basic(x.Kind)}
	switch x.Kind {
	case types.Int:
		c.Int = x.Int
	case types.Float:
		c.Bits = math.Float64bits(x.Float)
	case types.UInt, types.Fingerprint, types.Time:
		c.Bits = x.Bits
	case types.String, types.Bytes:
		c.Bytes = []byte(x.Str)
	}
	return g.constIndex(c)
}

// ---------------------------------------------------------------------------
// Line information
// ---------------------------------------------------------------------------

func (g *generator) line(n ast.Node) int {
	line := n.Span().Start.Line
	pc := g.b.Len()
	lines := g.out.Lines
	if k := len(lines); k > 0 {
		last := &lines[k-1]
		if last.PC == pc {
			last.Line = line
			return line
		}
		if last.Line == line {
			return line
		}
	}
	g.out.Lines = append(lines, vm.LineEntry{PC: pc, Line: line})
	return line
}
