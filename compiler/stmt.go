package compiler

import (
	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/types"
	"github.com/google/szl-sub002/vm"
)

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// stmt compiles one statement inside its own trap range. A failure
// anywhere in the statement resumes after it with the frame's temporaries
// dropped and the assigned variable, if any, undefined.
func (g *generator) stmt(s ast.Stmt) {
	if blk, ok := s.(*ast.Block); ok {
		for _, st := range blk.Stmts {
			g.stmt(st)
		}
		return
	}
	switch s := s.(type) {
	case *ast.VarDecl:
		if s.IsTable() {
			return
		}
	case *ast.TypeDecl:
		return
	}
	if g.dead {
		return
	}

	line := g.line(s)
	if g.opts.LineCounts {
		g.opU16(vm.OpCount, len(g.out.Counters))
		g.out.Counters = append(g.out.Counters, line)
	}
	if g.opts.VerifySP {
		g.opU16(vm.OpVerifySP, g.out.Funcs[g.fn.index].FrameSize()+g.fn.height)
	}

	if !canFail(s) {
		g.stmtBody(s)
		return
	}
	begin := g.b.Len()
	end := g.newLabel()
	g.stmtBody(s)
	g.markAt(end, 0)
	if end.Position() == begin {
		return
	}
	r := vm.TrapRange{
		Begin:     begin,
		End:       end.Position(),
		Target:    end.Position(),
		Func:      g.fn.index,
		Statement: true,
		Comment:   stmtComment(s),
		Line:      line,
	}
	if d := assignedVar(s); d != nil {
		level, slot := g.varRef(d)
		r.HasVar, r.VarLevel, r.VarIndex = true, int(level), int(slot)
	}
	g.out.Traps = append(g.out.Traps, r)
}

// canFail reports whether a statement evaluates anything that may trap.
func canFail(s ast.Stmt) bool {
	switch s := s.(type) {
	case *ast.BranchStmt:
		return false
	case *ast.ReturnStmt:
		return s.Result != nil
	case *ast.VarDecl:
		return s.Init != nil
	}
	return true
}

// assignedVar returns the variable a failing statement leaves undefined.
// A store through one accessor checks everything before it writes, so its
// failure only skips the store; deeper targets take the variable apart
// first and lose it.
func assignedVar(s ast.Stmt) *ast.VarDecl {
	switch s := s.(type) {
	case *ast.VarDecl:
		if s.Init != nil {
			return s
		}
	case *ast.AssignStmt:
		if root, steps := ast.Path(s.LHS); root != nil && len(steps) != 1 {
			return root.Decl
		}
	case *ast.IncDecStmt:
		if root, _ := ast.Path(s.X); root != nil {
			return root.Decl
		}
	}
	return nil
}

func stmtComment(s ast.Stmt) string {
	switch s := s.(type) {
	case *ast.VarDecl:
		return "declaration of " + s.Name
	case *ast.AssignStmt:
		return "assignment"
	case *ast.IncDecStmt:
		return "increment"
	case *ast.EmitStmt:
		return "emit to " + s.Table.Name
	case *ast.IfStmt:
		return "if statement"
	case *ast.WhileStmt, *ast.DoStmt, *ast.ForStmt:
		return "loop"
	case *ast.ReturnStmt:
		return "return"
	}
	return "statement"
}

func (g *generator) stmtBody(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.VarDecl:
		g.varDecl(s)

	case *ast.ExprStmt:
		g.expr(s.X)
		if t := s.X.Type(); t != nil && t.Kind != types.Void {
			g.op(vm.OpPop)
		}

	case *ast.AssignStmt:
		g.assign(s)

	case *ast.IncDecStmt:
		g.incDec(s)

	case *ast.EmitStmt:
		g.emit(s)

	case *ast.IfStmt:
		els, end := g.newLabel(), g.newLabel()
		g.cond(s.Cond, els, false)
		g.stmt(s.Then)
		if s.Else != nil {
			g.branch(vm.OpBranch, end)
			g.mark(els)
			g.stmt(s.Else)
		} else {
			g.mark(els)
		}
		g.mark(end)

	case *ast.WhileStmt:
		top, brk := g.newLabel(), g.newLabel()
		g.mark(top)
		g.cond(s.Cond, brk, false)
		g.loopBody(s.Body, brk, top)
		g.branch(vm.OpBranch, top)
		g.mark(brk)

	case *ast.DoStmt:
		top, cont, brk := g.newLabel(), g.newLabel(), g.newLabel()
		g.mark(top)
		g.loopBody(s.Body, brk, cont)
		g.mark(cont)
		g.cond(s.Cond, top, true)
		g.mark(brk)

	case *ast.ForStmt:
		if s.Init != nil {
			g.stmt(s.Init)
		}
		top, cont, brk := g.newLabel(), g.newLabel(), g.newLabel()
		g.mark(top)
		if s.Cond != nil {
			g.cond(s.Cond, brk, false)
		}
		g.loopBody(s.Body, brk, cont)
		g.mark(cont)
		if s.Post != nil {
			g.stmt(s.Post)
		}
		g.branch(vm.OpBranch, top)
		g.mark(brk)

	case *ast.BranchStmt:
		l := g.loops[len(g.loops)-1]
		if s.Continue {
			g.branch(vm.OpBranch, l.cont)
		} else {
			g.branch(vm.OpBranch, l.brk)
		}

	case *ast.ReturnStmt:
		switch {
		case s.Func == nil:
			g.op(vm.OpTerminate)
		case s.Result != nil:
			g.expr(s.Result)
			g.op(vm.OpRetV)
		default:
			g.op(vm.OpRet)
		}
	}
}

func (g *generator) loopBody(body ast.Stmt, brk, cont *label) {
	g.loops = append(g.loops, loop{brk: brk, cont: cont})
	g.stmt(body)
	g.loops = g.loops[:len(g.loops)-1]
}

func (g *generator) varDecl(d *ast.VarDecl) {
	switch {
	case d.Fixed:
		lit := d.Init.(*ast.FuncLit)
		g.closure(lit)
		g.opVar(vm.OpStoreV, d)
	case d.Init != nil:
		g.expr(d.Init)
		g.opVar(vm.OpStoreV, d)
	default:
		g.opVar(vm.OpUndefine, d)
	}
}

// emit compiles an emit statement. Printing a format() call to a standard
// stream formats and writes in one instruction.
func (g *generator) emit(s *ast.EmitStmt) {
	d := s.Table.Decl
	decl := g.out.Tables[d.Table]
	if call, ok := s.Value.(*ast.CallExpr); ok && decl.Fd != 0 && call.Kind == ast.CallIntrinsic && call.Intrinsic == "format" {
		ts := g.formatArgs(call)
		if g.dead {
			return
		}
		g.b.EmitFdPrint(uint8(decl.Fd), uint16(g.typeList(ts)))
		g.adjust(-len(call.Args))
		return
	}
	for _, x := range s.Indices {
		g.expr(x)
	}
	g.expr(s.Value)
	n := len(s.Indices) + 1
	if s.Weight != nil {
		g.expr(s.Weight)
		n++
	}
	if g.dead {
		return
	}
	g.b.EmitUint16(vm.OpEmit, uint16(d.Table))
	g.adjust(-n)
}
