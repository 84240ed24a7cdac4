package compiler

import (
	"math"

	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/types"
	"github.com/google/szl-sub002/vm"
)

// ---------------------------------------------------------------------------
// Assignment
// ---------------------------------------------------------------------------

// Targets with one accessor use the store instructions that address the
// variable directly. Deeper targets move the variable onto the stack, take
// each container apart down to the last accessor, store there and put the
// containers back together on the way out.

func (g *generator) assign(s *ast.AssignStmt) {
	root, steps := ast.Path(s.LHS)
	d := root.Decl
	switch len(steps) {
	case 0:
		g.expr(s.RHS)
		g.opVar(vm.OpStoreV, d)
		return
	case 1:
		g.storeOne(d, steps[0], s.RHS)
		return
	}

	g.saveTemps(steps, s.Temps)
	if t := s.Temps[0]; t != nil {
		g.expr(s.RHS)
		g.opVar(vm.OpStoreV, t)
	}
	g.opVar(vm.OpLoadVu, d)
	last := len(steps) - 1
	for k, st := range steps[:last] {
		g.take(st, s.Temps, k)
	}
	g.index(steps[last], s.Temps, last)
	if t := s.Temps[0]; t != nil {
		g.opVar(vm.OpLoadV, t)
	} else {
		g.expr(s.RHS)
	}
	g.put(steps[last])
	for k := last - 1; k >= 0; k-- {
		g.put(steps[k])
	}
	g.opVar(vm.OpStoreV, d)
}

// storeOne assigns to a single element, field or slice of variable d.
func (g *generator) storeOne(d *ast.VarDecl, step, rhs ast.Expr) {
	switch st := step.(type) {
	case *ast.SelectorExpr:
		g.expr(rhs)
		g.opVarField(vm.OpFStoreV, d, st.Field)

	case *ast.IndexExpr:
		g.expr(st.Index)
		g.expr(rhs)
		switch st.X.Type().Kind {
		case types.Map:
			g.opVar(vm.OpMStoreV, d)
		case types.String:
			g.opVar(vm.OpXStoreR, d)
		case types.Bytes:
			g.opVar(vm.OpXStore8, d)
		default:
			g.opVar(vm.OpXStoreV, d)
		}

	case *ast.SliceExpr:
		g.bound(st.Lo, 0)
		if st.Hi != nil {
			g.expr(st.Hi)
		} else {
			g.opVar(vm.OpLoadV, d)
			g.op(vm.OpLen)
		}
		g.expr(rhs)
		g.opVar(vm.OpSStoreV, d)
	}
}

// saveTemps evaluates the indices that must not see the target variable
// taken apart.
func (g *generator) saveTemps(steps []ast.Expr, temps []*ast.VarDecl) {
	for k, st := range steps {
		if k+1 >= len(temps) || temps[k+1] == nil {
			continue
		}
		g.expr(st.(*ast.IndexExpr).Index)
		g.opVar(vm.OpStoreV, temps[k+1])
	}
}

// index pushes the index or key of step k, if it has one.
func (g *generator) index(step ast.Expr, temps []*ast.VarDecl, k int) {
	ix, ok := step.(*ast.IndexExpr)
	if !ok {
		return
	}
	if k+1 < len(temps) && temps[k+1] != nil {
		g.opVar(vm.OpLoadV, temps[k+1])
		return
	}
	g.expr(ix.Index)
}

// take moves the element selected by step out of the container on top of
// the stack, leaving the container, the index and the element.
func (g *generator) take(step ast.Expr, temps []*ast.VarDecl, k int) {
	switch st := step.(type) {
	case *ast.SelectorExpr:
		g.opU16(vm.OpFTake, st.Field)
	case *ast.IndexExpr:
		g.index(st, temps, k)
		switch st.X.Type().Kind {
		case types.Map:
			g.op(vm.OpMTake)
		case types.String:
			g.op(vm.OpXRTake)
		case types.Bytes:
			g.op(vm.OpX8Take)
		default:
			g.op(vm.OpXTake)
		}
	}
}

// put stores the value on top of the stack into the container below it.
func (g *generator) put(step ast.Expr) {
	switch st := step.(type) {
	case *ast.SelectorExpr:
		g.opU16(vm.OpFPut, st.Field)
	case *ast.IndexExpr:
		switch st.X.Type().Kind {
		case types.Map:
			g.op(vm.OpMPut)
		case types.String:
			g.op(vm.OpXRPut)
		case types.Bytes:
			g.op(vm.OpX8Put)
		default:
			g.op(vm.OpXPut)
		}
	}
}

// ---------------------------------------------------------------------------
// Increment and decrement
// ---------------------------------------------------------------------------

func (g *generator) incDec(s *ast.IncDecStmt) {
	root, steps := ast.Path(s.X)
	d := root.Decl
	isInt := s.X.Type().Kind == types.Int

	switch {
	case len(steps) == 0 && isInt:
		g.opVarDelta(vm.OpInc64, d, s.Delta)
		return
	case len(steps) == 0:
		g.opVar(vm.OpLoadV, d)
		g.addDelta(s.X.Type(), s.Delta)
		g.opVar(vm.OpStoreV, d)
		return
	case len(steps) == 1 && g.incOne(d, steps[0], s.X.Type(), s.Delta):
		return
	}

	g.saveTemps(steps, s.Temps)
	g.opVar(vm.OpLoadVu, d)
	for k, st := range steps {
		g.take(st, s.Temps, k)
	}
	g.addDelta(s.X.Type(), s.Delta)
	for k := len(steps) - 1; k >= 0; k-- {
		g.put(steps[k])
	}
	g.opVar(vm.OpStoreV, d)
}

// incOne uses the single-instruction increments for int elements and
// fields. It reports false when none applies.
func (g *generator) incOne(d *ast.VarDecl, step ast.Expr, t *types.Type, delta int) bool {
	switch st := step.(type) {
	case *ast.SelectorExpr:
		if t.Kind != types.Int {
			return false
		}
		if !g.dead {
			level, slot := g.varRef(d)
			g.b.EmitFieldIncr(level, slot, uint16(st.Field), int8(delta))
			g.effect(vm.OpFIncr)
		}
		return true

	case *ast.IndexExpr:
		var op vm.Opcode
		switch st.X.Type().Kind {
		case types.String:
			op = vm.OpXIncR
		case types.Bytes:
			op = vm.OpXInc8
		case types.Map:
			if t.Kind != types.Int {
				return false
			}
			op = vm.OpMInc64
		default:
			if t.Kind != types.Int {
				return false
			}
			op = vm.OpXInc64
		}
		g.expr(st.Index)
		g.opVarDelta(op, d, delta)
		return true
	}
	return false
}

// addDelta adds delta to the number on top of the stack.
func (g *generator) addDelta(t *types.Type, delta int) {
	op := vm.OpAddInt
	switch t.Kind {
	case types.Int:
		g.pushInt(int64(delta))
	case types.UInt:
		op = vm.OpAddUInt
		if delta < 0 {
			op = vm.OpSubUInt
		}
		g.opU16(vm.OpPushConst, g.constIndex(vm.Const{Type: types.UIntType, Bits: 1}))
	case types.Float:
		op = vm.OpAddFloat
		g.opU16(vm.OpPushConst, g.constIndex(vm.Const{Type: types.FloatType, Bits: math.Float64bits(float64(delta))}))
	}
	g.op(op)
}
