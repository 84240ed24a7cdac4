package compiler

import (
	"fmt"
	"math"
	"regexp"

	"github.com/google/szl-sub002/ast"
	"github.com/google/szl-sub002/types"
	"github.com/google/szl-sub002/vm"
)

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expr compiles x, leaving its value on the stack.
func (g *generator) expr(x ast.Expr) {
	switch x := x.(type) {
	case *ast.Literal:
		g.literal(x)

	case *ast.Ident:
		g.opVar(vm.OpLoadV, x.Decl)

	case *ast.UnaryExpr:
		if x.Op == "!" {
			g.boolValue(x)
			return
		}
		g.expr(x.X)
		g.op(unaryOp(x.Op, x.X.Type().Kind))

	case *ast.BinaryExpr:
		g.binary(x)

	case *ast.CallExpr:
		g.call(x)

	case *ast.IndexExpr:
		g.expr(x.X)
		g.expr(x.Index)
		switch x.X.Type().Kind {
		case types.Map:
			g.op(vm.OpMLoadV)
			g.op(vm.OpMIndexV)
		case types.String:
			g.op(vm.OpXLoadR)
		case types.Bytes:
			g.op(vm.OpXLoad8)
		default:
			g.op(vm.OpXLoadV)
		}

	case *ast.SliceExpr:
		g.expr(x.X)
		g.bound(x.Lo, 0)
		g.bound(x.Hi, math.MaxInt64)
		switch x.X.Type().Kind {
		case types.String:
			g.op(vm.OpSLoadR)
		case types.Bytes:
			g.op(vm.OpSLoad8)
		default:
			g.op(vm.OpSLoadV)
		}

	case *ast.SelectorExpr:
		g.expr(x.X)
		g.opU16(vm.OpFLoadV, x.Field)

	case *ast.CompositeLit:
		g.composite(x)

	case *ast.FuncLit:
		g.closure(x)

	default:
		g.errorf(x, "cannot compile %T", x)
	}
}

// bound pushes a slice bound, or def when it is absent.
func (g *generator) bound(x ast.Expr, def int64) {
	if x == nil {
		g.pushInt(def)
		return
	}
	g.expr(x)
}

func (g *generator) literal(x *ast.Literal) {
	switch x.Kind {
	case types.Int:
		g.pushInt(x.Int)
	case types.Bool:
		if x.Bool {
			g.op(vm.OpPushTrue)
		} else {
			g.op(vm.OpPushFalse)
		}
	default:
		g.opU16(vm.OpPushConst, g.literalConst(x))
	}
}

func unaryOp(op string, k types.Kind) vm.Opcode {
	switch {
	case op == "-" && k == types.Float:
		return vm.OpNegFloat
	case op == "-" && k == types.UInt:
		return vm.OpNegUInt
	case op == "-":
		return vm.OpNegInt
	case k == types.UInt:
		return vm.OpNotUInt
	}
	return vm.OpNotInt
}

var intOps = map[string]vm.Opcode{
	"+": vm.OpAddInt, "-": vm.OpSubInt, "*": vm.OpMulInt, "/": vm.OpDivInt, "%": vm.OpModInt,
	"<<": vm.OpShlInt, ">>": vm.OpShrInt, "&": vm.OpAndInt, "|": vm.OpOrInt, "^": vm.OpXorInt,
}

var uintOps = map[string]vm.Opcode{
	"+": vm.OpAddUInt, "-": vm.OpSubUInt, "*": vm.OpMulUInt, "/": vm.OpDivUInt, "%": vm.OpModUInt,
	"<<": vm.OpShlUInt, ">>": vm.OpShrUInt, "&": vm.OpAndUInt, "|": vm.OpOrUInt, "^": vm.OpXorUInt,
}

var floatOps = map[string]vm.Opcode{
	"+": vm.OpAddFloat, "-": vm.OpSubFloat, "*": vm.OpMulFloat, "/": vm.OpDivFloat, "%": vm.OpModFloat,
}

var condCodes = map[string]byte{
	"==": vm.CondEQ, "!=": vm.CondNE, "<": vm.CondLT, "<=": vm.CondLE, ">": vm.CondGT, ">=": vm.CondGE,
}

func isComparison(op string) bool {
	_, ok := condCodes[op]
	return ok
}

// arithOp selects the opcode for a binary arithmetic operator on operands
// of kind l and r.
func arithOp(op string, l, r types.Kind) (vm.Opcode, bool) {
	switch l {
	case types.Int:
		o, ok := intOps[op]
		return o, ok
	case types.UInt:
		o, ok := uintOps[op]
		return o, ok
	case types.Float:
		o, ok := floatOps[op]
		return o, ok
	case types.String:
		return vm.OpAddString, op == "+"
	case types.Bytes:
		return vm.OpAddBytes, op == "+"
	case types.Array:
		return vm.OpAddArray, op == "+"
	case types.Fingerprint:
		return vm.OpAddFpr, op == "+"
	case types.Time:
		if r == types.Int {
			if op == "+" {
				return vm.OpAddTime, true
			}
			return vm.OpSubTime, op == "-"
		}
	}
	return 0, false
}

func (g *generator) binary(x *ast.BinaryExpr) {
	if x.Op == "&&" || x.Op == "||" || isComparison(x.Op) {
		if isComparison(x.Op) {
			g.compare(x)
			g.op(vm.OpGetCC)
			return
		}
		g.boolValue(x)
		return
	}
	l, r := x.X.Type().Kind, x.Y.Type().Kind
	if l == types.Time && r == types.Time {
		// The difference of two times is an int number of microseconds.
		g.expr(x.X)
		g.conv(types.Time, types.Int)
		g.expr(x.Y)
		g.conv(types.Time, types.Int)
		g.op(vm.OpSubInt)
		return
	}
	op, ok := arithOp(x.Op, l, r)
	if !ok {
		g.errorf(x, "no instruction for %s %s %s", x.X.Type(), x.Op, x.Y.Type())
		return
	}
	g.expr(x.X)
	g.expr(x.Y)
	g.op(op)
}

func (g *generator) conv(from, to types.Kind) {
	if g.dead {
		return
	}
	g.b.EmitBytePair(vm.OpConv, byte(from), byte(to))
	g.effect(vm.OpConv)
}

// compare evaluates both operands of a comparison and sets cc.
func (g *generator) compare(x *ast.BinaryExpr) {
	g.expr(x.X)
	g.expr(x.Y)
	var op vm.Opcode
	switch x.X.Type().Kind {
	case types.Int:
		op = vm.OpCmpInt
	case types.UInt, types.Time, types.Fingerprint:
		op = vm.OpCmpUInt
	case types.Float:
		op = vm.OpCmpFloat
	case types.String:
		op = vm.OpCmpString
	case types.Bytes:
		op = vm.OpCmpBytes
	default:
		op = vm.OpCmpValue
	}
	g.opByte(op, condCodes[x.Op])
}

// boolValue materializes a short-circuit condition as a bool.
func (g *generator) boolValue(x ast.Expr) {
	f, done := g.newLabel(), g.newLabel()
	g.cond(x, f, false)
	g.op(vm.OpPushTrue)
	g.branch(vm.OpBranch, done)
	g.mark(f)
	g.op(vm.OpPushFalse)
	g.mark(done)
}

// cond branches to l when x evaluates to jumpIf and falls through
// otherwise.
func (g *generator) cond(x ast.Expr, l *label, jumpIf bool) {
	switch e := x.(type) {
	case *ast.Literal:
		if e.Kind == types.Bool {
			if e.Bool == jumpIf {
				g.branch(vm.OpBranch, l)
			}
			return
		}
	case *ast.UnaryExpr:
		if e.Op == "!" {
			g.cond(e.X, l, !jumpIf)
			return
		}
	case *ast.BinaryExpr:
		switch {
		case e.Op == "&&" && !jumpIf, e.Op == "||" && jumpIf:
			g.cond(e.X, l, jumpIf)
			g.cond(e.Y, l, jumpIf)
			return
		case e.Op == "&&", e.Op == "||":
			skip := g.newLabel()
			g.cond(e.X, skip, !jumpIf)
			g.cond(e.Y, l, jumpIf)
			g.mark(skip)
			return
		case isComparison(e.Op):
			g.compare(e)
			g.branch(branchOp(jumpIf), l)
			return
		}
	}
	g.expr(x)
	g.op(vm.OpTestBool)
	g.branch(branchOp(jumpIf), l)
}

func branchOp(jumpIf bool) vm.Opcode {
	if jumpIf {
		return vm.OpBranchTrue
	}
	return vm.OpBranchFalse
}

// setCC evaluates a bool expression into the condition code.
func (g *generator) setCC(x ast.Expr) {
	if b, ok := x.(*ast.BinaryExpr); ok && isComparison(b.Op) {
		g.compare(b)
		return
	}
	g.expr(x)
	g.op(vm.OpTestBool)
}

func (g *generator) composite(x *ast.CompositeLit) {
	t := x.Type()
	switch t.Kind {
	case types.Map:
		for _, kv := range x.Pairs {
			g.expr(kv.Key)
			g.expr(kv.Value)
		}
		if g.dead {
			return
		}
		g.b.EmitUint16Pair(vm.OpNewMap, uint16(g.typeIndex(t)), uint16(len(x.Pairs)))
		g.adjust(1 - 2*len(x.Pairs))
	case types.Tuple:
		for _, e := range x.Elems {
			g.expr(e)
		}
		if g.dead {
			return
		}
		g.b.EmitUint16(vm.OpNewTuple, uint16(g.typeIndex(t)))
		g.adjust(1 - len(x.Elems))
	default:
		for _, e := range x.Elems {
			g.expr(e)
		}
		if g.dead {
			return
		}
		g.b.EmitUint16Pair(vm.OpNewArray, uint16(g.typeIndex(t)), uint16(len(x.Elems)))
		g.adjust(1 - len(x.Elems))
	}
}

// closure pushes a function value bound to the current frame.
func (g *generator) closure(lit *ast.FuncLit) {
	if g.dead {
		return
	}
	g.b.EmitCreateC(g.entries[lit], 0, uint16(g.typeIndex(lit.T)))
	g.effect(vm.OpCreateC)
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (g *generator) call(x *ast.CallExpr) {
	switch x.Kind {
	case ast.CallConvert:
		g.convert(x)
	case ast.CallIntrinsic:
		g.intrinsic(x)
	case ast.CallDirect:
		for _, a := range x.Args {
			g.expr(a)
		}
		if g.dead {
			return
		}
		g.b.EmitByte(vm.OpSetBP, uint8(g.fn.depth-x.Target.Depth))
		g.b.EmitBranch(vm.OpCallI, g.entries[x.Target.Init.(*ast.FuncLit)])
		g.adjust(resultSlots(x) - len(x.Args))
	default:
		for _, a := range x.Args {
			g.expr(a)
		}
		g.expr(x.Fun)
		if g.dead {
			return
		}
		g.b.Emit(vm.OpCall)
		g.adjust(resultSlots(x) - len(x.Args) - 1)
	}
}

func resultSlots(x ast.Expr) int {
	if t := x.Type(); t == nil || t.Kind == types.Void {
		return 0
	}
	return 1
}

func (g *generator) convert(x *ast.CallExpr) {
	arg := x.Args[0]
	from, to := arg.Type(), x.Type()
	g.expr(arg)
	if _, ok := arg.(*ast.CompositeLit); ok || types.Equal(from, to) {
		return
	}
	switch {
	case from.Kind == types.Bytes && to.Kind == types.Tuple:
		g.opU16(vm.OpBytes2Proto, g.typeIndex(to))
	case from.Kind == types.Tuple && to.Kind == types.Bytes:
		g.opU16(vm.OpProto2Bytes, g.typeIndex(from))
	default:
		g.conv(from.Kind, to.Kind)
	}
}

// formatArgs pushes the arguments of a format() call followed by the
// format string and returns the argument types.
func (g *generator) formatArgs(x *ast.CallExpr) []*types.Type {
	ts := make([]*types.Type, 0, len(x.Args)-1)
	for _, a := range x.Args[1:] {
		g.expr(a)
		ts = append(ts, a.Type())
	}
	g.expr(x.Args[0])
	return ts
}

func (g *generator) intrinsic(x *ast.CallExpr) {
	switch x.Intrinsic {
	case "len":
		g.expr(x.Args[0])
		g.op(vm.OpLen)

	case "def":
		g.def(x.Args[0])

	case "inproto":
		sel := x.Args[0].(*ast.SelectorExpr)
		g.expr(sel.X)
		g.opU16(vm.OpFTestB, sel.Field)

	case "clearproto":
		sel := x.Args[0].(*ast.SelectorExpr)
		g.opVarField(vm.OpFClearB, sel.X.(*ast.Ident).Decl, sel.Field)

	case "undefine":
		g.opVar(vm.OpUndefine, x.Args[0].(*ast.Ident).Decl)

	case "format":
		ts := g.formatArgs(x)
		if g.dead {
			return
		}
		g.b.EmitUint16(vm.OpFormat, uint16(g.typeList(ts)))
		g.adjust(1 - len(x.Args))

	case "assert":
		msg := fmt.Sprintf("%s:%d", g.prog.File, x.Span().Start.Line)
		if len(x.Args) == 2 {
			msg = x.Args[1].(*ast.Literal).Str
		}
		g.setCC(x.Args[0])
		g.opU16(vm.OpTrapFalse, g.stringConst(msg))

	case "abs":
		if x.Args[0].Type().Kind == types.Float {
			g.callC(x, "fabs", vm.NoRegex)
		} else {
			g.callC(x, "abs", vm.NoRegex)
		}

	case "fingerprintof":
		g.callC(x, "fingerprintof", g.typeIndex(x.Args[0].Type()))

	case "keys":
		g.callC(x, "keys", g.typeIndex(x.Type()))

	case "match", "matchposns", "matchstrs":
		g.callC(x, x.Intrinsic, g.regex(x.Args[0]))

	default:
		g.callC(x, x.Intrinsic, vm.NoRegex)
	}
}

// callC calls a registered intrinsic with the call's arguments.
func (g *generator) callC(x *ast.CallExpr, name string, aux int) {
	idx, in, ok := vm.LookupIntrinsic(name)
	if !ok {
		g.errorf(x, "intrinsic %s is not available", name)
		return
	}
	for _, a := range x.Args {
		g.expr(a)
	}
	if g.dead {
		return
	}
	op := vm.OpCallCNF
	if in.CanFail {
		op = vm.OpCallC
	}
	g.b.EmitCallC(op, uint16(idx), uint8(len(x.Args)), uint16(aux))
	n := -len(x.Args)
	if !in.Void {
		n++
	}
	g.adjust(n)
}

// regex precompiles a literal pattern. Other patterns are compiled when
// the call runs.
func (g *generator) regex(x ast.Expr) int {
	lit, ok := x.(*ast.Literal)
	if !ok || lit.Kind != types.String {
		return vm.NoRegex
	}
	if i, ok := g.regexes[lit.Str]; ok {
		return i
	}
	re, err := regexp.Compile(lit.Str)
	if err != nil {
		g.errorf(x, "invalid regular expression: %v", err)
		return vm.NoRegex
	}
	i := len(g.out.Regexes)
	g.out.Regexes = append(g.out.Regexes, re)
	g.regexes[lit.Str] = i
	return i
}

// def compiles def(x): x is evaluated under a silent trap range whose
// recovery pushes false.
//
//	begin:  x; POP; PUSH_TRUE; BRANCH done
//	target: PUSH_FALSE
//	done:
func (g *generator) def(x ast.Expr) {
	if g.dead {
		return
	}
	h := g.fn.height
	begin := g.b.Len()
	target, done := g.newLabel(), g.newLabel()
	g.expr(x)
	g.op(vm.OpPop)
	g.op(vm.OpPushTrue)
	g.branch(vm.OpBranch, done)
	g.markAt(target, h)
	g.out.Traps = append(g.out.Traps, vm.TrapRange{
		Begin:   begin,
		End:     target.Position(),
		Target:  target.Position(),
		Height:  h,
		Func:    g.fn.index,
		Silent:  true,
		Comment: "def()",
		Line:    x.Span().Start.Line,
	})
	g.op(vm.OpPushFalse)
	g.mark(done)
}
