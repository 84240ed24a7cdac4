package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// frameHeader is the number of bookkeeping slots at the base of a frame:
// dynamic link, static link and return pc, each stored as an inline int.
const frameHeader = 3

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (p *Proc) push(v Value) {
	p.stack[p.sp] = v
	p.sp++
}

func (p *Proc) pop() Value {
	p.sp--
	v := p.stack[p.sp]
	p.stack[p.sp] = Undef
	return v
}

func (p *Proc) top() Value {
	return p.stack[p.sp-1]
}

func (p *Proc) popInt() int64 {
	v := p.pop()
	x := p.heap.Int(v)
	p.heap.DecRef(v)
	return x
}

func (p *Proc) popUInt() uint64 {
	v := p.pop()
	x := p.heap.UInt(v)
	p.heap.DecRef(v)
	return x
}

func (p *Proc) popFloat() float64 {
	v := p.pop()
	x := p.heap.Float(v)
	p.heap.DecRef(v)
	return x
}

// dropTo pops and releases values until sp == n.
func (p *Proc) dropTo(n int) {
	for p.sp > n {
		p.sp--
		p.heap.DecRef(p.stack[p.sp])
		p.stack[p.sp] = Undef
	}
}

// ---------------------------------------------------------------------------
// Operand decoding
// ---------------------------------------------------------------------------

func (p *Proc) u8() int {
	b := p.prog.Code[p.pc]
	p.pc++
	return int(b)
}

func (p *Proc) u16() int {
	v := binary.LittleEndian.Uint16(p.prog.Code[p.pc:])
	p.pc += 2
	return int(v)
}

func (p *Proc) i32() int {
	v := int32(binary.LittleEndian.Uint32(p.prog.Code[p.pc:]))
	p.pc += 4
	return int(v)
}

func (p *Proc) i64() int64 {
	v := binary.LittleEndian.Uint64(p.prog.Code[p.pc:])
	p.pc += 8
	return int64(v)
}

// ---------------------------------------------------------------------------
// Frames and variables
// ---------------------------------------------------------------------------

// frameBase follows level static links from the current frame.
func (p *Proc) frameBase(level int) int {
	base := p.fp
	for ; level > 0; level-- {
		base = int(p.stack[base+1].payload())
	}
	return base
}

func (p *Proc) slot(level, idx int) int {
	return p.frameBase(level) + frameHeader + idx
}

// varOperand decodes a (level, index) operand into a stack slot.
func (p *Proc) varOperand() (int, int, int) {
	level := p.u8()
	idx := p.u16()
	return p.slot(level, idx), level, idx
}

func (p *Proc) varName(level, idx int) string {
	fi, fn := p.prog.FuncAt(p.lastPC)
	for ; level > 0 && fn.Parent >= 0; level-- {
		fi = fn.Parent
		fn = p.prog.Funcs[fi]
	}
	if idx < len(fn.SlotNames) && fn.SlotNames[idx] != "" {
		return fn.SlotNames[idx]
	}
	return fmt.Sprintf("slot %d", idx)
}

func (p *Proc) undefMsg(level, idx int) string {
	return "undefined variable " + p.varName(level, idx)
}

// leave pops the current frame and returns to the caller.
func (p *Proc) leave() {
	fp := p.fp
	ret := int(p.stack[fp+2].payload())
	saved := int(p.stack[fp].payload())
	p.dropTo(fp)
	p.fp, p.bp = saved, saved
	p.pc = ret
}

// ---------------------------------------------------------------------------
// Traps
// ---------------------------------------------------------------------------

func (p *Proc) trap(msg string) {
	p.HandleTrap(msg, false)
}

// HandleTrap recovers from a failure at the current instruction. It finds
// the innermost trap range covering the failing pc, unwinding call frames
// until one is found, restores the stack height recorded for the range,
// undefines the range's variable and continues at the recovery pc. With no
// covering range, or when fatal is set, the Proc fails.
//
// A range that may not recover (any non-def range during initialization, a
// statement range in strict mode) is skipped when some caller is inside
// def(); unwinding then continues to that def() range.
func (p *Proc) HandleTrap(msg string, fatal bool) {
	if fatal {
		p.fail(msg)
		return
	}
	pc := p.lastPC
	for {
		if r := p.prog.findTrap(pc); r != nil {
			fatalInit := p.initializing && !r.Silent
			fatalStmt := r.Statement && !p.opts.IgnoreUndefs
			if (fatalInit || fatalStmt) && p.fp != 0 && p.inDefCall() {
				pc = p.unwindFrame()
				continue
			}
			if fatalInit {
				p.fail("initialization trap: " + msg)
				return
			}
			if fatalStmt {
				p.fail(msg)
				return
			}
			p.dropTo(p.fp + p.prog.Funcs[r.Func].FrameSize() + r.Height)
			if r.HasVar {
				i := p.slot(r.VarLevel, r.VarIndex)
				p.heap.DecRef(p.stack[i])
				p.stack[i] = Undef
			}
			if !r.Silent {
				p.trapCount++
				p.trapInfo = msg
				log.Debugf("%s:%d: %s; %s", p.prog.File, r.Line, msg, r.Comment)
			}
			p.pc = r.Target
			return
		}
		if p.fp == 0 {
			p.fail(msg)
			return
		}
		pc = p.unwindFrame()
	}
}

// unwindFrame discards the current frame and returns the pc of the call
// that created it.
func (p *Proc) unwindFrame() int {
	ret := int(p.stack[p.fp+2].payload())
	saved := int(p.stack[p.fp].payload())
	p.dropTo(p.fp)
	p.fp, p.bp = saved, saved
	return ret - 1
}

// inDefCall reports whether any active call was made from inside a def()
// range.
func (p *Proc) inDefCall() bool {
	for fp := p.fp; fp != 0; fp = int(p.stack[fp].payload()) {
		if p.prog.inSilentTrap(int(p.stack[fp+2].payload()) - 1) {
			return true
		}
	}
	return false
}

func boundsMsg(i int64, n int) string {
	return fmt.Sprintf("index out of bounds (index = %d, length = %d)", i, n)
}

func sliceMsg(beg, end int64, n int) string {
	return fmt.Sprintf("slice out of bounds (range = [%d:%d], length = %d)", beg, end, n)
}

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

// Execute runs at most maxSteps instructions. It returns Suspended when the
// budget runs out first; maxSteps == 0 suspends without running anything.
func (p *Proc) Execute(maxSteps int) Status {
	switch p.status {
	case Failed, Terminated, Trapped:
		return p.status
	}
	if maxSteps <= 0 {
		p.status = Suspended
		return p.status
	}
	p.status = Running
	remaining := maxSteps
	for remaining > 0 && p.status == Running {
		slice := remaining
		if p.profiler != nil && slice > p.opts.ProfileInterval {
			slice = p.opts.ProfileInterval
		}
		p.cycles = slice
		p.run()
		if p.trigger.requested {
			p.trigger.resume()
			p.collect()
		}
		remaining -= slice - p.cycles
		if p.profiler != nil {
			_, fn := p.prog.FuncAt(p.lastPC)
			p.profiler.RecordSample(fn.Name, p.prog.LineAt(p.lastPC))
		}
	}
	p.cycles = 0
	if p.status == Running {
		p.status = Suspended
	}
	return p.status
}

// collect reclaims cells stranded by traps.
func (p *Proc) collect() {
	n := p.heap.Collect(p.stack[:p.sp], p.consts)
	log.Debugf("proc %s: gc reclaimed %d cells, %d live", p.ID, n, p.heap.Live())
}

// run is the dispatch loop. It returns when the cycle budget is exhausted
// or the status leaves Running.
func (p *Proc) run() {
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Sprintf("internal error at pc %d: %v", p.lastPC, r))
		}
	}()

	h := p.heap
	code := p.prog.Code

	for p.cycles > 0 && p.status == Running {
		p.cycles--
		p.steps++
		p.lastPC = p.pc
		op := Opcode(code[p.pc])
		p.pc++

		switch op {
		// --- Stack ---
		case OpNop:

		case OpComment:
			p.pc += 8

		case OpPushInt:
			p.push(h.NewInt(p.i64()))

		case OpPushConst:
			v := p.consts[p.u16()]
			h.IncRef(v)
			p.push(v)

		case OpPushTrue:
			p.push(True)

		case OpPushFalse:
			p.push(False)

		case OpPop:
			h.DecRef(p.pop())

		case OpDup:
			v := p.top()
			h.IncRef(v)
			p.push(v)

		// --- Variables ---
		case OpLoadV:
			s, level, idx := p.varOperand()
			v := p.stack[s]
			if v == Undef {
				p.trap(p.undefMsg(level, idx))
				continue
			}
			h.IncRef(v)
			p.push(v)

		case OpStoreV:
			s, _, _ := p.varOperand()
			old := p.stack[s]
			p.stack[s] = p.pop()
			h.DecRef(old)

		case OpLoadVu:
			s, level, idx := p.varOperand()
			v := p.stack[s]
			if v == Undef {
				p.trap(p.undefMsg(level, idx))
				continue
			}
			p.stack[s] = Undef
			p.push(h.Uniq(v))

		case OpUndefine:
			s, _, _ := p.varOperand()
			h.DecRef(p.stack[s])
			p.stack[s] = Undef

		case OpInc64:
			s, level, idx := p.varOperand()
			delta := int64(int8(p.u8()))
			v := p.stack[s]
			if v == Undef {
				p.trap(p.undefMsg(level, idx))
				continue
			}
			p.stack[s] = h.NewInt(h.Int(v) + delta)
			h.DecRef(v)

		// --- Tuple fields ---
		case OpFLoadV:
			f := p.u16()
			t := p.pop()
			x := h.Elems(t)[f]
			h.IncRef(x)
			h.DecRef(t)
			if x == Undef {
				p.trap("undefined tuple field")
				continue
			}
			p.push(x)

		case OpFStoreV:
			s, level, idx := p.varOperand()
			f := p.u16()
			x := p.pop()
			t := p.stack[s]
			if t == Undef {
				h.DecRef(x)
				p.trap(p.undefMsg(level, idx))
				continue
			}
			t = h.Uniq(t)
			p.stack[s] = t
			h.SetElem(t, f, x)
			h.SetInProto(t, f, true)

		case OpFIncr:
			s, level, idx := p.varOperand()
			f := p.u16()
			delta := int64(int8(p.u8()))
			t := p.stack[s]
			if t == Undef {
				p.trap(p.undefMsg(level, idx))
				continue
			}
			t = h.Uniq(t)
			p.stack[s] = t
			old := h.Elems(t)[f]
			if old == Undef {
				p.trap("undefined tuple field")
				continue
			}
			h.SetElem(t, f, h.NewInt(h.Int(old)+delta))
			h.SetInProto(t, f, true)

		case OpFTestB:
			f := p.u16()
			t := p.pop()
			b := h.InProto(t, f)
			h.DecRef(t)
			p.push(NewBool(b))

		case OpFSetB, OpFClearB:
			s, level, idx := p.varOperand()
			f := p.u16()
			t := p.stack[s]
			if t == Undef {
				p.trap(p.undefMsg(level, idx))
				continue
			}
			t = h.Uniq(t)
			p.stack[s] = t
			h.SetInProto(t, f, op == OpFSetB)

		case OpFTake:
			f := p.u16()
			x := h.TakeElem(p.top(), f)
			if x == Undef {
				p.trap("undefined tuple field")
				continue
			}
			p.push(h.Uniq(x))

		case OpFPut:
			f := p.u16()
			x := p.pop()
			t := p.top()
			h.SetElem(t, f, x)
			h.SetInProto(t, f, true)

		// --- Indexed access ---
		case OpXLoadV, OpXLoad8, OpXLoadR:
			i := p.popInt()
			a := p.pop()
			n := h.Len(a)
			if i < 0 || i >= int64(n) {
				h.DecRef(a)
				p.trap(boundsMsg(i, n))
				continue
			}
			var x Value
			switch op {
			case OpXLoadV:
				x = h.Elems(a)[i]
				if x == Undef {
					h.DecRef(a)
					p.trap("undefined array element")
					continue
				}
				h.IncRef(x)
			case OpXLoad8:
				x = small(int64(h.Bytes(a)[i]))
			default:
				x = small(int64(h.StringRuneAt(a, int(i))))
			}
			h.DecRef(a)
			p.push(x)

		case OpXStoreV, OpXStore8, OpXStoreR:
			s, level, idx := p.varOperand()
			x := p.pop()
			i := p.popInt()
			a := p.stack[s]
			if a == Undef {
				h.DecRef(x)
				p.trap(p.undefMsg(level, idx))
				continue
			}
			if n := h.Len(a); i < 0 || i >= int64(n) {
				h.DecRef(x)
				p.trap(boundsMsg(i, n))
				continue
			}
			a = h.Uniq(a)
			p.stack[s] = a
			p.storeIndexed(op, a, int(i), x)

		case OpXInc64, OpXInc8, OpXIncR:
			s, level, idx := p.varOperand()
			delta := int64(int8(p.u8()))
			i := p.popInt()
			a := p.stack[s]
			if a == Undef {
				p.trap(p.undefMsg(level, idx))
				continue
			}
			if n := h.Len(a); i < 0 || i >= int64(n) {
				p.trap(boundsMsg(i, n))
				continue
			}
			a = h.Uniq(a)
			p.stack[s] = a
			switch op {
			case OpXInc64:
				old := h.Elems(a)[i]
				if old == Undef {
					p.trap("undefined array element")
					continue
				}
				h.SetElem(a, int(i), h.NewInt(h.Int(old)+delta))
			case OpXInc8:
				h.SetByte(a, int(i), h.Bytes(a)[i]+byte(delta))
			default:
				h.SetRune(a, int(i), h.StringRuneAt(a, int(i))+rune(delta))
			}

		case OpXTake, OpX8Take, OpXRTake:
			i := h.Int(p.top())
			a := p.stack[p.sp-2]
			if n := h.Len(a); i < 0 || i >= int64(n) {
				p.trap(boundsMsg(i, n))
				continue
			}
			switch op {
			case OpXTake:
				x := h.TakeElem(a, int(i))
				if x == Undef {
					p.trap("undefined array element")
					continue
				}
				p.push(h.Uniq(x))
			case OpX8Take:
				p.push(small(int64(h.Bytes(a)[i])))
			default:
				p.push(small(int64(h.StringRuneAt(a, int(i)))))
			}

		case OpXPut, OpX8Put, OpXRPut:
			x := p.pop()
			i := p.popInt()
			a := p.top()
			if n := h.Len(a); i < 0 || i >= int64(n) {
				h.DecRef(x)
				p.trap(boundsMsg(i, n))
				continue
			}
			p.storeIndexed(op, a, int(i), x)

		// --- Maps ---
		case OpMLoadV:
			k := p.pop()
			i, ok := h.MapLookup(p.top(), k)
			h.DecRef(k)
			if !ok {
				p.trap("map key was not present")
				continue
			}
			p.push(small(int64(i)))

		case OpMIndexV:
			i := int(p.pop().payload())
			m := p.pop()
			x := h.MapFetch(m, i)
			h.IncRef(x)
			h.DecRef(m)
			if x == Undef {
				p.trap("undefined map value")
				continue
			}
			p.push(x)

		case OpMStoreV:
			s, level, idx := p.varOperand()
			x := p.pop()
			k := p.pop()
			m := p.stack[s]
			if m == Undef {
				h.DecRef(x)
				h.DecRef(k)
				p.trap(p.undefMsg(level, idx))
				continue
			}
			m = h.Uniq(m)
			p.stack[s] = m
			h.MapSetValue(m, h.MapInsert(m, k), x)

		case OpMInc64:
			s, level, idx := p.varOperand()
			delta := int64(int8(p.u8()))
			k := p.pop()
			m := p.stack[s]
			if m == Undef {
				h.DecRef(k)
				p.trap(p.undefMsg(level, idx))
				continue
			}
			m = h.Uniq(m)
			p.stack[s] = m
			i, ok := h.MapLookup(m, k)
			h.DecRef(k)
			if !ok {
				p.trap("map key was not present")
				continue
			}
			h.MapIncValue(m, i, delta)

		case OpMTake:
			m := p.stack[p.sp-2]
			i, ok := h.MapLookup(m, p.top())
			if !ok {
				p.trap("map key was not present")
				continue
			}
			x := h.MapTakeValue(m, i)
			if x == Undef {
				p.trap("undefined map value")
				continue
			}
			p.push(h.Uniq(x))

		case OpMPut:
			x := p.pop()
			k := p.pop()
			m := p.top()
			h.MapSetValue(m, h.MapInsert(m, k), x)

		// --- Slices ---
		case OpSLoadV, OpSLoad8, OpSLoadR:
			end := p.popInt()
			beg := p.popInt()
			a := p.pop()
			v := h.Slice(a, beg, end)
			h.DecRef(a)
			p.push(v)

		case OpSStoreV:
			s, level, idx := p.varOperand()
			x := p.pop()
			end := p.popInt()
			beg := p.popInt()
			a := p.stack[s]
			if a == Undef {
				h.DecRef(x)
				p.trap(p.undefMsg(level, idx))
				continue
			}
			if n := h.Len(a); beg < 0 || beg > end || end > int64(n) {
				h.DecRef(x)
				p.trap(sliceMsg(beg, end, n))
				continue
			}
			a = h.Uniq(a)
			p.stack[s] = a
			h.ReplaceRange(a, int(beg), int(end), x)
			h.DecRef(x)

		case OpSPut:
			x := p.pop()
			end := p.popInt()
			beg := p.popInt()
			a := p.top()
			if n := h.Len(a); beg < 0 || beg > end || end > int64(n) {
				h.DecRef(x)
				p.trap(sliceMsg(beg, end, n))
				continue
			}
			h.ReplaceRange(a, int(beg), int(end), x)
			h.DecRef(x)

		// --- Integer arithmetic ---
		case OpAddInt, OpSubInt, OpMulInt, OpDivInt, OpModInt, OpShlInt, OpShrInt,
			OpAndInt, OpOrInt, OpXorInt:
			y := p.popInt()
			x := p.popInt()
			r, ok := intArith(op, x, y)
			if !ok {
				p.trap("divide by zero")
				continue
			}
			p.push(h.NewInt(r))

		case OpNegInt:
			p.push(h.NewInt(-p.popInt()))

		case OpNotInt:
			p.push(h.NewInt(^p.popInt()))

		case OpAddUInt, OpSubUInt, OpMulUInt, OpDivUInt, OpModUInt, OpShlUInt, OpShrUInt,
			OpAndUInt, OpOrUInt, OpXorUInt:
			y := p.popUInt()
			x := p.popUInt()
			r, ok := uintArith(op, x, y)
			if !ok {
				p.trap("divide by zero")
				continue
			}
			p.push(h.NewUInt(r))

		case OpNegUInt:
			p.push(h.NewUInt(-p.popUInt()))

		case OpNotUInt:
			p.push(h.NewUInt(^p.popUInt()))

		// --- Float and other arithmetic ---
		case OpAddFloat, OpSubFloat, OpMulFloat, OpDivFloat, OpModFloat:
			y := p.popFloat()
			x := p.popFloat()
			var r float64
			switch op {
			case OpAddFloat:
				r = x + y
			case OpSubFloat:
				r = x - y
			case OpMulFloat:
				r = x * y
			case OpDivFloat:
				r = x / y
			default:
				r = math.Mod(x, y)
			}
			p.push(h.NewFloat(r))

		case OpNegFloat:
			p.push(h.NewFloat(-p.popFloat()))

		case OpAddString, OpAddBytes, OpAddArray:
			y := p.pop()
			x := p.pop()
			r := h.Concat(x, y)
			h.DecRef(x)
			h.DecRef(y)
			p.push(r)

		case OpAddTime, OpSubTime:
			d := p.popInt()
			t := p.pop()
			u := h.Bits(t)
			h.DecRef(t)
			if op == OpAddTime {
				u += uint64(d)
			} else {
				u -= uint64(d)
			}
			p.push(h.NewTime(u))

		case OpAddFpr:
			y := p.pop()
			x := p.pop()
			r := combineFingerprints(h.Bits(x), h.Bits(y))
			h.DecRef(x)
			h.DecRef(y)
			p.push(h.NewFingerprint(r))

		case OpNot:
			p.push(NewBool(p.pop() != True))

		// --- Comparisons ---
		case OpCmpInt:
			cond := byte(p.u8())
			y := p.popInt()
			x := p.popInt()
			p.cc = compare(cond, cmp3(x, y))

		case OpCmpUInt:
			cond := byte(p.u8())
			y := p.popUInt()
			x := p.popUInt()
			p.cc = compare(cond, cmp3(x, y))

		case OpCmpFloat:
			cond := byte(p.u8())
			y := p.popFloat()
			x := p.popFloat()
			p.cc = compareFloat(cond, x, y)

		case OpCmpString, OpCmpBytes:
			cond := byte(p.u8())
			y := p.pop()
			x := p.pop()
			c := bytes.Compare(h.Bytes(x), h.Bytes(y))
			h.DecRef(x)
			h.DecRef(y)
			p.cc = compare(cond, c)

		case OpCmpValue:
			cond := byte(p.u8())
			y := p.pop()
			x := p.pop()
			eq := h.IsEqual(x, y)
			h.DecRef(x)
			h.DecRef(y)
			p.cc = eq == (cond == CondEQ)

		case OpGetCC:
			p.push(NewBool(p.cc))

		case OpTestBool:
			p.cc = p.pop() == True

		// --- Control flow ---
		case OpBranch:
			p.pc = p.i32()

		case OpBranchTrue:
			target := p.i32()
			if p.cc {
				p.pc = target
			}

		case OpBranchFalse:
			target := p.i32()
			if !p.cc {
				p.pc = target
			}

		case OpTrapFalse:
			msg := h.String(p.consts[p.u16()])
			if !p.cc {
				p.HandleTrap("assertion failed: "+msg, true)
			}

		case OpEnter:
			p.enter(p.prog.Funcs[p.u16()])

		case OpRet:
			p.leave()

		case OpRetV:
			v := p.pop()
			p.leave()
			p.push(v)

		case OpRetU:
			_, fn := p.prog.FuncAt(p.lastPC)
			p.trap("missing return value in " + fn.Name)

		case OpCallI:
			target := p.i32()
			p.retPC = p.pc
			p.pc = target

		case OpCall:
			c := p.pop()
			entry, ctx, serial := h.Closure(c)
			h.DecRef(c)
			if ctx >= p.sp || p.stack[ctx+frameHeader] != small(serial) {
				p.trap("function value called after its enclosing scope exited")
				continue
			}
			p.bp = ctx
			p.retPC = p.pc
			p.pc = entry

		case OpCallC, OpCallCNF:
			fn := p.u16()
			nargs := p.u8()
			aux := p.u16()
			in := &intrinsicTable[fn]
			args := make([]Value, nargs)
			copy(args, p.stack[p.sp-nargs:p.sp])
			r, msg := in.Fn(p, args, aux)
			p.dropTo(p.sp - nargs)
			if msg != "" {
				p.HandleTrap(in.Name+": "+msg, op == OpCallCNF)
				continue
			}
			if !in.Void {
				p.push(r)
			}

		case OpCreateC:
			entry := p.i32()
			ctx := p.frameBase(p.u8())
			t := p.prog.Types[p.u16()]
			serial := p.stack[ctx+frameHeader].payload()
			p.push(h.NewClosure(t, entry, ctx, serial))

		case OpSetBP:
			p.bp = p.frameBase(p.u8())

		case OpStop, OpTerminate:
			if p.trapCount > 0 && !p.initializing {
				p.status = Trapped
			} else {
				p.status = Terminated
			}

		case OpVerifySP:
			want := p.u16()
			if got := p.sp - p.fp; got != want {
				p.HandleTrap(fmt.Sprintf("stack height %d, expected %d", got, want), true)
			}

		// --- Construction ---
		case OpNewArray:
			t := p.prog.Types[p.u16()]
			n := p.u16()
			elems := make([]Value, n)
			copy(elems, p.stack[p.sp-n:p.sp])
			for i := p.sp - n; i < p.sp; i++ {
				p.stack[i] = Undef
			}
			p.sp -= n
			p.push(h.NewArray(t, elems))

		case OpNewMap:
			t := p.prog.Types[p.u16()]
			n := p.u16()
			base := p.sp - 2*n
			m := h.NewMap(t, n)
			for i := 0; i < n; i++ {
				k, v := p.stack[base+2*i], p.stack[base+2*i+1]
				p.stack[base+2*i], p.stack[base+2*i+1] = Undef, Undef
				h.MapSetValue(m, h.MapInsert(m, k), v)
			}
			p.sp = base
			p.push(m)

		case OpNewTuple:
			t := p.prog.Types[p.u16()]
			n := len(t.Fields)
			slots := make([]Value, n)
			copy(slots, p.stack[p.sp-n:p.sp])
			for i := p.sp - n; i < p.sp; i++ {
				p.stack[i] = Undef
			}
			p.sp -= n
			p.push(h.NewTuple(t, slots))

		case OpLen:
			v := p.pop()
			n := h.Len(v)
			h.DecRef(v)
			p.push(small(int64(n)))

		case OpConv:
			from := p.u8()
			to := p.u8()
			v := p.pop()
			r, msg := p.convert(kindOf(from), kindOf(to), v)
			h.DecRef(v)
			if msg != "" {
				p.trap(msg)
				continue
			}
			p.push(r)

		case OpBytes2Proto:
			t := p.prog.Types[p.u16()]
			b := p.pop()
			if p.opts.Converter == nil {
				h.DecRef(b)
				p.trap("no protocol buffer converter configured")
				continue
			}
			r, err := p.opts.Converter.ToTuple(h, t, h.Bytes(b))
			h.DecRef(b)
			if err != nil {
				p.trap(err.Error())
				continue
			}
			p.push(r)

		case OpProto2Bytes:
			t := p.prog.Types[p.u16()]
			v := p.pop()
			if p.opts.Converter == nil {
				h.DecRef(v)
				p.trap("no protocol buffer converter configured")
				continue
			}
			b, err := p.opts.Converter.ToBytes(h, t, v)
			h.DecRef(v)
			if err != nil {
				p.trap(err.Error())
				continue
			}
			p.push(h.newBytesOwned(b))

		// --- Output ---
		case OpEmit:
			out := p.outputs[p.u16()]
			if err := out.emit(p); err != nil {
				p.HandleTrap(fmt.Sprintf("emit to %s: %v", out.Name(), err), true)
			}

		case OpFdPrint:
			fd := p.u8()
			ts := p.prog.TypeLists[p.u16()]
			s := p.popFormatted(ts)
			w := p.opts.Stdout
			if fd == 2 {
				w = p.opts.Stderr
			}
			fmt.Fprintln(w, s)

		case OpFormat:
			ts := p.prog.TypeLists[p.u16()]
			p.push(h.NewString(p.popFormatted(ts)))

		case OpCount:
			p.counters[p.u16()]++

		default:
			p.HandleTrap(fmt.Sprintf("unknown opcode %s at pc %d", op, p.lastPC), true)
		}
	}
}

// enter allocates the frame of fn. The arguments already pushed by the
// caller move up into the parameter slots.
func (p *Proc) enter(fn *FuncInfo) {
	newFP := p.sp - fn.NParams
	if need := newFP + fn.FrameSize() + fn.MaxTemps; need > len(p.stack) {
		p.HandleTrap(fmt.Sprintf("%v in %s: %d slots needed, %d available; increase --stack_size",
			ErrStackOverflow, fn.Name, need, len(p.stack)), true)
		return
	}
	dst := newFP + frameHeader + 1 + fn.NLocals
	copy(p.stack[dst:dst+fn.NParams], p.stack[newFP:p.sp])
	for i := newFP + frameHeader + 1; i < dst; i++ {
		p.stack[i] = Undef
	}
	p.stack[newFP] = small(int64(p.fp))
	p.stack[newFP+1] = small(int64(p.bp))
	p.stack[newFP+2] = small(int64(p.retPC))
	p.serial++
	p.stack[newFP+frameHeader] = small(p.serial)
	p.fp, p.bp = newFP, newFP
	p.sp = newFP + fn.FrameSize()
}

// storeIndexed writes x into element i of the unique sequence a.
func (p *Proc) storeIndexed(op Opcode, a Value, i int, x Value) {
	h := p.heap
	switch op {
	case OpXStoreV, OpXPut:
		h.SetElem(a, i, x)
	case OpXStore8, OpX8Put:
		h.SetByte(a, i, byte(h.Int(x)))
	default:
		h.SetRune(a, i, rune(h.Int(x)))
	}
}

// ---------------------------------------------------------------------------
// Arithmetic helpers
// ---------------------------------------------------------------------------

func intArith(op Opcode, x, y int64) (int64, bool) {
	switch op {
	case OpAddInt:
		return x + y, true
	case OpSubInt:
		return x - y, true
	case OpMulInt:
		return x * y, true
	case OpDivInt:
		if y == 0 {
			return 0, false
		}
		return x / y, true
	case OpModInt:
		if y == 0 {
			return 0, false
		}
		return x % y, true
	case OpShlInt:
		if y < 0 || y >= 64 {
			return 0, true
		}
		return x << uint(y), true
	case OpShrInt:
		if y < 0 || y >= 64 {
			return x >> 63, true
		}
		return x >> uint(y), true
	case OpAndInt:
		return x & y, true
	case OpOrInt:
		return x | y, true
	default:
		return x ^ y, true
	}
}

func uintArith(op Opcode, x, y uint64) (uint64, bool) {
	switch op {
	case OpAddUInt:
		return x + y, true
	case OpSubUInt:
		return x - y, true
	case OpMulUInt:
		return x * y, true
	case OpDivUInt:
		if y == 0 {
			return 0, false
		}
		return x / y, true
	case OpModUInt:
		if y == 0 {
			return 0, false
		}
		return x % y, true
	case OpShlUInt:
		if y >= 64 {
			return 0, true
		}
		return x << y, true
	case OpShrUInt:
		if y >= 64 {
			return 0, true
		}
		return x >> y, true
	case OpAndUInt:
		return x & y, true
	case OpOrUInt:
		return x | y, true
	default:
		return x ^ y, true
	}
}

func cmp3[T int64 | uint64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compare(cond byte, c int) bool {
	switch cond {
	case CondEQ:
		return c == 0
	case CondNE:
		return c != 0
	case CondLT:
		return c < 0
	case CondLE:
		return c <= 0
	case CondGT:
		return c > 0
	default:
		return c >= 0
	}
}

// compareFloat follows IEEE rules: every comparison with NaN is false
// except !=.
func compareFloat(cond byte, x, y float64) bool {
	switch cond {
	case CondEQ:
		return x == y
	case CondNE:
		return x != y
	case CondLT:
		return x < y
	case CondLE:
		return x <= y
	case CondGT:
		return x > y
	default:
		return x >= y
	}
}
