package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
//
// Variable operands are encoded as a static-link level (u8) followed by a
// slot index (u16). Multi-byte operands are little-endian. Branch targets
// are absolute code offsets.
type Opcode byte

// Stack Operations
const (
	OpNop       Opcode = 0x00 // padding
	OpComment   Opcode = 0x01 // skip an 8-byte payload
	OpPushInt   Opcode = 0x02 // push int (8-byte immediate)
	OpPushConst Opcode = 0x03 // push constant (16-bit pool index)
	OpPushTrue  Opcode = 0x04
	OpPushFalse Opcode = 0x05
	OpPop       Opcode = 0x06
	OpDup       Opcode = 0x07
)

// Variable Operations
const (
	OpLoadV    Opcode = 0x10 // push variable, trap if undefined
	OpStoreV   Opcode = 0x11 // pop into variable
	OpLoadVu   Opcode = 0x12 // move variable onto the stack, made unique
	OpUndefine Opcode = 0x13 // set variable undefined
	OpInc64    Opcode = 0x14 // int variable += delta (i8)
)

// Tuple Field Operations
const (
	OpFLoadV  Opcode = 0x18 // [t] -> [t.f]
	OpFStoreV Opcode = 0x19 // var.f = pop
	OpFIncr   Opcode = 0x1A // var.f += delta (i8)
	OpFTestB  Opcode = 0x1B // [t] -> [inproto(t.f)]
	OpFSetB   Opcode = 0x1C // set in-proto bit of var.f
	OpFClearB Opcode = 0x1D // clear in-proto bit of var.f
	OpFTake   Opcode = 0x1E // [t] -> [t, t.f] moving the field out
	OpFPut    Opcode = 0x1F // [t, x] -> [t] with t.f = x
)

// Indexed Operations (V = value element, 8 = byte, R = rune)
const (
	OpXLoadV  Opcode = 0x20 // [a, i] -> [a[i]]
	OpXLoad8  Opcode = 0x21
	OpXLoadR  Opcode = 0x22
	OpXStoreV Opcode = 0x23 // [i, x] -> [] with var[i] = x
	OpXStore8 Opcode = 0x24
	OpXStoreR Opcode = 0x25
	OpXInc64  Opcode = 0x26 // [i] -> [] with var[i] += delta (i8)
	OpXInc8   Opcode = 0x27
	OpXIncR   Opcode = 0x28
	OpXTake   Opcode = 0x29 // [a, i] -> [a, i, a[i]] moving the element out
	OpXPut    Opcode = 0x2A // [a, i, x] -> [a] with a[i] = x
	OpX8Take  Opcode = 0x2B
	OpX8Put   Opcode = 0x2C
	OpXRTake  Opcode = 0x2D
	OpXRPut   Opcode = 0x2E
)

// Map Operations
const (
	OpMLoadV  Opcode = 0x30 // [m, k] -> [m, index], trap if absent
	OpMIndexV Opcode = 0x31 // [m, index] -> [m[index]]
	OpMStoreV Opcode = 0x33 // [k, x] -> [] with var[k] = x
	OpMInc64  Opcode = 0x34 // [k] -> [] with var[k] += delta (i8)
	OpMTake   Opcode = 0x35 // [m, k] -> [m, k, m[k]] moving the value out
	OpMPut    Opcode = 0x36 // [m, k, x] -> [m] with m[k] = x
)

// Slice Operations
const (
	OpSLoadV  Opcode = 0x38 // [a, beg, end] -> [a[beg:end]] clamped
	OpSLoad8  Opcode = 0x39
	OpSLoadR  Opcode = 0x3A
	OpSStoreV Opcode = 0x3B // [beg, end, x] -> [] with var[beg:end] = x
	OpSPut    Opcode = 0x3C // [a, beg, end, x] -> [a]
)

// Integer Arithmetic
const (
	OpAddInt Opcode = 0x40 + iota
	OpSubInt
	OpMulInt
	OpDivInt
	OpModInt
	OpShlInt
	OpShrInt
	OpAndInt
	OpOrInt
	OpXorInt
	OpNegInt
	OpNotInt
)

// Unsigned Arithmetic
const (
	OpAddUInt Opcode = 0x50 + iota
	OpSubUInt
	OpMulUInt
	OpDivUInt
	OpModUInt
	OpShlUInt
	OpShrUInt
	OpAndUInt
	OpOrUInt
	OpXorUInt
	OpNegUInt
	OpNotUInt
)

// Float and Other Arithmetic
const (
	OpAddFloat  Opcode = 0x60
	OpSubFloat  Opcode = 0x61
	OpMulFloat  Opcode = 0x62
	OpDivFloat  Opcode = 0x63
	OpModFloat  Opcode = 0x64
	OpNegFloat  Opcode = 0x65
	OpAddString Opcode = 0x68
	OpAddBytes  Opcode = 0x69
	OpAddArray  Opcode = 0x6A
	OpAddTime   Opcode = 0x6B // time + int
	OpSubTime   Opcode = 0x6C // time - int
	OpAddFpr    Opcode = 0x6D // fingerprint combination
	OpNot       Opcode = 0x6E // boolean not
)

// Comparisons set the condition code.
const (
	OpCmpInt    Opcode = 0x70 // cond (u8)
	OpCmpUInt   Opcode = 0x71 // also time and fingerprint
	OpCmpFloat  Opcode = 0x72
	OpCmpString Opcode = 0x73
	OpCmpBytes  Opcode = 0x74
	OpCmpValue  Opcode = 0x75 // structural eq/ne only
	OpGetCC     Opcode = 0x78 // push cc as bool
	OpTestBool  Opcode = 0x79 // pop bool into cc
)

// Comparison conditions.
const (
	CondEQ byte = iota
	CondNE
	CondLT
	CondLE
	CondGT
	CondGE
)

var condNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

// Control Flow
const (
	OpBranch      Opcode = 0x80 // absolute target (i32)
	OpBranchTrue  Opcode = 0x81 // branch if cc
	OpBranchFalse Opcode = 0x82 // branch if !cc
	OpTrapFalse   Opcode = 0x83 // trap with constant message if !cc
	OpEnter       Opcode = 0x84 // allocate frame for function (u16)
	OpRet         Opcode = 0x85
	OpRetV        Opcode = 0x86
	OpRetU        Opcode = 0x87 // fell off the end of a function with a result
	OpCallI       Opcode = 0x88 // direct call (i32 entry)
	OpCall        Opcode = 0x89 // pop closure and call
	OpCallC       Opcode = 0x8A // intrinsic (u16), nargs (u8), regex (u16)
	OpCallCNF     Opcode = 0x8B // intrinsic that cannot fail
	OpCreateC     Opcode = 0x8C // closure: entry (i32), level (u8), type (u16)
	OpSetBP       Opcode = 0x8D // bp = static link at level (u8)
	OpStop        Opcode = 0x8E // end of init or main code
	OpTerminate   Opcode = 0x8F // end the run early
	OpVerifySP    Opcode = 0x90 // assert sp - fp == u16
)

// Value Construction
const (
	OpNewArray    Opcode = 0x98 // type (u16), count (u16)
	OpNewMap      Opcode = 0x99 // type (u16), pair count (u16)
	OpNewTuple    Opcode = 0x9A // type (u16)
	OpLen         Opcode = 0x9B
	OpConv        Opcode = 0x9C // from kind (u8), to kind (u8)
	OpBytes2Proto Opcode = 0x9D // tuple type (u16)
	OpProto2Bytes Opcode = 0x9E // tuple type (u16)
)

// Output
const (
	OpEmit    Opcode = 0xA0 // table (u16)
	OpFdPrint Opcode = 0xA1 // fd (u8), argument type list (u16)
	OpFormat  Opcode = 0xA2 // argument type list (u16)
	OpCount   Opcode = 0xA3 // line counter (u16)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// VariableEffect marks opcodes whose stack effect depends on operands.
const VariableEffect = -128

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes
	StackEffect  int    // net effect on stack, or VariableEffect
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:       {"NOP", 0, 0},
	OpComment:   {"COMMENT", 8, 0},
	OpPushInt:   {"PUSH_INT", 8, 1},
	OpPushConst: {"PUSH_CONST", 2, 1},
	OpPushTrue:  {"PUSH_TRUE", 0, 1},
	OpPushFalse: {"PUSH_FALSE", 0, 1},
	OpPop:       {"POP", 0, -1},
	OpDup:       {"DUP", 0, 1},

	OpLoadV:    {"LOADV", 3, 1},
	OpStoreV:   {"STOREV", 3, -1},
	OpLoadVu:   {"LOADVU", 3, 1},
	OpUndefine: {"UNDEFINE", 3, 0},
	OpInc64:    {"INC64", 4, 0},

	OpFLoadV:  {"FLOADV", 2, 0},
	OpFStoreV: {"FSTOREV", 5, -1},
	OpFIncr:   {"FINCR", 6, 0},
	OpFTestB:  {"FTESTB", 2, 0},
	OpFSetB:   {"FSETB", 5, 0},
	OpFClearB: {"FCLEARB", 5, 0},
	OpFTake:   {"FTAKE", 2, 1},
	OpFPut:    {"FPUT", 2, -1},

	OpXLoadV:  {"XLOADV", 0, -1},
	OpXLoad8:  {"XLOAD8", 0, -1},
	OpXLoadR:  {"XLOADR", 0, -1},
	OpXStoreV: {"XSTOREV", 3, -2},
	OpXStore8: {"XSTORE8", 3, -2},
	OpXStoreR: {"XSTORER", 3, -2},
	OpXInc64:  {"XINC64", 4, -1},
	OpXInc8:   {"XINC8", 4, -1},
	OpXIncR:   {"XINCR", 4, -1},
	OpXTake:   {"XTAKE", 0, 1},
	OpXPut:    {"XPUT", 0, -2},
	OpX8Take:  {"X8TAKE", 0, 1},
	OpX8Put:   {"X8PUT", 0, -2},
	OpXRTake:  {"XRTAKE", 0, 1},
	OpXRPut:   {"XRPUT", 0, -2},

	OpMLoadV:  {"MLOADV", 0, 0},
	OpMIndexV: {"MINDEXV", 0, -1},
	OpMStoreV: {"MSTOREV", 3, -2},
	OpMInc64:  {"MINC64", 4, -1},
	OpMTake:   {"MTAKE", 0, 1},
	OpMPut:    {"MPUT", 0, -2},

	OpSLoadV:  {"SLOADV", 0, -2},
	OpSLoad8:  {"SLOAD8", 0, -2},
	OpSLoadR:  {"SLOADR", 0, -2},
	OpSStoreV: {"SSTOREV", 3, -3},
	OpSPut:    {"SPUT", 0, -3},

	OpAddInt: {"ADD_INT", 0, -1},
	OpSubInt: {"SUB_INT", 0, -1},
	OpMulInt: {"MUL_INT", 0, -1},
	OpDivInt: {"DIV_INT", 0, -1},
	OpModInt: {"MOD_INT", 0, -1},
	OpShlInt: {"SHL_INT", 0, -1},
	OpShrInt: {"SHR_INT", 0, -1},
	OpAndInt: {"AND_INT", 0, -1},
	OpOrInt:  {"OR_INT", 0, -1},
	OpXorInt: {"XOR_INT", 0, -1},
	OpNegInt: {"NEG_INT", 0, 0},
	OpNotInt: {"NOT_INT", 0, 0},

	OpAddUInt: {"ADD_UINT", 0, -1},
	OpSubUInt: {"SUB_UINT", 0, -1},
	OpMulUInt: {"MUL_UINT", 0, -1},
	OpDivUInt: {"DIV_UINT", 0, -1},
	OpModUInt: {"MOD_UINT", 0, -1},
	OpShlUInt: {"SHL_UINT", 0, -1},
	OpShrUInt: {"SHR_UINT", 0, -1},
	OpAndUInt: {"AND_UINT", 0, -1},
	OpOrUInt:  {"OR_UINT", 0, -1},
	OpXorUInt: {"XOR_UINT", 0, -1},
	OpNegUInt: {"NEG_UINT", 0, 0},
	OpNotUInt: {"NOT_UINT", 0, 0},

	OpAddFloat:  {"ADD_FLOAT", 0, -1},
	OpSubFloat:  {"SUB_FLOAT", 0, -1},
	OpMulFloat:  {"MUL_FLOAT", 0, -1},
	OpDivFloat:  {"DIV_FLOAT", 0, -1},
	OpModFloat:  {"MOD_FLOAT", 0, -1},
	OpNegFloat:  {"NEG_FLOAT", 0, 0},
	OpAddString: {"ADD_STRING", 0, -1},
	OpAddBytes:  {"ADD_BYTES", 0, -1},
	OpAddArray:  {"ADD_ARRAY", 0, -1},
	OpAddTime:   {"ADD_TIME", 0, -1},
	OpSubTime:   {"SUB_TIME", 0, -1},
	OpAddFpr:    {"ADD_FPR", 0, -1},
	OpNot:       {"NOT", 0, 0},

	OpCmpInt:    {"CMP_INT", 1, -2},
	OpCmpUInt:   {"CMP_UINT", 1, -2},
	OpCmpFloat:  {"CMP_FLOAT", 1, -2},
	OpCmpString: {"CMP_STRING", 1, -2},
	OpCmpBytes:  {"CMP_BYTES", 1, -2},
	OpCmpValue:  {"CMP_VALUE", 1, -2},
	OpGetCC:     {"GET_CC", 0, 1},
	OpTestBool:  {"TEST_BOOL", 0, -1},

	OpBranch:      {"BRANCH", 4, 0},
	OpBranchTrue:  {"BRANCH_TRUE", 4, 0},
	OpBranchFalse: {"BRANCH_FALSE", 4, 0},
	OpTrapFalse:   {"TRAP_FALSE", 2, 0},
	OpEnter:       {"ENTER", 2, 0},
	OpRet:         {"RET", 0, 0},
	OpRetV:        {"RETV", 0, -1},
	OpRetU:        {"RETU", 0, 0},
	OpCallI:       {"CALLI", 4, VariableEffect},
	OpCall:        {"CALL", 0, VariableEffect},
	OpCallC:       {"CALLC", 5, VariableEffect},
	OpCallCNF:     {"CALLCNF", 5, VariableEffect},
	OpCreateC:     {"CREATEC", 7, 1},
	OpSetBP:       {"SETBP", 1, 0},
	OpStop:        {"STOP", 0, 0},
	OpTerminate:   {"TERMINATE", 0, 0},
	OpVerifySP:    {"VERIFY_SP", 2, 0},

	OpNewArray:    {"NEW_ARRAY", 4, VariableEffect},
	OpNewMap:      {"NEW_MAP", 4, VariableEffect},
	OpNewTuple:    {"NEW_TUPLE", 2, VariableEffect},
	OpLen:         {"LEN", 0, 0},
	OpConv:        {"CONV", 2, 0},
	OpBytes2Proto: {"BYTES2PROTO", 2, 0},
	OpProto2Bytes: {"PROTO2BYTES", 2, 0},

	OpEmit:    {"EMIT", 2, VariableEffect},
	OpFdPrint: {"FD_PRINT", 3, VariableEffect},
	OpFormat:  {"FORMAT", 2, VariableEffect},
	OpCount:   {"COUNT", 2, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), OperandBytes: 0, StackEffect: 0}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 256),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, operand)
}

// EmitInt32 appends an opcode with a 32-bit operand.
func (b *BytecodeBuilder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(operand))
}

// EmitInt64 appends an opcode with a 64-bit operand.
func (b *BytecodeBuilder) EmitInt64(op Opcode, operand int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
}

// EmitVar appends an opcode addressing a variable.
func (b *BytecodeBuilder) EmitVar(op Opcode, level uint8, index uint16) {
	b.bytes = append(b.bytes, byte(op), level)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, index)
}

// EmitVarDelta appends a variable increment opcode.
func (b *BytecodeBuilder) EmitVarDelta(op Opcode, level uint8, index uint16, delta int8) {
	b.EmitVar(op, level, index)
	b.bytes = append(b.bytes, byte(delta))
}

// EmitVarField appends an opcode addressing a field of a tuple variable.
func (b *BytecodeBuilder) EmitVarField(op Opcode, level uint8, index uint16, field uint16) {
	b.EmitVar(op, level, index)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, field)
}

// EmitFieldIncr appends FINCR.
func (b *BytecodeBuilder) EmitFieldIncr(level uint8, index uint16, field uint16, delta int8) {
	b.EmitVarField(OpFIncr, level, index, field)
	b.bytes = append(b.bytes, byte(delta))
}

// EmitUint16Pair appends an opcode with two 16-bit operands.
func (b *BytecodeBuilder) EmitUint16Pair(op Opcode, x, y uint16) {
	b.EmitUint16(op, x)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, y)
}

// EmitBytePair appends an opcode with two byte operands.
func (b *BytecodeBuilder) EmitBytePair(op Opcode, x, y byte) {
	b.bytes = append(b.bytes, byte(op), x, y)
}

// EmitCallC appends an intrinsic call.
func (b *BytecodeBuilder) EmitCallC(op Opcode, intrinsic uint16, nargs uint8, regex uint16) {
	b.EmitUint16(op, intrinsic)
	b.bytes = append(b.bytes, nargs)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, regex)
}

// EmitCreateC appends a closure creation.
func (b *BytecodeBuilder) EmitCreateC(entry *Label, level uint8, typeIndex uint16) {
	b.EmitBranch(OpCreateC, entry)
	b.bytes = append(b.bytes, level)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, typeIndex)
}

// EmitFdPrint appends FD_PRINT.
func (b *BytecodeBuilder) EmitFdPrint(fd uint8, typeList uint16) {
	b.bytes = append(b.bytes, byte(OpFdPrint), fd)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, typeList)
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label is a code position that may be referenced before it is bound.
type Label struct {
	resolved bool
	position int   // target once resolved
	refs     []int // operand offsets waiting for the target
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Bound reports whether the label has been bound.
func (l *Label) Bound() bool {
	return l.resolved
}

// Position returns the bound position of the label.
func (l *Label) Position() int {
	return l.position
}

// Mark binds a label to the current position and patches references.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint32(b.bytes[ref:], uint32(label.position))
	}
	label.refs = nil
}

// EmitBranch appends an opcode whose first operand is the label's target.
func (b *BytecodeBuilder) EmitBranch(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(label.position))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0, 0, 0)
}

// ---------------------------------------------------------------------------
// Bytecode reader for disassembly
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint16 reads a 16-bit operand.
func (r *BytecodeReader) ReadUint16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadInt32 reads a 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return int32(v)
}

// ReadInt64 reads a 64-bit operand.
func (r *BytecodeReader) ReadInt64() int64 {
	if r.pos+8 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return int64(v)
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles the instruction at the reader's
// position and advances past it.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch op {
	case OpPushInt:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadInt64())

	case OpComment:
		r.Skip(8)
		return fmt.Sprintf("%04d  %s", pos, info.Name)

	case OpPushConst, OpFLoadV, OpFTestB, OpFTake, OpFPut, OpTrapFalse, OpEnter,
		OpNewTuple, OpBytes2Proto, OpProto2Bytes, OpEmit, OpFormat, OpCount, OpVerifySP:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadUint16())

	case OpLoadV, OpStoreV, OpLoadVu, OpUndefine, OpXStoreV, OpXStore8, OpXStoreR,
		OpMStoreV, OpSStoreV:
		level := r.ReadByte()
		idx := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %d:%d", pos, info.Name, level, idx)

	case OpInc64, OpXInc64, OpXInc8, OpXIncR, OpMInc64:
		level := r.ReadByte()
		idx := r.ReadUint16()
		delta := int8(r.ReadByte())
		return fmt.Sprintf("%04d  %s %d:%d %+d", pos, info.Name, level, idx, delta)

	case OpFStoreV, OpFSetB, OpFClearB:
		level := r.ReadByte()
		idx := r.ReadUint16()
		field := r.ReadUint16()
		return fmt.Sprintf("%04d  %s %d:%d .%d", pos, info.Name, level, idx, field)

	case OpFIncr:
		level := r.ReadByte()
		idx := r.ReadUint16()
		field := r.ReadUint16()
		delta := int8(r.ReadByte())
		return fmt.Sprintf("%04d  %s %d:%d .%d %+d", pos, info.Name, level, idx, field, delta)

	case OpCmpInt, OpCmpUInt, OpCmpFloat, OpCmpString, OpCmpBytes, OpCmpValue:
		cond := r.ReadByte()
		name := "?"
		if int(cond) < len(condNames) {
			name = condNames[cond]
		}
		return fmt.Sprintf("%04d  %s %s", pos, info.Name, name)

	case OpBranch, OpBranchTrue, OpBranchFalse, OpCallI:
		return fmt.Sprintf("%04d  %s -> %04d", pos, info.Name, r.ReadInt32())

	case OpCallC, OpCallCNF:
		fn := r.ReadUint16()
		nargs := r.ReadByte()
		re := r.ReadUint16()
		name := fmt.Sprintf("#%d", fn)
		if int(fn) < len(intrinsicTable) {
			name = intrinsicTable[fn].Name
		}
		if re != NoRegex {
			return fmt.Sprintf("%04d  %s %s nargs=%d regex=%d", pos, info.Name, name, nargs, re)
		}
		return fmt.Sprintf("%04d  %s %s nargs=%d", pos, info.Name, name, nargs)

	case OpCreateC:
		entry := r.ReadInt32()
		level := r.ReadByte()
		typ := r.ReadUint16()
		return fmt.Sprintf("%04d  %s -> %04d level=%d type=%d", pos, info.Name, entry, level, typ)

	case OpSetBP:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, r.ReadByte())

	case OpNewArray, OpNewMap:
		typ := r.ReadUint16()
		n := r.ReadUint16()
		return fmt.Sprintf("%04d  %s type=%d n=%d", pos, info.Name, typ, n)

	case OpConv:
		from := r.ReadByte()
		to := r.ReadByte()
		return fmt.Sprintf("%04d  %s %d->%d", pos, info.Name, from, to)

	case OpFdPrint:
		fd := r.ReadByte()
		list := r.ReadUint16()
		return fmt.Sprintf("%04d  %s fd=%d types=%d", pos, info.Name, fd, list)

	default:
		r.Skip(info.OperandBytes)
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var sb strings.Builder
	for r.HasMore() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(DisassembleInstruction(r))
	}
	return sb.String()
}
