package vm

import (
	"unicode/utf8"

	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Value: tagged handle into the heap
// ---------------------------------------------------------------------------

// Value is a handle to a runtime value.
//
// Encoding:
//   - 0 is the undefined value.
//   - Odd handles carry a 63-bit signed integer payload inline. They have no
//     cell and no reference count. Whether the payload is an int or a uint
//     follows from the static type at the use site.
//   - Even handles are cell indices shifted left by one.
type Value uint64

// Undef is the undefined value.
const Undef Value = 0

// Inline integer range.
const (
	smallMin = -1 << 62
	smallMax = 1<<62 - 1
)

// Pinned cells. They are never freed and ignore reference counting.
const (
	falseCell = 1
	trueCell  = 2
	firstCell = 3
)

var (
	False = Value(falseCell << 1)
	True  = Value(trueCell << 1)
)

// IsSmall reports whether v is an inlined integer.
func (v Value) IsSmall() bool {
	return v&1 != 0
}

// IsUndef reports whether v is the undefined value.
func (v Value) IsUndef() bool {
	return v == Undef
}

func small(x int64) Value {
	return Value(uint64(x)<<1 | 1)
}

func (v Value) payload() int64 {
	return int64(v) >> 1
}

func (v Value) index() uint32 {
	return uint32(v >> 1)
}

func (v Value) counted() bool {
	return v != Undef && v&1 == 0 && v.index() >= firstCell
}

// ---------------------------------------------------------------------------
// Cells
// ---------------------------------------------------------------------------

// cell is the heap representation of a non-inlined value.
type cell struct {
	ref int32
	typ *types.Type

	// Bool, Int, UInt, Float (bits), Fingerprint, Time; closure entry pc.
	bits uint64

	// String and Bytes contents. For a slice view this aliases the
	// owner's buffer and base holds a reference to the owner.
	data  []byte
	runes int

	// Rune index cache for non-ASCII strings.
	hintRune int
	hintByte int

	// Array elements or tuple slots. For an array slice view the elements
	// belong to base and are not reference counted by the view.
	elems  []Value
	bitmap []byte // tuple in-proto bits

	base Value
	m    *mapStore

	// Closure context: frame index and the serial stored in that frame.
	ctx    int
	serial int64

	marked bool
}

func (c *cell) reset() {
	*c = cell{}
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

// Heap owns every cell of one Proc.
type Heap struct {
	cells []cell
	free  []uint32
	live  int

	allocs      int // allocations since the last collection
	gcThreshold int
	trigger     *GCTrigger

	scratch keyEncoder
}

// NewHeap creates a heap with the pinned bool cells in place.
func NewHeap() *Heap {
	h := &Heap{
		cells:       make([]cell, firstCell, 1024),
		gcThreshold: 1 << 20,
	}
	h.cells[falseCell] = cell{ref: 1, typ: types.BoolType, bits: 0}
	h.cells[trueCell] = cell{ref: 1, typ: types.BoolType, bits: 1}
	return h
}

// SetGCThreshold sets the number of allocations between collections.
func (h *Heap) SetGCThreshold(n int) {
	if n > 0 {
		h.gcThreshold = n
	}
}

// Live returns the number of allocated cells.
func (h *Heap) Live() int {
	return h.live
}

func (h *Heap) cell(v Value) *cell {
	return &h.cells[v.index()]
}

// alloc returns a fresh cell with a reference count of one. The returned
// pointer is only valid until the next allocation.
func (h *Heap) alloc(t *types.Type) (Value, *cell) {
	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		idx = uint32(len(h.cells))
		h.cells = append(h.cells, cell{})
	}
	c := &h.cells[idx]
	c.ref = 1
	c.typ = t
	h.live++
	h.allocs++
	if h.trigger != nil && h.allocs >= h.gcThreshold {
		h.trigger.request()
	}
	return Value(idx) << 1, c
}

// IncRef adds a reference to v.
func (h *Heap) IncRef(v Value) {
	if v.counted() {
		h.cells[v.index()].ref++
	}
}

// DecRef drops a reference to v, releasing it when the count reaches zero.
func (h *Heap) DecRef(v Value) {
	if !v.counted() {
		return
	}
	c := &h.cells[v.index()]
	c.ref--
	if c.ref > 0 {
		return
	}
	if c.ref < 0 {
		panic("vm: reference count underflow")
	}
	h.release(v)
}

func (h *Heap) release(v Value) {
	c := h.cell(v)
	base := c.base
	var children []Value
	if base == Undef {
		children = c.elems
	}
	m := c.m
	c.reset()
	h.free = append(h.free, v.index())
	h.live--

	if base != Undef {
		h.DecRef(base)
	}
	for _, e := range children {
		h.DecRef(e)
	}
	if m != nil {
		for i := range m.keys {
			h.DecRef(m.keys[i])
			h.DecRef(m.vals[i])
		}
	}
}

// RefCount returns the reference count of v; inlined and pinned values
// report 1.
func (h *Heap) RefCount(v Value) int {
	if !v.counted() {
		return 1
	}
	return int(h.cells[v.index()].ref)
}

// IsUnique reports whether v may be mutated in place.
func (h *Heap) IsUnique(v Value) bool {
	if !v.counted() {
		return true
	}
	c := h.cell(v)
	return c.ref == 1 && c.base == Undef
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// NewBool returns the pinned bool value.
func NewBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// NewInt returns an int value, inlined when it fits.
func (h *Heap) NewInt(x int64) Value {
	if x >= smallMin && x <= smallMax {
		return small(x)
	}
	v, c := h.alloc(types.IntType)
	c.bits = uint64(x)
	return v
}

// NewUInt returns a uint value, inlined when it fits.
func (h *Heap) NewUInt(u uint64) Value {
	if u <= smallMax {
		return small(int64(u))
	}
	v, c := h.alloc(types.UIntType)
	c.bits = u
	return v
}

// NewFloat returns a float value.
func (h *Heap) NewFloat(f float64) Value {
	v, c := h.alloc(types.FloatType)
	c.bits = floatBits(f)
	return v
}

// NewFingerprint returns a fingerprint value.
func (h *Heap) NewFingerprint(u uint64) Value {
	v, c := h.alloc(types.FingerprintType)
	c.bits = u
	return v
}

// NewTime returns a time value in microseconds.
func (h *Heap) NewTime(u uint64) Value {
	v, c := h.alloc(types.TimeType)
	c.bits = u
	return v
}

// NewString returns a string value holding a copy of s.
func (h *Heap) NewString(s string) Value {
	return h.newStringOwned([]byte(s))
}

// newStringOwned takes ownership of b, which must be valid UTF-8 or will
// be treated rune-by-rune with replacement semantics.
func (h *Heap) newStringOwned(b []byte) Value {
	v, c := h.alloc(types.StringType)
	c.data = b
	c.runes = utf8.RuneCount(b)
	return v
}

// NewBytes returns a bytes value holding a copy of b.
func (h *Heap) NewBytes(b []byte) Value {
	data := make([]byte, len(b))
	copy(data, b)
	return h.newBytesOwned(data)
}

func (h *Heap) newBytesOwned(b []byte) Value {
	v, c := h.alloc(types.BytesType)
	c.data = b
	return v
}

// NewArray returns an array of type t. It takes over the references held
// by elems.
func (h *Heap) NewArray(t *types.Type, elems []Value) Value {
	v, c := h.alloc(t)
	c.elems = elems
	return v
}

// NewTuple returns a tuple of type t with every in-proto bit set. It takes
// over the references held by slots.
func (h *Heap) NewTuple(t *types.Type, slots []Value) Value {
	v, c := h.alloc(t)
	c.elems = slots
	c.bitmap = make([]byte, (len(t.Fields)+7)/8)
	for i := range t.Fields {
		c.bitmap[i/8] |= 1 << uint(i%8)
	}
	return v
}

// NewMap returns an empty map of type t.
func (h *Heap) NewMap(t *types.Type, capacity int) Value {
	v, c := h.alloc(t)
	c.m = newMapStore(capacity)
	return v
}

// NewClosure returns a function value.
func (h *Heap) NewClosure(t *types.Type, entry int, ctx int, serial int64) Value {
	v, c := h.alloc(t)
	c.bits = uint64(entry)
	c.ctx = ctx
	c.serial = serial
	return v
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// TypeOf returns the dynamic type of a cell value, or nil for inlined and
// undefined values.
func (h *Heap) TypeOf(v Value) *types.Type {
	if v == Undef || v.IsSmall() {
		return nil
	}
	return h.cell(v).typ
}

// Int returns the int held by v.
func (h *Heap) Int(v Value) int64 {
	if v.IsSmall() {
		return v.payload()
	}
	return int64(h.cell(v).bits)
}

// UInt returns the uint held by v.
func (h *Heap) UInt(v Value) uint64 {
	if v.IsSmall() {
		return uint64(v.payload())
	}
	return h.cell(v).bits
}

// Bool returns the bool held by v.
func (h *Heap) Bool(v Value) bool {
	return v == True
}

// Float returns the float held by v.
func (h *Heap) Float(v Value) float64 {
	return floatFrom(h.cell(v).bits)
}

// Bits returns the raw 64-bit payload of a fingerprint or time value.
func (h *Heap) Bits(v Value) uint64 {
	return h.cell(v).bits
}

// String returns the contents of a string value.
func (h *Heap) String(v Value) string {
	return string(h.cell(v).data)
}

// Bytes returns the contents of a string or bytes value. The slice aliases
// heap storage and must not be modified.
func (h *Heap) Bytes(v Value) []byte {
	return h.cell(v).data
}

// Elems returns the elements of an array or the slots of a tuple. The
// slice aliases heap storage.
func (h *Heap) Elems(v Value) []Value {
	return h.cell(v).elems
}

// Runes returns the rune count of a string value.
func (h *Heap) Runes(v Value) int {
	return h.cell(v).runes
}

// Len returns the length of an array, map, bytes, or the rune count of a
// string.
func (h *Heap) Len(v Value) int {
	c := h.cell(v)
	switch c.typ.Kind {
	case types.String:
		return c.runes
	case types.Bytes:
		return len(c.data)
	case types.Map:
		return len(c.m.keys)
	}
	return len(c.elems)
}

// InProto reports the in-proto bit of tuple slot i.
func (h *Heap) InProto(v Value, i int) bool {
	return h.cell(v).bitmap[i/8]&(1<<uint(i%8)) != 0
}

// SetInProto sets or clears the in-proto bit of tuple slot i. The tuple
// must be unique.
func (h *Heap) SetInProto(v Value, i int, on bool) {
	c := h.cell(v)
	if on {
		c.bitmap[i/8] |= 1 << uint(i%8)
	} else {
		c.bitmap[i/8] &^= 1 << uint(i%8)
	}
}

// Closure returns the entry pc, context frame and frame serial of a
// function value.
func (h *Heap) Closure(v Value) (entry int, ctx int, serial int64) {
	c := h.cell(v)
	return int(c.bits), c.ctx, c.serial
}

// ---------------------------------------------------------------------------
// Uniqueness and copies
// ---------------------------------------------------------------------------

// Uniq returns a value equal to v that the caller may mutate. If v is not
// unique a one-level copy is made and one reference to v is dropped.
func (h *Heap) Uniq(v Value) Value {
	if h.IsUnique(v) {
		return v
	}
	nv := h.copyCell(v)
	h.DecRef(v)
	return nv
}

// copyCell makes a one-level copy: containers get fresh storage and their
// children gain a reference.
func (h *Heap) copyCell(v Value) Value {
	src := *h.cell(v)
	nv, c := h.alloc(src.typ)
	c.bits = src.bits
	c.runes = src.runes
	c.ctx = src.ctx
	c.serial = src.serial
	if src.data != nil {
		c.data = make([]byte, len(src.data))
		copy(c.data, src.data)
	}
	if src.elems != nil {
		c.elems = make([]Value, len(src.elems))
		copy(c.elems, src.elems)
	}
	if src.bitmap != nil {
		c.bitmap = make([]byte, len(src.bitmap))
		copy(c.bitmap, src.bitmap)
	}
	if src.m != nil {
		c.m = src.m.copy()
	}
	for _, e := range src.elems {
		h.IncRef(e)
	}
	if src.m != nil {
		for i := range src.m.keys {
			h.IncRef(src.m.keys[i])
			h.IncRef(src.m.vals[i])
		}
	}
	return nv
}

// Clone returns a deep copy of v that shares no cells with it.
func (h *Heap) Clone(v Value) Value {
	if !v.counted() {
		return v
	}
	nv := h.copyCell(v)
	c := h.cell(nv)
	for i, e := range c.elems {
		if e.counted() {
			ne := h.Clone(e)
			h.DecRef(e)
			h.cell(nv).elems[i] = ne
		}
	}
	if m := h.cell(nv).m; m != nil {
		for i := range m.vals {
			if m.vals[i].counted() {
				nval := h.Clone(m.vals[i])
				h.DecRef(m.vals[i])
				m.vals[i] = nval
			}
		}
	}
	return nv
}

// ---------------------------------------------------------------------------
// Equality and size
// ---------------------------------------------------------------------------

// IsEqual reports structural equality of two values of the same type.
func (h *Heap) IsEqual(a, b Value) bool {
	if a == b {
		return true
	}
	if a == Undef || b == Undef || a.IsSmall() || b.IsSmall() {
		return false
	}
	ca, cb := h.cell(a), h.cell(b)
	if ca.typ.Kind != cb.typ.Kind {
		return false
	}
	switch ca.typ.Kind {
	case types.Bool, types.Int, types.UInt, types.Fingerprint, types.Time:
		return ca.bits == cb.bits
	case types.Float:
		return floatFrom(ca.bits) == floatFrom(cb.bits)
	case types.String, types.Bytes:
		return string(ca.data) == string(cb.data)
	case types.Array, types.Tuple:
		if len(ca.elems) != len(cb.elems) {
			return false
		}
		ea, eb := ca.elems, cb.elems
		for i := range ea {
			if !h.IsEqual(ea[i], eb[i]) {
				return false
			}
		}
		return true
	case types.Map:
		ma, mb := ca.m, cb.m
		if len(ma.keys) != len(mb.keys) {
			return false
		}
		keyType := ca.typ.Key
		for i, k := range ma.keys {
			j, ok := mb.lookup(h.keyString(k, keyType))
			if !ok || !h.IsEqual(ma.vals[i], mb.vals[j]) {
				return false
			}
		}
		return true
	case types.Function:
		return ca.bits == cb.bits && ca.ctx == cb.ctx && ca.serial == cb.serial
	}
	return false
}

const cellOverhead = 64

// Memory returns the approximate number of bytes owned by v.
func (h *Heap) Memory(v Value) int {
	if !v.counted() {
		return 0
	}
	c := h.cell(v)
	n := cellOverhead
	if c.base != Undef {
		return n
	}
	n += len(c.data) + len(c.bitmap) + 8*len(c.elems)
	for _, e := range c.elems {
		n += h.Memory(e)
	}
	if c.m != nil {
		n += 16 * len(c.m.keys)
		for i := range c.m.keys {
			n += h.Memory(c.m.keys[i]) + h.Memory(c.m.vals[i])
		}
	}
	return n
}
