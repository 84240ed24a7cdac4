package vm

import (
	"unicode/utf8"

	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Rune indexing
// ---------------------------------------------------------------------------

// runeOffset converts rune index i of a string cell to a byte offset.
// i may equal the rune count, giving the length in bytes.
func runeOffset(c *cell, i int) int {
	if c.runes == len(c.data) {
		return i
	}
	r, b := 0, 0
	if i >= c.hintRune {
		r, b = c.hintRune, c.hintByte
	}
	for r < i {
		_, size := utf8.DecodeRune(c.data[b:])
		b += size
		r++
	}
	c.hintRune, c.hintByte = r, b
	return b
}

// StringRuneAt returns rune i of string v. i must be in range.
func (h *Heap) StringRuneAt(v Value, i int) rune {
	c := h.cell(v)
	off := runeOffset(c, i)
	r, _ := utf8.DecodeRune(c.data[off:])
	return r
}

// clamp intersects [beg, end) with [0, n).
func clamp(beg, end int64, n int) (int, int) {
	if beg < 0 {
		beg = 0
	}
	if end > int64(n) {
		end = int64(n)
	}
	if beg > end {
		beg = end
	}
	if beg < 0 {
		beg, end = 0, 0
	}
	return int(beg), int(end)
}

// ---------------------------------------------------------------------------
// Slice views
// ---------------------------------------------------------------------------

func (h *Heap) owner(v Value) Value {
	if b := h.cell(v).base; b != Undef {
		return b
	}
	return v
}

// Slice returns a view of v restricted to elements (or runes) beg..end,
// clamped to the bounds of v. The view shares storage with v.
func (h *Heap) Slice(v Value, beg, end int64) Value {
	src := h.cell(v)
	t := src.typ
	n := len(src.elems)
	switch t.Kind {
	case types.String:
		n = src.runes
	case types.Bytes:
		n = len(src.data)
	}
	b, e := clamp(beg, end, n)
	if b == 0 && e == n {
		h.IncRef(v)
		return v
	}
	base := h.owner(v)
	var data []byte
	var elems []Value
	runes := 0
	switch t.Kind {
	case types.String:
		bo := runeOffset(src, b)
		eo := runeOffset(src, e)
		data = src.data[bo:eo:eo]
		runes = e - b
	case types.Bytes:
		data = src.data[b:e:e]
	default:
		elems = src.elems[b:e:e]
	}
	h.IncRef(base)
	nv, c := h.alloc(t)
	c.base = base
	c.data = data
	c.runes = runes
	c.elems = elems
	return nv
}

// ---------------------------------------------------------------------------
// Concatenation
// ---------------------------------------------------------------------------

// Concat returns a new string, bytes or array holding a followed by b.
func (h *Heap) Concat(a, b Value) Value {
	ca := h.cell(a)
	t := ca.typ
	switch t.Kind {
	case types.String, types.Bytes:
		da, db := ca.data, h.cell(b).data
		data := make([]byte, 0, len(da)+len(db))
		data = append(data, da...)
		data = append(data, db...)
		if t.Kind == types.String {
			runes := ca.runes + h.cell(b).runes
			v, c := h.alloc(t)
			c.data = data
			c.runes = runes
			return v
		}
		return h.newBytesOwned(data)
	default:
		ea, eb := ca.elems, h.cell(b).elems
		elems := make([]Value, 0, len(ea)+len(eb))
		elems = append(elems, ea...)
		elems = append(elems, eb...)
		for _, e := range elems {
			h.IncRef(e)
		}
		return h.NewArray(t, elems)
	}
}

// ---------------------------------------------------------------------------
// In-place updates (receiver must be unique)
// ---------------------------------------------------------------------------

// SetElem replaces element i of a unique array or tuple, consuming the
// caller's reference to x.
func (h *Heap) SetElem(v Value, i int, x Value) {
	elems := h.cell(v).elems
	old := elems[i]
	elems[i] = x
	h.DecRef(old)
}

// TakeElem moves element i of a unique array or tuple onto the caller,
// leaving the slot undefined.
func (h *Heap) TakeElem(v Value, i int) Value {
	elems := h.cell(v).elems
	x := elems[i]
	elems[i] = Undef
	return x
}

// SetByte stores b at index i of a unique bytes value.
func (h *Heap) SetByte(v Value, i int, b byte) {
	h.cell(v).data[i] = b
}

// SetRune replaces rune i of a unique string.
func (h *Heap) SetRune(v Value, i int, r rune) {
	c := h.cell(v)
	bo := runeOffset(c, i)
	_, size := utf8.DecodeRune(c.data[bo:])
	var enc [utf8.UTFMax]byte
	n := utf8.EncodeRune(enc[:], r)
	if n == size {
		copy(c.data[bo:], enc[:n])
	} else {
		data := make([]byte, 0, len(c.data)-size+n)
		data = append(data, c.data[:bo]...)
		data = append(data, enc[:n]...)
		data = append(data, c.data[bo+size:]...)
		c.data = data
	}
	c.hintRune, c.hintByte = 0, 0
}

// ReplaceRange replaces elements (or runes) beg..end of a unique string,
// bytes or array with the contents of x. Bounds must already be checked.
func (h *Heap) ReplaceRange(v Value, beg, end int, x Value) {
	c := h.cell(v)
	src := h.cell(x)
	switch c.typ.Kind {
	case types.String:
		bo, eo := runeOffset(c, beg), runeOffset(c, end)
		data := make([]byte, 0, len(c.data)-(eo-bo)+len(src.data))
		data = append(data, c.data[:bo]...)
		data = append(data, src.data...)
		data = append(data, c.data[eo:]...)
		c.runes += src.runes - (end - beg)
		c.data = data
		c.hintRune, c.hintByte = 0, 0
	case types.Bytes:
		data := make([]byte, 0, len(c.data)-(end-beg)+len(src.data))
		data = append(data, c.data[:beg]...)
		data = append(data, src.data...)
		data = append(data, c.data[end:]...)
		c.data = data
	default:
		removed := make([]Value, end-beg)
		copy(removed, c.elems[beg:end])
		elems := make([]Value, 0, len(c.elems)-(end-beg)+len(src.elems))
		elems = append(elems, c.elems[:beg]...)
		elems = append(elems, src.elems...)
		elems = append(elems, c.elems[end:]...)
		for _, e := range src.elems {
			h.IncRef(e)
		}
		c.elems = elems
		for _, e := range removed {
			h.DecRef(e)
		}
	}
}
