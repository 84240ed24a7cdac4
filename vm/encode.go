package vm

import (
	"bytes"
	"sort"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

// Encode appends the codec encoding of v, of static type t, to e.
func (h *Heap) Encode(e *codec.Encoder, v Value, t *types.Type) {
	switch t.Kind {
	case types.Bool:
		e.PutBool(v == True)
	case types.Int:
		e.PutInt(h.Int(v))
	case types.UInt:
		e.PutUInt(h.UInt(v))
	case types.Float:
		e.PutFloat(h.Float(v))
	case types.Fingerprint:
		e.PutFingerprint(h.Bits(v))
	case types.Time:
		e.PutTime(h.Bits(v))
	case types.String:
		e.PutString(h.String(v))
	case types.Bytes:
		e.PutBytes(h.Bytes(v))
	case types.Array:
		e.Start(codec.KindArrayStart)
		for _, x := range h.Elems(v) {
			h.Encode(e, x, t.Elem)
		}
		e.End(codec.KindArrayEnd)
	case types.Tuple:
		e.Start(codec.KindTupleStart)
		for i, x := range h.Elems(v) {
			h.Encode(e, x, t.Fields[i].Type)
		}
		e.End(codec.KindTupleEnd)
	case types.Map:
		h.encodeMap(e, v, t)
	default:
		panic("vm: cannot encode " + t.String())
	}
}

func (h *Heap) encodeMap(e *codec.Encoder, v Value, t *types.Type) {
	ms := h.cell(v).m
	type pair struct{ k, v []byte }
	pairs := make([]pair, len(ms.keys))
	sub := codec.NewEncoder()
	for i := range ms.keys {
		sub.Reset()
		h.Encode(sub, ms.keys[i], t.Key)
		pairs[i].k = sub.Bytes()
		sub.Reset()
		h.Encode(sub, ms.vals[i], t.Elem)
		pairs[i].v = sub.Bytes()
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].k, pairs[j].k) < 0 })
	e.StartMap(len(pairs))
	for _, p := range pairs {
		e.PutRaw(p.k)
		e.PutRaw(p.v)
	}
	e.End(codec.KindMapEnd)
}

// EncodeToBytes returns the encoding of v as a fresh byte slice.
func (h *Heap) EncodeToBytes(v Value, t *types.Type) []byte {
	e := codec.NewEncoder()
	h.Encode(e, v, t)
	return e.Data()
}

// Decode reads a value of static type t. The result carries one reference.
func (h *Heap) Decode(d *codec.Decoder, t *types.Type) (Value, bool) {
	switch t.Kind {
	case types.Bool:
		b, ok := d.GetBool()
		return NewBool(b), ok
	case types.Int:
		x, ok := d.GetInt()
		if !ok {
			return Undef, false
		}
		return h.NewInt(x), true
	case types.UInt:
		u, ok := d.GetUInt()
		if !ok {
			return Undef, false
		}
		return h.NewUInt(u), true
	case types.Float:
		f, ok := d.GetFloat()
		if !ok {
			return Undef, false
		}
		return h.NewFloat(f), true
	case types.Fingerprint:
		u, ok := d.GetFingerprint()
		if !ok {
			return Undef, false
		}
		return h.NewFingerprint(u), true
	case types.Time:
		u, ok := d.GetTime()
		if !ok {
			return Undef, false
		}
		return h.NewTime(u), true
	case types.String:
		s, ok := d.GetString()
		if !ok {
			return Undef, false
		}
		return h.NewString(s), true
	case types.Bytes:
		b, ok := d.GetBytes()
		if !ok {
			return Undef, false
		}
		return h.newBytesOwned(b), true
	case types.Array, types.Tuple:
		start, end := codec.KindArrayStart, codec.KindArrayEnd
		if t.Kind == types.Tuple {
			start, end = codec.KindTupleStart, codec.KindTupleEnd
		}
		if !d.GetStart(start) {
			return Undef, false
		}
		var elems []Value
		for i := 0; d.Peek() != end; i++ {
			et := t.Elem
			if t.Kind == types.Tuple {
				if i >= len(t.Fields) {
					h.releaseAll(elems)
					return Undef, false
				}
				et = t.Fields[i].Type
			}
			x, ok := h.Decode(d, et)
			if !ok {
				h.releaseAll(elems)
				return Undef, false
			}
			elems = append(elems, x)
		}
		d.GetEnd(end)
		if t.Kind == types.Tuple {
			if len(elems) != len(t.Fields) {
				h.releaseAll(elems)
				return Undef, false
			}
			return h.NewTuple(t, elems), true
		}
		return h.NewArray(t, elems), true
	case types.Map:
		n, ok := d.GetMapStart()
		if !ok {
			return Undef, false
		}
		m := h.NewMap(t, n)
		for i := 0; i < n; i++ {
			k, ok := h.Decode(d, t.Key)
			if !ok {
				h.DecRef(m)
				return Undef, false
			}
			val, ok := h.Decode(d, t.Elem)
			if !ok {
				h.DecRef(k)
				h.DecRef(m)
				return Undef, false
			}
			h.MapSetValue(m, h.MapInsert(m, k), val)
		}
		if !d.GetEnd(codec.KindMapEnd) {
			h.DecRef(m)
			return Undef, false
		}
		return m, true
	}
	return Undef, false
}

func (h *Heap) releaseAll(vs []Value) {
	for _, v := range vs {
		h.DecRef(v)
	}
}
