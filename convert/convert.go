// Package convert maps szl tuples to and from the protocol buffer wire
// format. Tuple fields carrying a proto tag (name: T @ n) correspond to the
// message field numbered n; untagged fields are never serialized.
//
// Arrays are repeated fields, packed when their elements are numeric. Maps
// are repeated entry messages with the key in field 1 and the value in
// field 2. Decoding accepts packed and unpacked repeated numerics and
// skips unknown fields; a tuple field missing from the message keeps its
// zero value with its in-proto bit cleared.
package convert

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/google/szl-sub002/types"
	"github.com/google/szl-sub002/vm"
)

var (
	ErrMalformed   = errors.New("malformed protocol buffer")
	ErrWireType    = errors.New("wire type mismatch")
	ErrUnsupported = errors.New("type has no protocol buffer form")
)

// Converter implements vm.Converter with the protobuf wire format.
type Converter struct{}

var _ vm.Converter = (*Converter)(nil)

// New returns a Converter.
func New() *Converter {
	return &Converter{}
}

// ToTuple decodes data as a message of tuple type t.
func (c *Converter) ToTuple(h *vm.Heap, t *types.Type, data []byte) (vm.Value, error) {
	if t.Kind != types.Tuple {
		return vm.Undef, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
	return decodeMessage(h, t, data)
}

// ToBytes encodes the tuple v of type t.
func (c *Converter) ToBytes(h *vm.Heap, t *types.Type, v vm.Value) ([]byte, error) {
	if t.Kind != types.Tuple {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
	return appendMessage(nil, h, t, v)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func malformed(n int) error {
	return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
}

func decodeMessage(h *vm.Heap, t *types.Type, b []byte) (vm.Value, error) {
	n := len(t.Fields)
	byTag := make(map[protowire.Number]int, n)
	for i, f := range t.Fields {
		if f.Tag != 0 {
			byTag[protowire.Number(f.Tag)] = i
		}
	}
	slots := make([]vm.Value, n)
	present := make([]bool, n)
	lists := make([][]vm.Value, n)

	fail := func(err error) (vm.Value, error) {
		for i := range slots {
			h.DecRef(slots[i])
			for _, x := range lists[i] {
				h.DecRef(x)
			}
		}
		return vm.Undef, err
	}

	for len(b) > 0 {
		num, wt, m := protowire.ConsumeTag(b)
		if m < 0 {
			return fail(malformed(m))
		}
		b = b[m:]
		i, ok := byTag[num]
		if !ok {
			m = protowire.ConsumeFieldValue(num, wt, b)
			if m < 0 {
				return fail(malformed(m))
			}
			b = b[m:]
			continue
		}
		f := t.Fields[i]
		switch f.Type.Kind {
		case types.Array:
			vals, m, err := decodeRepeated(h, f.Type.Elem, wt, b)
			if err != nil {
				return fail(fmt.Errorf("field %s: %w", fieldName(f, i), err))
			}
			lists[i] = append(lists[i], vals...)
			b = b[m:]
		case types.Map:
			if slots[i] == vm.Undef {
				slots[i] = h.NewMap(f.Type, 0)
			}
			m, err := decodeEntry(h, f.Type, slots[i], wt, b)
			if err != nil {
				return fail(fmt.Errorf("field %s: %w", fieldName(f, i), err))
			}
			b = b[m:]
		default:
			v, m, err := decodeScalar(h, f.Type, wt, b)
			if err != nil {
				return fail(fmt.Errorf("field %s: %w", fieldName(f, i), err))
			}
			h.DecRef(slots[i])
			slots[i] = v
			b = b[m:]
		}
		present[i] = true
	}

	for i, f := range t.Fields {
		switch {
		case f.Type.Kind == types.Array:
			slots[i] = h.NewArray(f.Type, lists[i])
		case slots[i] == vm.Undef:
			slots[i] = zero(h, f.Type)
		}
	}
	v := h.NewTuple(t, slots)
	for i := range present {
		h.SetInProto(v, i, present[i])
	}
	return v, nil
}

func fieldName(f types.Field, i int) string {
	if f.Name != "" {
		return f.Name
	}
	return fmt.Sprintf("#%d", i)
}

// packable reports whether a repeated field of kind k uses packed encoding.
func packable(k types.Kind) bool {
	switch k {
	case types.Bool, types.Int, types.UInt, types.Time, types.Fingerprint, types.Float:
		return true
	}
	return false
}

// wireType returns the wire type used to encode kind k.
func wireType(k types.Kind) protowire.Type {
	switch k {
	case types.Float, types.Fingerprint:
		return protowire.Fixed64Type
	case types.Bool, types.Int, types.UInt, types.Time:
		return protowire.VarintType
	}
	return protowire.BytesType
}

func decodeRepeated(h *vm.Heap, elem *types.Type, wt protowire.Type, b []byte) ([]vm.Value, int, error) {
	if wt != protowire.BytesType || !packable(elem.Kind) {
		v, m, err := decodeScalar(h, elem, wt, b)
		if err != nil {
			return nil, 0, err
		}
		return []vm.Value{v}, m, nil
	}
	packed, m := protowire.ConsumeBytes(b)
	if m < 0 {
		return nil, 0, malformed(m)
	}
	var vals []vm.Value
	ewt := wireType(elem.Kind)
	for len(packed) > 0 {
		v, k, err := decodeScalar(h, elem, ewt, packed)
		if err != nil {
			for _, x := range vals {
				h.DecRef(x)
			}
			return nil, 0, err
		}
		vals = append(vals, v)
		packed = packed[k:]
	}
	return vals, m, nil
}

func decodeEntry(h *vm.Heap, t *types.Type, mv vm.Value, wt protowire.Type, b []byte) (int, error) {
	if wt != protowire.BytesType {
		return 0, fmt.Errorf("%w: map entry has wire type %d", ErrWireType, wt)
	}
	entry, m := protowire.ConsumeBytes(b)
	if m < 0 {
		return 0, malformed(m)
	}
	key, val := vm.Undef, vm.Undef
	release := func() {
		h.DecRef(key)
		h.DecRef(val)
	}
	for len(entry) > 0 {
		num, ewt, k := protowire.ConsumeTag(entry)
		if k < 0 {
			release()
			return 0, malformed(k)
		}
		entry = entry[k:]
		var ft *types.Type
		switch num {
		case 1:
			ft = t.Key
		case 2:
			ft = t.Elem
		default:
			k = protowire.ConsumeFieldValue(num, ewt, entry)
			if k < 0 {
				release()
				return 0, malformed(k)
			}
			entry = entry[k:]
			continue
		}
		v, k, err := decodeScalar(h, ft, ewt, entry)
		if err != nil {
			release()
			return 0, err
		}
		entry = entry[k:]
		if num == 1 {
			h.DecRef(key)
			key = v
		} else {
			h.DecRef(val)
			val = v
		}
	}
	if key == vm.Undef {
		key = zero(h, t.Key)
	}
	if val == vm.Undef {
		val = zero(h, t.Elem)
	}
	h.MapSetValue(mv, h.MapInsert(mv, key), val)
	return m, nil
}

func decodeScalar(h *vm.Heap, t *types.Type, wt protowire.Type, b []byte) (vm.Value, int, error) {
	switch t.Kind {
	case types.String, types.Bytes, types.Tuple:
		if wt != protowire.BytesType {
			return vm.Undef, 0, fmt.Errorf("%w: %s has wire type %d", ErrWireType, t, wt)
		}
		data, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return vm.Undef, 0, malformed(m)
		}
		switch t.Kind {
		case types.String:
			return h.NewString(string(data)), m, nil
		case types.Bytes:
			return h.NewBytes(data), m, nil
		}
		v, err := decodeMessage(h, t, data)
		return v, m, err

	case types.Bool, types.Int, types.UInt, types.Time, types.Fingerprint, types.Float:
		var bits uint64
		var m int
		switch wt {
		case protowire.VarintType:
			bits, m = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			bits, m = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var x uint32
			x, m = protowire.ConsumeFixed32(b)
			switch t.Kind {
			case types.Float:
				bits = math.Float64bits(float64(math.Float32frombits(x)))
			case types.Int:
				bits = uint64(int64(int32(x)))
			default:
				bits = uint64(x)
			}
		default:
			return vm.Undef, 0, fmt.Errorf("%w: %s has wire type %d", ErrWireType, t, wt)
		}
		if m < 0 {
			return vm.Undef, 0, malformed(m)
		}
		if t.Kind == types.Float && wt == protowire.VarintType {
			return vm.Undef, 0, fmt.Errorf("%w: float has wire type %d", ErrWireType, wt)
		}
		return scalar(h, t.Kind, bits), m, nil
	}
	return vm.Undef, 0, fmt.Errorf("%w: %s", ErrUnsupported, t)
}

func scalar(h *vm.Heap, k types.Kind, bits uint64) vm.Value {
	switch k {
	case types.Bool:
		return vm.NewBool(bits != 0)
	case types.Int:
		return h.NewInt(int64(bits))
	case types.UInt:
		return h.NewUInt(bits)
	case types.Time:
		return h.NewTime(bits)
	case types.Fingerprint:
		return h.NewFingerprint(bits)
	}
	return h.NewFloat(math.Float64frombits(bits))
}

// zero returns the value of a field absent from the message.
func zero(h *vm.Heap, t *types.Type) vm.Value {
	switch t.Kind {
	case types.Bool, types.Int, types.UInt, types.Time, types.Fingerprint, types.Float:
		return scalar(h, t.Kind, 0)
	case types.String:
		return h.NewString("")
	case types.Bytes:
		return h.NewBytes(nil)
	case types.Array:
		return h.NewArray(t, nil)
	case types.Map:
		return h.NewMap(t, 0)
	case types.Tuple:
		slots := make([]vm.Value, len(t.Fields))
		for i, f := range t.Fields {
			slots[i] = zero(h, f.Type)
		}
		v := h.NewTuple(t, slots)
		for i := range slots {
			h.SetInProto(v, i, false)
		}
		return v
	}
	return vm.Undef
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func appendMessage(b []byte, h *vm.Heap, t *types.Type, v vm.Value) ([]byte, error) {
	elems := h.Elems(v)
	var err error
	for i, f := range t.Fields {
		if f.Tag == 0 || !h.InProto(v, i) || elems[i] == vm.Undef {
			continue
		}
		num := protowire.Number(f.Tag)
		x := elems[i]
		switch f.Type.Kind {
		case types.Array:
			b, err = appendRepeated(b, h, num, f.Type.Elem, h.Elems(x))
		case types.Map:
			for j, n := 0, h.Len(x); j < n && err == nil; j++ {
				var entry []byte
				entry, err = appendField(nil, h, 1, f.Type.Key, h.MapKey(x, j))
				if err == nil {
					entry, err = appendField(entry, h, 2, f.Type.Elem, h.MapFetch(x, j))
				}
				b = protowire.AppendTag(b, num, protowire.BytesType)
				b = protowire.AppendBytes(b, entry)
			}
		default:
			b, err = appendField(b, h, num, f.Type, x)
		}
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fieldName(f, i), err)
		}
	}
	return b, nil
}

func appendRepeated(b []byte, h *vm.Heap, num protowire.Number, elem *types.Type, xs []vm.Value) ([]byte, error) {
	if len(xs) == 0 {
		return b, nil
	}
	if !packable(elem.Kind) {
		var err error
		for _, x := range xs {
			if b, err = appendField(b, h, num, elem, x); err != nil {
				return nil, err
			}
		}
		return b, nil
	}
	var packed []byte
	for _, x := range xs {
		packed = appendScalar(packed, h, elem.Kind, x)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed), nil
}

func appendField(b []byte, h *vm.Heap, num protowire.Number, t *types.Type, x vm.Value) ([]byte, error) {
	switch t.Kind {
	case types.Bool, types.Int, types.UInt, types.Time, types.Fingerprint, types.Float:
		b = protowire.AppendTag(b, num, wireType(t.Kind))
		return appendScalar(b, h, t.Kind, x), nil
	case types.String, types.Bytes:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, h.Bytes(x)), nil
	case types.Tuple:
		inner, err := appendMessage(nil, h, t, x)
		if err != nil {
			return nil, err
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, inner), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
}

func appendScalar(b []byte, h *vm.Heap, k types.Kind, x vm.Value) []byte {
	switch k {
	case types.Bool:
		return protowire.AppendVarint(b, protowire.EncodeBool(h.Bool(x)))
	case types.Int:
		return protowire.AppendVarint(b, uint64(h.Int(x)))
	case types.UInt:
		return protowire.AppendVarint(b, h.UInt(x))
	case types.Time:
		return protowire.AppendVarint(b, h.Bits(x))
	case types.Fingerprint:
		return protowire.AppendFixed64(b, h.Bits(x))
	}
	return protowire.AppendFixed64(b, math.Float64bits(h.Float(x)))
}
