package vm

import (
	"math"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

// mapStore keeps keys and values in insertion order. The index returned by
// insert and lookup stays valid for the life of the map.
type mapStore struct {
	keys  []Value
	vals  []Value
	index map[string]int
}

func newMapStore(capacity int) *mapStore {
	return &mapStore{
		keys:  make([]Value, 0, capacity),
		vals:  make([]Value, 0, capacity),
		index: make(map[string]int, capacity),
	}
}

func (m *mapStore) copy() *mapStore {
	n := &mapStore{
		keys:  make([]Value, len(m.keys)),
		vals:  make([]Value, len(m.vals)),
		index: make(map[string]int, len(m.index)),
	}
	copy(n.keys, m.keys)
	copy(n.vals, m.vals)
	for k, i := range m.index {
		n.index[k] = i
	}
	return n
}

func (m *mapStore) lookup(key string) (int, bool) {
	i, ok := m.index[key]
	return i, ok
}

// keyEncoder turns map keys into comparable strings. Keys of equal value
// produce equal strings because the codec is canonical.
type keyEncoder struct {
	enc *codec.Encoder
}

func (h *Heap) keyString(k Value, t *types.Type) string {
	if h.scratch.enc == nil {
		h.scratch.enc = codec.NewEncoder()
	}
	e := h.scratch.enc
	e.Reset()
	h.Encode(e, k, t)
	return string(e.Data())
}

// MapLookup returns the index of key in map m.
func (h *Heap) MapLookup(m, key Value) (int, bool) {
	c := h.cell(m)
	return c.m.lookup(h.keyString(key, c.typ.Key))
}

// MapInsert returns the index for key, adding it with an undefined value
// if absent. It consumes the caller's reference to key. The map must be
// unique.
func (h *Heap) MapInsert(m, key Value) int {
	c := h.cell(m)
	ks := h.keyString(key, c.typ.Key)
	if i, ok := c.m.index[ks]; ok {
		h.DecRef(key)
		return i
	}
	ms := c.m
	i := len(ms.keys)
	ms.keys = append(ms.keys, key)
	ms.vals = append(ms.vals, Undef)
	ms.index[ks] = i
	return i
}

// MapFetch returns the value at index i without adding a reference.
func (h *Heap) MapFetch(m Value, i int) Value {
	return h.cell(m).m.vals[i]
}

// MapKey returns the key at index i without adding a reference.
func (h *Heap) MapKey(m Value, i int) Value {
	return h.cell(m).m.keys[i]
}

// MapSetValue replaces the value at index i, consuming the caller's
// reference to v. The map must be unique.
func (h *Heap) MapSetValue(m Value, i int, v Value) {
	ms := h.cell(m).m
	old := ms.vals[i]
	ms.vals[i] = v
	h.DecRef(old)
}

// MapTakeValue moves the value at index i out of the map, leaving it
// undefined. The map must be unique.
func (h *Heap) MapTakeValue(m Value, i int) Value {
	ms := h.cell(m).m
	v := ms.vals[i]
	ms.vals[i] = Undef
	return v
}

// MapIncValue adds delta to the int value at index i. The map must be
// unique.
func (h *Heap) MapIncValue(m Value, i int, delta int64) {
	ms := h.cell(m).m
	old := ms.vals[i]
	ms.vals[i] = h.NewInt(h.Int(old) + delta)
	h.DecRef(old)
}

func floatBits(f float64) uint64 {
	return math.Float64bits(f)
}

func floatFrom(b uint64) float64 {
	return math.Float64frombits(b)
}
