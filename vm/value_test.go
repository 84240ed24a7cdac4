package vm

import (
	"testing"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

var (
	intArray = types.ArrayOf(types.IntType)
	strMap   = types.MapOf(types.StringType, types.IntType)
	pairType = types.TupleOf(
		types.Field{Name: "k", Type: types.StringType, Tag: 1},
		types.Field{Name: "v", Type: types.IntType, Tag: 2},
	)
)

func ints(h *Heap, xs ...int64) Value {
	elems := make([]Value, len(xs))
	for i, x := range xs {
		elems[i] = h.NewInt(x)
	}
	return h.NewArray(intArray, elems)
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

func TestSmallIntegers(t *testing.T) {
	h := NewHeap()
	tests := []struct {
		x     int64
		small bool
	}{
		{0, true},
		{-1, true},
		{smallMax, true},
		{smallMin, true},
		{smallMax + 1, false},
		{smallMin - 1, false},
		{-9223372036854775808, false},
	}
	for _, tc := range tests {
		v := h.NewInt(tc.x)
		if v.IsSmall() != tc.small {
			t.Errorf("NewInt(%d).IsSmall() = %v, want %v", tc.x, v.IsSmall(), tc.small)
		}
		if got := h.Int(v); got != tc.x {
			t.Errorf("Int(NewInt(%d)) = %d", tc.x, got)
		}
	}
	if h.Live() != 3 {
		t.Errorf("Live = %d, want 3 boxed ints", h.Live())
	}

	u := h.NewUInt(1 << 63)
	if u.IsSmall() || h.UInt(u) != 1<<63 {
		t.Errorf("NewUInt(1<<63) = %v small=%v", h.UInt(u), u.IsSmall())
	}
	if v := h.NewUInt(7); !v.IsSmall() || h.UInt(v) != 7 {
		t.Errorf("NewUInt(7) not inlined")
	}
}

func TestUndefAndBools(t *testing.T) {
	h := NewHeap()
	if !Undef.IsUndef() || Undef.IsSmall() {
		t.Errorf("Undef handle misclassified")
	}
	if NewBool(true) != True || NewBool(false) != False {
		t.Errorf("NewBool does not return the pinned cells")
	}
	h.DecRef(True)
	h.DecRef(True)
	if !h.Bool(True) || h.Bool(False) {
		t.Errorf("pinned bools changed after DecRef")
	}
	if h.RefCount(True) != 1 || h.Live() != 0 {
		t.Errorf("pinned bools are reference counted")
	}
}

func TestReferenceCounting(t *testing.T) {
	h := NewHeap()
	s := h.NewString("héllo")
	arr := h.NewArray(types.ArrayOf(types.StringType), []Value{s})
	if h.Live() != 2 {
		t.Fatalf("Live = %d, want 2", h.Live())
	}
	h.IncRef(arr)
	if h.RefCount(arr) != 2 || h.IsUnique(arr) {
		t.Errorf("RefCount = %d, want 2 and not unique", h.RefCount(arr))
	}
	h.DecRef(arr)
	h.DecRef(arr)
	if h.Live() != 0 {
		t.Errorf("Live = %d after release, want 0", h.Live())
	}

	// Freed cells are reused.
	before := len(h.cells)
	h.DecRef(h.NewString("again"))
	if len(h.cells) != before {
		t.Errorf("cells grew from %d to %d, want reuse", before, len(h.cells))
	}
}

func TestRefCountUnderflowPanics(t *testing.T) {
	h := NewHeap()
	v := h.NewFloat(1)
	h.DecRef(v)
	defer func() {
		if recover() == nil {
			t.Errorf("second DecRef did not panic")
		}
	}()
	h.DecRef(v)
}

// ---------------------------------------------------------------------------
// Copies
// ---------------------------------------------------------------------------

func TestUniqCopiesShared(t *testing.T) {
	h := NewHeap()
	a := ints(h, 1, 2, 3)
	if h.Uniq(a) != a {
		t.Errorf("Uniq of a unique value made a copy")
	}

	h.IncRef(a)
	b := h.Uniq(a)
	if b == a {
		t.Fatalf("Uniq of a shared value returned it")
	}
	if h.RefCount(a) != 1 {
		t.Errorf("RefCount(a) = %d, want 1 after Uniq", h.RefCount(a))
	}
	h.SetElem(b, 0, h.NewInt(9))
	if h.Int(h.Elems(a)[0]) != 1 || h.Int(h.Elems(b)[0]) != 9 {
		t.Errorf("mutation of the copy is visible in the original")
	}
}

func TestCloneIsDeep(t *testing.T) {
	h := NewHeap()
	inner := ints(h, 1)
	outer := h.NewArray(types.ArrayOf(intArray), []Value{inner})
	c := h.Clone(outer)
	if h.Elems(c)[0] == inner {
		t.Errorf("Clone shares the inner array")
	}
	if !h.IsEqual(c, outer) {
		t.Errorf("Clone is not equal to the original")
	}
	if h.RefCount(inner) != 1 {
		t.Errorf("RefCount(inner) = %d, want 1", h.RefCount(inner))
	}
}

// ---------------------------------------------------------------------------
// Sequences
// ---------------------------------------------------------------------------

func TestStringSlices(t *testing.T) {
	h := NewHeap()
	s := h.NewString("aébc")
	if h.Len(s) != 4 || len(h.Bytes(s)) != 5 {
		t.Fatalf("Len = %d bytes = %d, want 4 runes in 5 bytes", h.Len(s), len(h.Bytes(s)))
	}
	tests := []struct {
		beg, end int64
		want     string
	}{
		{1, 3, "éb"},
		{-5, 2, "aé"},
		{2, 100, "bc"},
		{3, 1, ""},
		{0, 4, "aébc"},
	}
	for _, tc := range tests {
		v := h.Slice(s, tc.beg, tc.end)
		if got := h.String(v); got != tc.want {
			t.Errorf("Slice(%d, %d) = %q, want %q", tc.beg, tc.end, got, tc.want)
		}
		h.DecRef(v)
	}
	if r := h.StringRuneAt(s, 1); r != 'é' {
		t.Errorf("StringRuneAt(1) = %q, want é", r)
	}
}

func TestSliceViewKeepsOwner(t *testing.T) {
	h := NewHeap()
	a := ints(h, 1, 2, 3, 4)
	v := h.Slice(a, 1, 3)
	if h.IsUnique(v) {
		t.Errorf("slice view reports unique")
	}
	h.DecRef(a)
	if h.Live() != 2 {
		t.Errorf("Live = %d, want owner kept alive by view", h.Live())
	}
	if got := h.Elems(v); len(got) != 2 || h.Int(got[0]) != 2 {
		t.Errorf("view elems = %v", got)
	}
	u := h.Uniq(v)
	h.SetElem(u, 0, h.NewInt(7))
	h.DecRef(u)
	if h.Live() != 0 {
		t.Errorf("Live = %d, want 0", h.Live())
	}
}

func TestInPlaceUpdates(t *testing.T) {
	h := NewHeap()
	s := h.NewString("abc")
	h.SetRune(s, 1, 'ü')
	if h.String(s) != "aüc" || h.Len(s) != 3 {
		t.Errorf("SetRune = %q len %d", h.String(s), h.Len(s))
	}
	h.ReplaceRange(s, 0, 2, h.NewString("xyz"))
	if h.String(s) != "xyzc" || h.Len(s) != 4 {
		t.Errorf("ReplaceRange = %q len %d", h.String(s), h.Len(s))
	}

	b := h.NewBytes([]byte{1, 2, 3})
	h.SetByte(b, 2, 9)
	if got := h.Bytes(b); got[2] != 9 {
		t.Errorf("SetByte = %v", got)
	}

	a := ints(h, 1, 2, 3)
	x := ints(h, 8)
	h.ReplaceRange(a, 1, 3, x)
	if h.Len(a) != 2 || h.Int(h.Elems(a)[1]) != 8 {
		t.Errorf("array ReplaceRange = %v", h.Elems(a))
	}
}

func TestConcat(t *testing.T) {
	h := NewHeap()
	s := h.Concat(h.NewString("hé"), h.NewString("llo"))
	if h.String(s) != "héllo" || h.Len(s) != 5 {
		t.Errorf("Concat = %q len %d", h.String(s), h.Len(s))
	}
	a := h.Concat(ints(h, 1), ints(h, 2, 3))
	if h.Len(a) != 3 {
		t.Errorf("array Concat len = %d, want 3", h.Len(a))
	}
}

// ---------------------------------------------------------------------------
// Maps
// ---------------------------------------------------------------------------

func TestMapOperations(t *testing.T) {
	h := NewHeap()
	m := h.NewMap(strMap, 0)
	i := h.MapInsert(m, h.NewString("a"))
	h.MapSetValue(m, i, h.NewInt(1))
	j := h.MapInsert(m, h.NewString("a"))
	if i != j || h.Len(m) != 1 {
		t.Errorf("second insert of a key gave index %d len %d", j, h.Len(m))
	}
	h.MapIncValue(m, i, 4)
	if got := h.Int(h.MapFetch(m, i)); got != 5 {
		t.Errorf("value = %d, want 5", got)
	}
	key := h.NewString("a")
	if k, ok := h.MapLookup(m, key); !ok || k != i {
		t.Errorf("MapLookup = %d, %v", k, ok)
	}
	h.DecRef(key)
	missing := h.NewString("b")
	if _, ok := h.MapLookup(m, missing); ok {
		t.Errorf("MapLookup found a missing key")
	}
	h.DecRef(missing)

	// Equality does not depend on insertion order.
	n := h.NewMap(strMap, 0)
	for _, k := range []string{"b", "a"} {
		idx := h.MapInsert(n, h.NewString(k))
		h.MapSetValue(n, idx, h.NewInt(5))
	}
	h.MapSetValue(m, h.MapInsert(m, h.NewString("b")), h.NewInt(5))
	if !h.IsEqual(m, n) {
		t.Errorf("maps with the same entries are not equal")
	}
	if string(h.EncodeToBytes(m, strMap)) != string(h.EncodeToBytes(n, strMap)) {
		t.Errorf("map encodings differ with insertion order")
	}
}

// ---------------------------------------------------------------------------
// Equality, memory and encoding
// ---------------------------------------------------------------------------

func TestIsEqual(t *testing.T) {
	h := NewHeap()
	tests := []struct {
		a, b Value
		want bool
	}{
		{h.NewInt(3), h.NewInt(3), true},
		{h.NewString("x"), h.NewString("x"), true},
		{h.NewString("x"), h.NewString("y"), false},
		{h.NewFloat(1.5), h.NewFloat(1.5), true},
		{ints(h, 1, 2), ints(h, 1, 2), true},
		{ints(h, 1, 2), ints(h, 1), false},
		{Undef, h.NewInt(0), false},
	}
	for i, tc := range tests {
		if got := h.IsEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("case %d: IsEqual = %v, want %v", i, got, tc.want)
		}
	}
}

func TestMemory(t *testing.T) {
	h := NewHeap()
	if h.Memory(h.NewInt(1)) != 0 {
		t.Errorf("inlined int reports memory")
	}
	s := h.NewString("abcd")
	if got := h.Memory(s); got != cellOverhead+4 {
		t.Errorf("Memory(string) = %d, want %d", got, cellOverhead+4)
	}
	a := h.NewArray(types.ArrayOf(types.StringType), []Value{s})
	if got := h.Memory(a); got != cellOverhead+8+cellOverhead+4 {
		t.Errorf("Memory(array) = %d", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	h := NewHeap()
	tup := h.NewTuple(pairType, []Value{h.NewString("key"), h.NewInt(-7)})
	data := h.EncodeToBytes(tup, pairType)

	d := codec.NewDecoder(data)
	v, ok := h.Decode(d, pairType)
	if !ok {
		t.Fatalf("Decode failed")
	}
	if !d.Done() {
		t.Errorf("Decode left %d bytes", len(d.Rest()))
	}
	if !h.IsEqual(v, tup) {
		t.Errorf("decoded tuple differs")
	}
	if !h.InProto(v, 0) || !h.InProto(v, 1) {
		t.Errorf("decoded tuple lacks in-proto bits")
	}

	if _, ok := h.Decode(codec.NewDecoder(data[:len(data)-1]), pairType); ok {
		t.Errorf("Decode of truncated data succeeded")
	}
}

func TestCollectReclaimsUnreachable(t *testing.T) {
	h := NewHeap()
	keep := ints(h, 1, 2)
	leak := h.NewArray(types.ArrayOf(intArray), []Value{keep})
	h.IncRef(keep)
	_ = leak

	n := h.Collect([]Value{keep})
	if n != 1 {
		t.Errorf("Collect reclaimed %d cells, want 1", n)
	}
	if h.Live() != 1 || h.RefCount(keep) != 1 {
		t.Errorf("after Collect Live = %d RefCount(keep) = %d, want 1 and 1", h.Live(), h.RefCount(keep))
	}
}
