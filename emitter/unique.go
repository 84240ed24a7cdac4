package emitter

import (
	"container/heap"
	"encoding/binary"
	"math"
	"sort"
	"strconv"

	"github.com/zeebo/xxh3"

	"github.com/google/szl-sub002/codec"
)

func init() {
	register(&Kind{
		Name:       "unique",
		Properties: Properties{Param: true, Aggregates: true},
		Validate:   noWeight,
		NewEntry: func(w *Writer) Entry {
			return &uniqueEntry{w: w, seen: make(map[uint64]bool)}
		},
		ReadBody: readElems,
	})
}

// hashHeap is a max-heap of hashes.
type hashHeap []uint64

func (h hashHeap) Len() int            { return len(h) }
func (h hashHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h hashHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hashHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *hashHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// ---------------------------------------------------------------------------
// unique(N): distinct count estimated from the N smallest hashes
// ---------------------------------------------------------------------------

type uniqueEntry struct {
	w    *Writer
	tot  int64
	h    hashHeap
	seen map[uint64]bool
}

func (e *uniqueEntry) AddElem(elem []byte) {
	e.tot++
	e.addHash(xxh3.Hash(elem))
}

func (e *uniqueEntry) addHash(x uint64) {
	if e.seen[x] {
		return
	}
	if len(e.h) < e.w.Param() {
		heap.Push(&e.h, x)
		e.seen[x] = true
		return
	}
	if x >= e.h[0] {
		return
	}
	delete(e.seen, e.h[0])
	e.h[0] = x
	heap.Fix(&e.h, 0)
	e.seen[x] = true
}

func (e *uniqueEntry) AddWeightedElem(elem, _ []byte) { e.AddElem(elem) }

// Estimate returns the estimated number of distinct elements. With fewer
// than N distinct hashes the count is exact; otherwise the N-th smallest
// hash gives the density of the hash space.
func (e *uniqueEntry) Estimate() int64 {
	n := len(e.h)
	if n < e.w.Param() || n < 2 {
		return int64(n)
	}
	max := float64(e.h[0]) + 1
	return int64(math.Round(float64(n-1) * math.Exp2(64) / max))
}

func (e *uniqueEntry) sorted() []uint64 {
	out := append([]uint64(nil), e.h...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Flush writes the hashes as 8-byte big-endian bodies in ascending order.
func (e *uniqueEntry) Flush() []byte {
	enc := codec.NewEncoder()
	hs := e.sorted()
	putHeader(enc, e.tot, len(hs))
	var buf [8]byte
	for _, x := range hs {
		binary.BigEndian.PutUint64(buf[:], x)
		enc.PutBytes(buf[:])
	}
	e.Clear()
	return enc.Data()
}

func (e *uniqueEntry) FlushForDisplay() []string {
	return []string{strconv.FormatInt(e.Estimate(), 10)}
}

func (e *uniqueEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok || n < 0 {
		return MergeError
	}
	recs, ok := readElems(e.w, d, n)
	if !ok || !d.Done() {
		return MergeError
	}
	for _, r := range recs {
		if len(r.Elem) != 8 {
			return MergeError
		}
	}
	e.tot += tot
	for _, r := range recs {
		e.addHash(binary.BigEndian.Uint64(r.Elem))
	}
	return MergeOk
}

func (e *uniqueEntry) TotElems() int64 { return e.tot }
func (e *uniqueEntry) TupleCount() int { return len(e.h) }
func (e *uniqueEntry) Memory() int     { return entryOverhead + 24*len(e.h) }

func (e *uniqueEntry) Clear() {
	e.tot = 0
	e.h = nil
	e.seen = make(map[uint64]bool)
}
