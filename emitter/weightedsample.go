package emitter

import (
	"container/heap"
	"math"
	"sort"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

func init() {
	register(&Kind{
		Name:       "weightedsample",
		Properties: Properties{Param: true, Weighted: true, Aggregates: true},
		Validate:   numericWeight,
		NewEntry: func(w *Writer) Entry {
			return &weightedSampleEntry{w: w, fast: w.opts.FastWeightedSample}
		},
		ReadBody: readTagged,
	})
}

func numericWeight(spec *types.TableSpec) string {
	if spec.Weight == nil {
		return "requires a weight"
	}
	if k := spec.Weight.Kind; k != types.Int && k != types.Float {
		return "weight must be int or float"
	}
	return ""
}

// decodeWeight reads an int or float weight as a float.
func decodeWeight(b []byte) (float64, bool) {
	d := codec.NewDecoder(b)
	switch d.Peek() {
	case codec.KindInt:
		x, ok := d.GetInt()
		return float64(x), ok
	case codec.KindFloat:
		return d.GetFloat()
	}
	return 0, false
}

// weighted is an element with its weight and sampling key.
type weighted struct {
	elem   []byte
	weight float64
	key    float64
}

// sampleKey returns log(u)/w for a uniform u in (0, 1). Larger keys win.
func sampleKey(w *Writer, weight float64) float64 {
	u := w.rnd.Float64()
	for u == 0 {
		u = w.rnd.Float64()
	}
	return math.Log(u) / weight
}

// weightedPick draws n of cands without replacement, each with
// probability proportional to its weight.
func weightedPick(w *Writer, cands []weighted, n int) []weighted {
	for i := range cands {
		if cands[i].weight > 0 {
			cands[i].key = sampleKey(w, cands[i].weight)
		} else {
			cands[i].key = math.Inf(-1)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].key > cands[j].key })
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// keyHeap is a min-heap on sampling keys.
type keyHeap []weighted

func (h keyHeap) Len() int            { return len(h) }
func (h keyHeap) Less(i, j int) bool  { return h[i].key < h[j].key }
func (h keyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *keyHeap) Push(x interface{}) { *h = append(*h, x.(weighted)) }
func (h *keyHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// ---------------------------------------------------------------------------
// weightedsample(N): N elements sampled in proportion to their weights
// ---------------------------------------------------------------------------

// weightedSampleEntry keeps the N largest keys log(u)/w. The fast variant
// skips ahead with exponential jumps once the reservoir is full and draws
// the replacing key conditioned on beating the current minimum.
type weightedSampleEntry struct {
	w    *Writer
	fast bool
	tot  int64
	h    keyHeap
	mem  int

	skip float64 // fast variant: weight left to skip
}

func (e *weightedSampleEntry) AddElem(elem []byte) {
	e.tot++
}

func (e *weightedSampleEntry) AddWeightedElem(elem, weight []byte) {
	e.tot++
	wt, ok := decodeWeight(weight)
	if !ok || !(wt > 0) || math.IsInf(wt, 1) {
		return
	}
	n := e.w.Param()
	if len(e.h) < n {
		e.push(weighted{elem: elem, key: sampleKey(e.w, wt)})
		if e.fast && len(e.h) == n {
			e.jump()
		}
		return
	}
	if !e.fast {
		if key := sampleKey(e.w, wt); key > e.h[0].key {
			e.replace(weighted{elem: elem, key: key})
		}
		return
	}
	e.skip -= wt
	if e.skip > 0 {
		return
	}
	// The key must exceed the minimum t: draw u in (exp(t*w), 1).
	lo := math.Exp(e.h[0].key * wt)
	u := lo + (1-lo)*e.w.rnd.Float64()
	if u <= 0 || u >= 1 {
		u = math.Nextafter(1, 0)
	}
	e.replace(weighted{elem: elem, key: math.Log(u) / wt})
	e.jump()
}

// jump draws the weight to skip before the next replacement.
func (e *weightedSampleEntry) jump() {
	u := e.w.rnd.Float64()
	for u == 0 {
		u = e.w.rnd.Float64()
	}
	if t := e.h[0].key; t < 0 {
		e.skip = math.Log(u) / t
	} else {
		e.skip = 0
	}
}

func (e *weightedSampleEntry) push(x weighted) {
	heap.Push(&e.h, x)
	e.mem += len(x.elem) + 40
}

func (e *weightedSampleEntry) replace(x weighted) {
	e.mem += len(x.elem) - len(e.h[0].elem)
	e.h[0] = x
	heap.Fix(&e.h, 0)
}

// sorted returns the sample, largest key first.
func (e *weightedSampleEntry) sorted() []weighted {
	out := append([]weighted(nil), e.h...)
	sort.Slice(out, func(i, j int) bool { return out[i].key > out[j].key })
	return out
}

// Flush writes (element, key) pairs; the key is the tag merges compare.
func (e *weightedSampleEntry) Flush() []byte {
	enc := codec.NewEncoder()
	s := e.sorted()
	putHeader(enc, e.tot, len(s))
	for _, x := range s {
		enc.PutBytes(x.elem)
		enc.PutFloat(x.key)
	}
	e.Clear()
	return enc.Data()
}

func (e *weightedSampleEntry) FlushForDisplay() []string {
	s := e.sorted()
	rows := make([]string, len(s))
	for i, x := range s {
		rows[i] = e.w.formatElem(x.elem)
	}
	return rows
}

func (e *weightedSampleEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok || n < 0 {
		return MergeError
	}
	var in []weighted
	for i := 0; i < n; i++ {
		elem, ok := d.GetBytes()
		if !ok {
			return MergeError
		}
		key, ok := d.GetFloat()
		if !ok {
			return MergeError
		}
		in = append(in, weighted{elem: elem, key: key})
	}
	if !d.Done() {
		return MergeError
	}
	e.tot += tot
	for _, x := range in {
		if len(e.h) < e.w.Param() {
			e.push(x)
		} else if x.key > e.h[0].key {
			e.replace(x)
		}
	}
	if e.fast && len(e.h) == e.w.Param() {
		e.jump()
	}
	return MergeOk
}

func (e *weightedSampleEntry) TotElems() int64 { return e.tot }
func (e *weightedSampleEntry) TupleCount() int { return len(e.h) }
func (e *weightedSampleEntry) Memory() int     { return entryOverhead + e.mem }

func (e *weightedSampleEntry) Clear() {
	e.tot = 0
	e.h = nil
	e.mem = 0
	e.skip = 0
}

// readTagged reads (element, float tag) pairs; the tag is returned as the
// encoded weight.
func readTagged(_ *Writer, d *codec.Decoder, n int) ([]Record, bool) {
	if n < 0 {
		return nil, false
	}
	recs := make([]Record, 0, n)
	enc := codec.NewEncoder()
	for i := 0; i < n; i++ {
		elem, ok := d.GetBytes()
		if !ok {
			return nil, false
		}
		tag, ok := d.GetFloat()
		if !ok {
			return nil, false
		}
		enc.Reset()
		enc.PutFloat(tag)
		recs = append(recs, Record{Elem: elem, Weight: enc.Bytes()})
	}
	return recs, true
}
