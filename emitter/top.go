package emitter

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

func init() {
	register(&Kind{
		Name:       "top",
		Properties: Properties{Param: true, Aggregates: true},
		Validate: func(spec *types.TableSpec) string {
			if spec.Weight == nil {
				return ""
			}
			return numericWeight(spec)
		},
		NewEntry: newTopEntry,
		ReadBody: readTop,
	})
}

const topDepth = 4

func topWidth(n int) int {
	if w := 32 * n; w > 128 {
		return w
	}
	return 128
}

// ---------------------------------------------------------------------------
// top(N): the N most frequent elements, approximately
// ---------------------------------------------------------------------------

// topEntry tracks up to 2N candidates exactly once admitted, backed by a
// count-min sketch that estimates the weight of everything else. The
// reported deviation is the sketch's expected overcount, the summed
// absolute weight over the sketch width.
type topEntry struct {
	w      *Writer
	intWt  bool
	tot    int64
	width  int
	counts []float64 // topDepth rows of width counters
	absSum float64
	cands  map[string]*topCand
	heap   topHeap // cands, lightest first
	mem    int
}

type topCand struct {
	key    string
	weight float64
	index  int
}

// topHeap orders candidates by weight, ties by element.
type topHeap []*topCand

func (h topHeap) Len() int { return len(h) }
func (h topHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight < h[j].weight
	}
	return h[i].key < h[j].key
}
func (h topHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *topHeap) Push(x any) {
	c := x.(*topCand)
	c.index = len(*h)
	*h = append(*h, c)
}
func (h *topHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

func newTopEntry(w *Writer) Entry {
	e := &topEntry{
		w:     w,
		intWt: w.spec.Weight == nil || w.spec.Weight.Kind == types.Int,
		width: topWidth(w.Param()),
	}
	e.Clear()
	return e
}

func (e *topEntry) capacity() int { return 2 * e.w.Param() }

func (e *topEntry) cell(row int, elem []byte) int {
	return row*e.width + int(xxh3.HashSeed(elem, uint64(row)+1)%uint64(e.width))
}

func (e *topEntry) sketchAdd(elem []byte, wt float64) {
	for r := 0; r < topDepth; r++ {
		e.counts[e.cell(r, elem)] += wt
	}
	e.absSum += math.Abs(wt)
}

func (e *topEntry) sketchEstimate(elem []byte) float64 {
	est := math.Inf(1)
	for r := 0; r < topDepth; r++ {
		est = math.Min(est, e.counts[e.cell(r, elem)])
	}
	return est
}

// estimate is the candidate weight if elem is tracked, else the sketch's.
func (e *topEntry) estimate(elem string) float64 {
	if c, ok := e.cands[elem]; ok {
		return c.weight
	}
	return e.sketchEstimate([]byte(elem))
}

func (e *topEntry) AddElem(elem []byte) {
	e.add(elem, 1)
}

func (e *topEntry) AddWeightedElem(elem, weight []byte) {
	wt, ok := decodeWeight(weight)
	if !ok || math.IsNaN(wt) {
		e.tot++
		return
	}
	e.add(elem, wt)
}

func (e *topEntry) add(elem []byte, wt float64) {
	e.tot++
	e.sketchAdd(elem, wt)
	if c, ok := e.cands[string(elem)]; ok {
		c.weight += wt
		heap.Fix(&e.heap, c.index)
		return
	}
	est := e.sketchEstimate(elem)
	if len(e.cands) < e.capacity() {
		c := &topCand{key: string(elem), weight: est}
		e.cands[c.key] = c
		heap.Push(&e.heap, c)
		e.mem += len(elem) + 48
		return
	}
	if min := e.heap[0]; est > min.weight {
		delete(e.cands, min.key)
		e.mem += len(elem) - len(min.key)
		min.key, min.weight = string(elem), est
		e.cands[min.key] = min
		heap.Fix(&e.heap, 0)
	}
}

// setCands replaces the candidates, dropping the lightest beyond capacity.
func (e *topEntry) setCands(weights map[string]float64) {
	e.cands = make(map[string]*topCand, len(weights))
	e.heap = make(topHeap, 0, len(weights))
	e.mem = 0
	for k, w := range weights {
		c := &topCand{key: k, weight: w, index: len(e.heap)}
		e.cands[k] = c
		e.heap = append(e.heap, c)
		e.mem += len(k) + 48
	}
	heap.Init(&e.heap)
	for len(e.heap) > e.capacity() {
		c := heap.Pop(&e.heap).(*topCand)
		delete(e.cands, c.key)
		e.mem -= len(c.key) + 48
	}
}

// ranked returns the candidates heaviest first, ties in element order.
func (e *topEntry) ranked() []weighted {
	out := make([]weighted, 0, len(e.cands))
	for k, c := range e.cands {
		out = append(out, weighted{elem: []byte(k), weight: c.weight})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		return string(out[i].elem) < string(out[j].elem)
	})
	return out
}

// Deviation returns the estimated error of each reported weight.
func (e *topEntry) Deviation() float64 {
	return e.absSum / float64(e.width)
}

// Flush writes the sketch followed by (element, weight) candidates.
func (e *topEntry) Flush() []byte {
	enc := codec.NewEncoder()
	r := e.ranked()
	putHeader(enc, e.tot, len(r))
	enc.PutInt(topDepth)
	enc.PutInt(int64(e.width))
	enc.PutFloat(e.absSum)
	for _, c := range e.counts {
		enc.PutFloat(c)
	}
	for _, c := range r {
		enc.PutBytes(c.elem)
		enc.PutFloat(c.weight)
	}
	e.Clear()
	return enc.Data()
}

func (e *topEntry) formatWeight(wt float64) string {
	if e.intWt {
		return fmt.Sprintf("%d", int64(math.Round(wt)))
	}
	return FormatFloat(wt)
}

func (e *topEntry) FlushForDisplay() []string {
	r := e.ranked()
	if n := e.w.Param(); len(r) > n {
		r = r[:n]
	}
	dev := e.formatWeight(e.Deviation())
	rows := make([]string, len(r))
	for i, c := range r {
		rows[i] = e.w.formatElem(c.elem) + ", " + e.formatWeight(c.weight) + ", " + dev
	}
	return rows
}

type topState struct {
	tot    int64
	absSum float64
	counts []float64
	cands  []weighted
}

func (e *topEntry) decode(payload []byte) (*topState, bool) {
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok || n < 0 {
		return nil, false
	}
	depth, ok1 := d.GetInt()
	width, ok2 := d.GetInt()
	abs, ok3 := d.GetFloat()
	if !ok1 || !ok2 || !ok3 || depth != topDepth || int(width) != e.width {
		return nil, false
	}
	st := &topState{tot: tot, absSum: abs, counts: make([]float64, topDepth*e.width)}
	for i := range st.counts {
		if st.counts[i], ok = d.GetFloat(); !ok {
			return nil, false
		}
	}
	for i := 0; i < n; i++ {
		elem, ok := d.GetBytes()
		if !ok {
			return nil, false
		}
		wt, ok := d.GetFloat()
		if !ok {
			return nil, false
		}
		st.cands = append(st.cands, weighted{elem: elem, weight: wt})
	}
	return st, d.Done()
}

// Merge adds the sketches and re-ranks the union of candidates by the sum
// of both sides' estimates.
func (e *topEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	st, ok := e.decode(payload)
	if !ok {
		return MergeError
	}
	peer := &topEntry{w: e.w, width: e.width, counts: st.counts, cands: make(map[string]*topCand)}
	for _, c := range st.cands {
		peer.cands[string(c.elem)] = &topCand{key: string(c.elem), weight: c.weight}
	}

	union := make(map[string]float64, len(e.cands)+len(peer.cands))
	for k := range e.cands {
		union[k] = e.estimate(k) + peer.estimate(k)
	}
	for k := range peer.cands {
		if _, done := union[k]; !done {
			union[k] = e.estimate(k) + peer.estimate(k)
		}
	}

	e.tot += st.tot
	e.absSum += st.absSum
	for i, c := range st.counts {
		e.counts[i] += c
	}
	e.setCands(union)
	return MergeOk
}

func (e *topEntry) TotElems() int64 { return e.tot }

func (e *topEntry) TupleCount() int {
	if n := e.w.Param(); len(e.cands) > n {
		return n
	}
	return len(e.cands)
}

func (e *topEntry) Memory() int {
	return entryOverhead + 8*len(e.counts) + e.mem
}

func (e *topEntry) Clear() {
	e.tot = 0
	e.absSum = 0
	e.counts = make([]float64, topDepth*e.width)
	e.cands = make(map[string]*topCand)
	e.heap = nil
	e.mem = 0
}

// readTop returns the candidates of a flushed top state with float
// weights.
func readTop(w *Writer, d *codec.Decoder, n int) ([]Record, bool) {
	if n < 0 {
		return nil, false
	}
	e := newTopEntry(w).(*topEntry)
	depth, ok1 := d.GetInt()
	width, ok2 := d.GetInt()
	_, ok3 := d.GetFloat()
	if !ok1 || !ok2 || !ok3 || depth != topDepth || int(width) != e.width {
		return nil, false
	}
	for i := 0; i < topDepth*e.width; i++ {
		if _, ok := d.GetFloat(); !ok {
			return nil, false
		}
	}
	return readTagged(w, d, n)
}
