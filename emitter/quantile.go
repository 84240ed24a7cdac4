package emitter

import (
	"bytes"
	"math"
	"sort"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

func init() {
	register(&Kind{
		Name:       "quantile",
		Properties: Properties{Param: true, Aggregates: true},
		Validate: func(spec *types.TableSpec) string {
			if spec.Param < 2 {
				return "needs at least 2 quantiles"
			}
			return noWeight(spec)
		},
		NewEntry: func(w *Writer) Entry { return newQuantileEntry(w) },
		ReadBody: readQuantile,
	})
}

// quantileMaxElems is the input size the buffer layout is sized for.
const quantileMaxElems = 1e9

// quantileLayout returns the number of buffer levels b and the buffer size
// k for q quantiles: b is the least level count for which
// (b-2)*2^(b-2) + 1/2 exceeds the allowed rank error, and k buffers of
// 2^(b-1) cover the maximum input.
func quantileLayout(q int) (b, k int) {
	eps := 1 / float64(q-1)
	b = 2
	for float64(b-2)*math.Exp2(float64(b-2))+0.5 <= eps*quantileMaxElems {
		b++
	}
	k = int(math.Ceil(quantileMaxElems / math.Exp2(float64(b-1))))
	return b, k
}

// ---------------------------------------------------------------------------
// quantile(Q): approximate quantiles, Munro-Paterson
// ---------------------------------------------------------------------------

// quantileEntry keeps buffers of k elements. Levels 0 and 1 collect raw
// insertions; level l >= 2 holds a sorted buffer in which every element
// stands for 2^(l-1) inputs. Two full buffers of one level collapse into
// one buffer of the next.
type quantileEntry struct {
	w        *Writer
	k        int
	tot      int64
	min, max []byte
	levels   [][][]byte
	toggle   bool
	mem      int
}

func newQuantileEntry(w *Writer) *quantileEntry {
	_, k := quantileLayout(w.Param())
	return &quantileEntry{w: w, k: k, levels: make([][][]byte, 2)}
}

func (e *quantileEntry) AddElem(elem []byte) {
	e.tot++
	e.insert(elem)
}

func (e *quantileEntry) AddWeightedElem(elem, _ []byte) { e.AddElem(elem) }

func (e *quantileEntry) insert(elem []byte) {
	if e.min == nil || bytes.Compare(elem, e.min) < 0 {
		e.min = elem
	}
	if e.max == nil || bytes.Compare(elem, e.max) > 0 {
		e.max = elem
	}
	if len(e.levels[0]) == e.k && len(e.levels[1]) == e.k {
		sortElems(e.levels[0])
		sortElems(e.levels[1])
		buf := e.collapse(e.levels[0], e.levels[1])
		e.levels[0], e.levels[1] = nil, nil
		e.carry(buf, 2)
	}
	l := 0
	if len(e.levels[0]) == e.k {
		l = 1
	}
	e.levels[l] = append(e.levels[l], elem)
	e.mem += len(elem) + 24
}

func sortElems(s [][]byte) {
	sort.Slice(s, func(i, j int) bool { return bytes.Compare(s[i], s[j]) < 0 })
}

// collapse merges two sorted buffers of k and keeps every other element,
// alternating the starting offset between calls.
func (e *quantileEntry) collapse(a, b [][]byte) [][]byte {
	out := make([][]byte, 0, e.k)
	i, j, n := 0, 0, 0
	off := 0
	if e.toggle {
		off = 1
	}
	e.toggle = !e.toggle
	for i < len(a) || j < len(b) {
		var x []byte
		if j >= len(b) || (i < len(a) && bytes.Compare(a[i], b[j]) <= 0) {
			x = a[i]
			i++
		} else {
			x = b[j]
			j++
		}
		if n%2 == off {
			out = append(out, x)
		}
		n++
	}
	e.mem -= (len(a) + len(b) - len(out)) * 24
	for _, x := range a {
		e.mem -= len(x)
	}
	for _, x := range b {
		e.mem -= len(x)
	}
	for _, x := range out {
		e.mem += len(x)
	}
	return out
}

// carry places a sorted buffer at level l, collapsing upward while the
// level is occupied.
func (e *quantileEntry) carry(buf [][]byte, l int) {
	for l < len(e.levels) && e.levels[l] != nil {
		buf = e.collapse(e.levels[l], buf)
		e.levels[l] = nil
		l++
	}
	for len(e.levels) <= l {
		e.levels = append(e.levels, nil)
	}
	e.levels[l] = buf
}

func levelWeight(l int) int64 {
	if l < 2 {
		return 1
	}
	return 1 << (l - 1)
}

// Quantiles returns q elements: the minimum, q-2 interpolated splitters
// and the maximum. It returns nil when nothing was added.
func (e *quantileEntry) Quantiles() [][]byte {
	if e.tot == 0 || e.min == nil {
		return nil
	}
	type item struct {
		elem []byte
		wt   int64
	}
	var items []item
	var total int64
	for l, buf := range e.levels {
		for _, x := range buf {
			items = append(items, item{x, levelWeight(l)})
			total += levelWeight(l)
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return bytes.Compare(items[i].elem, items[j].elem) < 0 })

	q := e.w.Param()
	out := make([][]byte, 0, q)
	out = append(out, e.min)
	var cum int64
	idx := 0
	for i := 1; i < q-1; i++ {
		rank := int64(math.Ceil(float64(i) * float64(total) / float64(q-1)))
		for idx < len(items) && cum+items[idx].wt < rank {
			cum += items[idx].wt
			idx++
		}
		if idx < len(items) {
			out = append(out, items[idx].elem)
		} else {
			out = append(out, e.max)
		}
	}
	return append(out, e.max)
}

// Flush writes the minimum and maximum followed by each non-empty buffer
// as (level, length, elements).
func (e *quantileEntry) Flush() []byte {
	enc := codec.NewEncoder()
	var nbuf int
	for _, buf := range e.levels {
		if len(buf) > 0 {
			nbuf++
		}
	}
	putHeader(enc, e.tot, nbuf)
	if nbuf > 0 {
		enc.PutBytes(e.min)
		enc.PutBytes(e.max)
		for l, buf := range e.levels {
			if len(buf) == 0 {
				continue
			}
			enc.PutInt(int64(l))
			enc.PutInt(int64(len(buf)))
			for _, x := range buf {
				enc.PutBytes(x)
			}
		}
	}
	e.Clear()
	return enc.Data()
}

func (e *quantileEntry) FlushForDisplay() []string {
	qs := e.Quantiles()
	rows := make([]string, len(qs))
	for i, x := range qs {
		rows[i] = e.w.formatElem(x)
	}
	return rows
}

type quantileState struct {
	tot      int64
	min, max []byte
	levels   map[int][][]byte
}

func decodeQuantile(d *codec.Decoder, k, nbuf int) (*quantileState, bool) {
	st := &quantileState{levels: make(map[int][][]byte)}
	if nbuf == 0 {
		return st, true
	}
	var ok bool
	if st.min, ok = d.GetBytes(); !ok {
		return nil, false
	}
	if st.max, ok = d.GetBytes(); !ok {
		return nil, false
	}
	for i := 0; i < nbuf; i++ {
		l, ok1 := d.GetInt()
		n, ok2 := d.GetInt()
		if !ok1 || !ok2 || l < 0 || l > 64 || n < 0 || n > int64(k) {
			return nil, false
		}
		if _, dup := st.levels[int(l)]; dup || (l >= 2 && n != int64(k)) {
			return nil, false
		}
		buf := make([][]byte, n)
		for j := range buf {
			if buf[j], ok = d.GetBytes(); !ok {
				return nil, false
			}
		}
		st.levels[int(l)] = buf
	}
	return st, true
}

func (e *quantileEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	tot, nbuf, ok := getHeader(d)
	if !ok || nbuf < 0 {
		return MergeError
	}
	st, ok := decodeQuantile(d, e.k, nbuf)
	if !ok || !d.Done() {
		return MergeError
	}
	e.apply(tot, st)
	return MergeOk
}

func (e *quantileEntry) apply(tot int64, st *quantileState) {
	e.tot += tot
	ls := make([]int, 0, len(st.levels))
	for l := range st.levels {
		ls = append(ls, l)
	}
	sort.Ints(ls)
	for _, l := range ls {
		buf := st.levels[l]
		if l < 2 {
			for _, x := range buf {
				e.insert(x)
			}
			continue
		}
		for _, x := range buf {
			e.mem += len(x) + 24
		}
		e.carry(buf, l)
	}
	if st.min != nil && (e.min == nil || bytes.Compare(st.min, e.min) < 0) {
		e.min = st.min
	}
	if st.max != nil && (e.max == nil || bytes.Compare(st.max, e.max) > 0) {
		e.max = st.max
	}
}

func (e *quantileEntry) TotElems() int64 { return e.tot }

func (e *quantileEntry) TupleCount() int {
	n := 0
	for _, buf := range e.levels {
		n += len(buf)
	}
	return n
}

func (e *quantileEntry) Memory() int { return entryOverhead + e.mem }

func (e *quantileEntry) Clear() {
	e.tot = 0
	e.min, e.max = nil, nil
	e.levels = make([][][]byte, 2)
	e.toggle = false
	e.mem = 0
}

// readQuantile returns the quantiles of a flushed state as records.
func readQuantile(w *Writer, d *codec.Decoder, n int) ([]Record, bool) {
	if n < 0 {
		return nil, false
	}
	e := newQuantileEntry(w)
	st, ok := decodeQuantile(d, e.k, n)
	if !ok {
		return nil, false
	}
	var tot int64
	for l, buf := range st.levels {
		tot += int64(len(buf)) * levelWeight(l)
	}
	e.apply(tot, st)
	var recs []Record
	for _, x := range e.Quantiles() {
		recs = append(recs, Record{Elem: x})
	}
	return recs, true
}
