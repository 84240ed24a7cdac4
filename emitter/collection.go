package emitter

import (
	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

func init() {
	register(&Kind{
		Name:     "collection",
		Validate: noWeight,
		NewEntry: func(w *Writer) Entry { return &collectionEntry{w: w} },
		ReadBody: readElems,
	})
	register(&Kind{
		Name:       "set",
		Properties: Properties{Param: true, Aggregates: true},
		Validate:   noWeight,
		NewEntry: func(w *Writer) Entry {
			return &setEntry{w: w, index: make(map[string]bool)}
		},
		ReadBody: readElems,
	})
	register(&Kind{
		Name:       "sample",
		Properties: Properties{Param: true, Aggregates: true},
		Validate:   noWeight,
		NewEntry:   func(w *Writer) Entry { return &sampleEntry{w: w} },
		ReadBody:   readElems,
	})
}

func noWeight(spec *types.TableSpec) string {
	if spec.Weight != nil {
		return "takes no weight"
	}
	return ""
}

// entryOverhead approximates the fixed cost of an entry and of each
// retained element.
const entryOverhead = 64

// ---------------------------------------------------------------------------
// collection: every element, in emit order
// ---------------------------------------------------------------------------

type collectionEntry struct {
	w     *Writer
	elems [][]byte
	mem   int
}

func (e *collectionEntry) AddElem(elem []byte) {
	e.elems = append(e.elems, elem)
	e.mem += len(elem) + 24
}

func (e *collectionEntry) AddWeightedElem(elem, _ []byte) { e.AddElem(elem) }

func (e *collectionEntry) Flush() []byte {
	enc := codec.NewEncoder()
	putHeader(enc, int64(len(e.elems)), len(e.elems))
	for _, x := range e.elems {
		enc.PutBytes(x)
	}
	e.Clear()
	return enc.Data()
}

func (e *collectionEntry) FlushForDisplay() []string {
	rows := make([]string, len(e.elems))
	for i, x := range e.elems {
		rows[i] = e.w.formatElem(x)
	}
	return rows
}

func (e *collectionEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	_, n, ok := getHeader(d)
	if !ok || n < 0 {
		return MergeError
	}
	recs, ok := readElems(e.w, d, n)
	if !ok || !d.Done() {
		return MergeError
	}
	for _, r := range recs {
		e.AddElem(r.Elem)
	}
	return MergeOk
}

func (e *collectionEntry) TotElems() int64 { return int64(len(e.elems)) }
func (e *collectionEntry) TupleCount() int { return len(e.elems) }
func (e *collectionEntry) Memory() int     { return entryOverhead + e.mem }

func (e *collectionEntry) Clear() {
	e.elems = nil
	e.mem = 0
}

// ---------------------------------------------------------------------------
// set(N): up to N distinct elements; more than N empties the result
// ---------------------------------------------------------------------------

type setEntry struct {
	w        *Writer
	tot      int64
	elems    [][]byte
	index    map[string]bool
	overflow bool
	mem      int
}

func (e *setEntry) AddElem(elem []byte) {
	e.tot++
	e.add(elem)
}

func (e *setEntry) add(elem []byte) {
	if e.overflow || e.index[string(elem)] {
		return
	}
	if len(e.elems) >= e.w.Param() {
		e.overflow = true
		return
	}
	e.index[string(elem)] = true
	e.elems = append(e.elems, elem)
	e.mem += 2*len(elem) + 48
}

func (e *setEntry) AddWeightedElem(elem, _ []byte) { e.AddElem(elem) }

// Flush writes a retained count of -1 once the set has overflowed.
func (e *setEntry) Flush() []byte {
	enc := codec.NewEncoder()
	if e.overflow {
		putHeader(enc, e.tot, -1)
	} else {
		putHeader(enc, e.tot, len(e.elems))
		for _, x := range e.elems {
			enc.PutBytes(x)
		}
	}
	e.Clear()
	return enc.Data()
}

func (e *setEntry) FlushForDisplay() []string {
	if e.overflow {
		return nil
	}
	rows := make([]string, len(e.elems))
	for i, x := range e.elems {
		rows[i] = e.w.formatElem(x)
	}
	return rows
}

func (e *setEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok {
		return MergeError
	}
	recs, ok := readElems(e.w, d, n)
	if !ok || !d.Done() {
		return MergeError
	}
	e.tot += tot
	if n < 0 {
		e.overflow = true
		return MergeOk
	}
	for _, r := range recs {
		e.add(r.Elem)
	}
	return MergeOk
}

func (e *setEntry) TotElems() int64 { return e.tot }
func (e *setEntry) TupleCount() int { return len(e.elems) }
func (e *setEntry) Memory() int     { return entryOverhead + e.mem }

func (e *setEntry) Clear() {
	e.tot = 0
	e.elems = nil
	e.index = make(map[string]bool)
	e.overflow = false
	e.mem = 0
}

// ---------------------------------------------------------------------------
// sample(N): uniform reservoir of N elements
// ---------------------------------------------------------------------------

type sampleEntry struct {
	w     *Writer
	tot   int64
	elems [][]byte
	mem   int
}

func (e *sampleEntry) AddElem(elem []byte) {
	e.tot++
	n := e.w.Param()
	if len(e.elems) < n {
		e.elems = append(e.elems, elem)
		e.mem += len(elem) + 24
		return
	}
	if j := e.w.rnd.Int63n(e.tot); j < int64(n) {
		e.mem += len(elem) - len(e.elems[j])
		e.elems[j] = elem
	}
}

func (e *sampleEntry) AddWeightedElem(elem, _ []byte) { e.AddElem(elem) }

func (e *sampleEntry) Flush() []byte {
	enc := codec.NewEncoder()
	putHeader(enc, e.tot, len(e.elems))
	for _, x := range e.elems {
		enc.PutBytes(x)
	}
	e.Clear()
	return enc.Data()
}

func (e *sampleEntry) FlushForDisplay() []string {
	rows := make([]string, len(e.elems))
	for i, x := range e.elems {
		rows[i] = e.w.formatElem(x)
	}
	return rows
}

// Merge combines two reservoirs. Each retained element stands for
// tot/len(elems) inputs; N elements are drawn without replacement with
// probability proportional to what they stand for.
func (e *sampleEntry) Merge(payload []byte) MergeStatus {
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
	if len(recs) == 0 {
		e.tot += tot
		return MergeOk
	}
	cands := make([]weighted, 0, len(e.elems)+len(recs))
	for _, x := range e.elems {
		cands = append(cands, weighted{elem: x, weight: float64(e.tot) / float64(len(e.elems))})
	}
	for _, r := range recs {
		cands = append(cands, weighted{elem: r.Elem, weight: float64(tot) / float64(len(recs))})
	}
	picked := weightedPick(e.w, cands, e.w.Param())
	e.tot += tot
	e.elems = e.elems[:0]
	e.mem = 0
	for _, c := range picked {
		e.elems = append(e.elems, c.elem)
		e.mem += len(c.elem) + 24
	}
	return MergeOk
}

func (e *sampleEntry) TotElems() int64 { return e.tot }
func (e *sampleEntry) TupleCount() int { return len(e.elems) }
func (e *sampleEntry) Memory() int     { return entryOverhead + e.mem }

func (e *sampleEntry) Clear() {
	e.tot = 0
	e.elems = nil
	e.mem = 0
}
