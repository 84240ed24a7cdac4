package emitter

import (
	"bytes"
	"sort"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

func init() {
	for _, k := range []struct {
		name string
		max  bool
	}{{"maximum", true}, {"minimum", false}} {
		max := k.max
		register(&Kind{
			Name:       k.name,
			Properties: Properties{Param: true, Weighted: true, Aggregates: true},
			Validate:   basicWeight,
			NewEntry:   func(w *Writer) Entry { return &extremeEntry{w: w, max: max} },
			ReadBody:   readPairs,
		})
	}
}

func basicWeight(spec *types.TableSpec) string {
	if spec.Weight == nil {
		return "requires a weight"
	}
	if !spec.Weight.IsBasic() {
		return "weight must be a basic type"
	}
	return ""
}

type pair struct {
	elem, weight []byte
}

// ---------------------------------------------------------------------------
// maximum(N) and minimum(N): the N elements with the extreme weights
// ---------------------------------------------------------------------------

// extremeEntry keeps its pairs best first. Encoded weights compare in
// value order, ties broken by the element encoding.
type extremeEntry struct {
	w     *Writer
	max   bool
	tot   int64
	pairs []pair
	mem   int
}

// before reports whether a ranks ahead of b.
func (e *extremeEntry) before(a, b pair) bool {
	c := bytes.Compare(a.weight, b.weight)
	if c == 0 {
		c = bytes.Compare(a.elem, b.elem)
	}
	if e.max {
		return c > 0
	}
	return c < 0
}

func (e *extremeEntry) AddElem(elem []byte) {
	e.tot++
}

func (e *extremeEntry) AddWeightedElem(elem, weight []byte) {
	e.tot++
	e.add(pair{elem, weight})
}

func (e *extremeEntry) add(p pair) {
	n := e.w.Param()
	if len(e.pairs) == n && !e.before(p, e.pairs[n-1]) {
		return
	}
	i := sort.Search(len(e.pairs), func(i int) bool { return e.before(p, e.pairs[i]) })
	if len(e.pairs) < n {
		e.pairs = append(e.pairs, pair{})
		e.mem += 48
	} else {
		last := e.pairs[n-1]
		e.mem -= len(last.elem) + len(last.weight)
	}
	copy(e.pairs[i+1:], e.pairs[i:])
	e.pairs[i] = p
	e.mem += len(p.elem) + len(p.weight)
}

func (e *extremeEntry) Flush() []byte {
	enc := codec.NewEncoder()
	putHeader(enc, e.tot, len(e.pairs))
	for _, p := range e.pairs {
		enc.PutBytes(p.elem)
		enc.PutBytes(p.weight)
	}
	e.Clear()
	return enc.Data()
}

func (e *extremeEntry) FlushForDisplay() []string {
	rows := make([]string, len(e.pairs))
	for i, p := range e.pairs {
		rows[i] = e.w.formatElem(p.elem) + ", " + e.w.formatWeight(p.weight)
	}
	return rows
}

func (e *extremeEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok || n < 0 {
		return MergeError
	}
	recs, ok := readPairs(e.w, d, n)
	if !ok || !d.Done() {
		return MergeError
	}
	e.tot += tot
	for _, r := range recs {
		e.add(pair{r.Elem, r.Weight})
	}
	return MergeOk
}

func (e *extremeEntry) TotElems() int64 { return e.tot }
func (e *extremeEntry) TupleCount() int { return len(e.pairs) }
func (e *extremeEntry) Memory() int     { return entryOverhead + e.mem }

func (e *extremeEntry) Clear() {
	e.tot = 0
	e.pairs = nil
	e.mem = 0
}
