package emitter

import (
	"math"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

func init() {
	register(&Kind{
		Name:       "bootstrapsum",
		Properties: Properties{Param: true, Weighted: true, Aggregates: true},
		Validate: func(spec *types.TableSpec) string {
			if spec.Weight == nil || spec.Weight.Kind != types.Fingerprint {
				return "requires a fingerprint weight"
			}
			if len(flatKinds(spec.Elem)) == 0 {
				return "element must be int, float or a tuple of them"
			}
			return ""
		},
		NewEntry: func(w *Writer) Entry { return newBootstrapEntry(w) },
		ReadBody: readElems,
	})
}

// flatKinds returns the int and float fields of t in order, or nil if t
// has any other component.
func flatKinds(t *types.Type) []types.Kind {
	switch t.Kind {
	case types.Int, types.Float:
		return []types.Kind{t.Kind}
	case types.Tuple:
		var ks []types.Kind
		for _, f := range t.Fields {
			sub := flatKinds(f.Type)
			if sub == nil {
				return nil
			}
			ks = append(ks, sub...)
		}
		return ks
	}
	return nil
}

// ---------------------------------------------------------------------------
// Poisson(1) draws from 32-bit uniforms
// ---------------------------------------------------------------------------

// poissonCDF[k] is P(X <= k) scaled to 2^32; the last entry saturates.
var poissonCDF []uint64

// poissonMSB maps the top byte of a uniform to its draw when the whole
// byte range falls within one CDF step, or -1.
var poissonMSB [256]int

func init() {
	p, cum := math.Exp(-1), 0.0
	for k := 0; ; k++ {
		cum += p
		c := uint64(cum * (1 << 32))
		if c >= 1<<32 || k >= 20 {
			poissonCDF = append(poissonCDF, 1<<32)
			break
		}
		poissonCDF = append(poissonCDF, c)
		p /= float64(k + 1)
	}
	for b := range poissonMSB {
		lo, hi := uint32(b)<<24, uint32(b)<<24|0xFFFFFF
		if k := poissonSearch(lo); k == poissonSearch(hi) {
			poissonMSB[b] = k
		} else {
			poissonMSB[b] = -1
		}
	}
}

func poissonSearch(u uint32) int {
	for k, c := range poissonCDF {
		if uint64(u) < c {
			return k
		}
	}
	return len(poissonCDF) - 1
}

func poisson(u uint32) int {
	if k := poissonMSB[u>>24]; k >= 0 {
		return k
	}
	return poissonSearch(u)
}

// splitmix is the per-record generator, seeded from the record's
// fingerprint so every replica resamples a record identically.
type splitmix uint64

func (s *splitmix) next() uint64 {
	*s += 0x9e3779b97f4a7c15
	z := uint64(*s)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// ---------------------------------------------------------------------------
// bootstrapsum(N): N Poisson-resampled totals
// ---------------------------------------------------------------------------

type bootstrapEntry struct {
	w      *Writer
	kinds  []types.Kind
	tot    int64
	ints   []int64   // N replicas of the flattened fields
	floats []float64 // parallel to ints, used for float fields
}

func newBootstrapEntry(w *Writer) *bootstrapEntry {
	e := &bootstrapEntry{w: w, kinds: flatKinds(w.spec.Elem)}
	e.Clear()
	return e
}

// decodeFlat reads an element as its flattened fields.
func (e *bootstrapEntry) decodeFlat(elem []byte) ([]int64, []float64, bool) {
	d := codec.NewDecoder(elem)
	is := make([]int64, len(e.kinds))
	fs := make([]float64, len(e.kinds))
	i := 0
	var walk func(t *types.Type) bool
	walk = func(t *types.Type) bool {
		switch t.Kind {
		case types.Int:
			x, ok := d.GetInt()
			is[i] = x
			i++
			return ok
		case types.Float:
			x, ok := d.GetFloat()
			fs[i] = x
			i++
			return ok
		case types.Tuple:
			if !d.GetStart(codec.KindTupleStart) {
				return false
			}
			for _, f := range t.Fields {
				if !walk(f.Type) {
					return false
				}
			}
			return d.GetEnd(codec.KindTupleEnd)
		}
		return false
	}
	if !walk(e.w.spec.Elem) || !d.Done() {
		return nil, nil, false
	}
	return is, fs, true
}

func (e *bootstrapEntry) AddElem(elem []byte) {
	e.tot++
}

// AddWeightedElem adds count(r) copies of the element to replica r, where
// count(r) is a Poisson(1) draw seeded by the fingerprint weight.
func (e *bootstrapEntry) AddWeightedElem(elem, weight []byte) {
	e.tot++
	fpr, ok := codec.NewDecoder(weight).GetFingerprint()
	if !ok {
		return
	}
	is, fs, ok := e.decodeFlat(elem)
	if !ok {
		log.Warningf("table %s: malformed element dropped", e.w.name)
		return
	}
	rng := splitmix(fpr)
	f := len(e.kinds)
	var bits uint64
	for r := 0; r < e.w.Param(); r++ {
		if r%2 == 0 {
			bits = rng.next()
		}
		c := poisson(uint32(bits))
		bits >>= 32
		if c == 0 {
			continue
		}
		for j, k := range e.kinds {
			if k == types.Int {
				e.ints[r*f+j] += int64(c) * is[j]
			} else {
				e.floats[r*f+j] += float64(c) * fs[j]
			}
		}
	}
}

// replica encodes replica r in the element's layout.
func (e *bootstrapEntry) replica(r int) []byte {
	enc := codec.NewEncoder()
	f := len(e.kinds)
	j := 0
	var walk func(t *types.Type)
	walk = func(t *types.Type) {
		switch t.Kind {
		case types.Int:
			enc.PutInt(e.ints[r*f+j])
			j++
		case types.Float:
			enc.PutFloat(e.floats[r*f+j])
			j++
		case types.Tuple:
			enc.Start(codec.KindTupleStart)
			for _, fl := range t.Fields {
				walk(fl.Type)
			}
			enc.End(codec.KindTupleEnd)
		}
	}
	walk(e.w.spec.Elem)
	return enc.Data()
}

// Flush writes the element count followed by the N replica totals.
func (e *bootstrapEntry) Flush() []byte {
	enc := codec.NewEncoder()
	n := e.w.Param()
	putHeader(enc, e.tot, n)
	for r := 0; r < n; r++ {
		enc.PutBytes(e.replica(r))
	}
	e.Clear()
	return enc.Data()
}

func (e *bootstrapEntry) FlushForDisplay() []string {
	if e.tot == 0 {
		return nil
	}
	rows := make([]string, e.w.Param())
	for r := range rows {
		rows[r] = e.w.formatElem(e.replica(r))
	}
	return rows
}

func (e *bootstrapEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok || n != e.w.Param() {
		return MergeError
	}
	recs, ok := readElems(e.w, d, n)
	if !ok || !d.Done() {
		return MergeError
	}
	f := len(e.kinds)
	is := make([]int64, n*f)
	fs := make([]float64, n*f)
	for r, rec := range recs {
		ri, rf, ok := e.decodeFlat(rec.Elem)
		if !ok {
			return MergeError
		}
		copy(is[r*f:], ri)
		copy(fs[r*f:], rf)
	}
	e.tot += tot
	for i := range is {
		e.ints[i] += is[i]
		e.floats[i] += fs[i]
	}
	return MergeOk
}

func (e *bootstrapEntry) TotElems() int64 { return e.tot }
func (e *bootstrapEntry) TupleCount() int { return e.w.Param() }
func (e *bootstrapEntry) Memory() int     { return entryOverhead + 16*len(e.ints) }

func (e *bootstrapEntry) Clear() {
	e.tot = 0
	e.ints = make([]int64, e.w.Param()*len(e.kinds))
	e.floats = make([]float64, e.w.Param()*len(e.kinds))
}
