package emitter

import (
	"sort"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

func init() {
	register(&Kind{
		Name:       "sum",
		Properties: Properties{Aggregates: true},
		Validate: func(spec *types.TableSpec) string {
			if spec.Weight != nil {
				return "takes no weight"
			}
			if !spec.Elem.IsAdditive() {
				return "element type " + spec.Elem.String() + " cannot be summed"
			}
			return ""
		},
		NewEntry: func(w *Writer) Entry { return &sumEntry{w: w} },
		ReadBody: readElems,
	})
}

// accum is a running total shaped like an additive type.
type accum struct {
	i      int64
	u      uint64
	f      float64
	fields []*accum
	m      map[string]*accum
}

func newAccum(t *types.Type) *accum {
	a := &accum{}
	switch t.Kind {
	case types.Tuple:
		a.fields = make([]*accum, len(t.Fields))
		for i, f := range t.Fields {
			a.fields[i] = newAccum(f.Type)
		}
	case types.Map:
		a.m = make(map[string]*accum)
	}
	return a
}

// add decodes one value of t and adds it in. Malformed input may leave the
// total partially updated, so callers validate first.
func (a *accum) add(d *codec.Decoder, t *types.Type) bool {
	switch t.Kind {
	case types.Int:
		x, ok := d.GetInt()
		a.i += x
		return ok
	case types.UInt:
		x, ok := d.GetUInt()
		a.u += x
		return ok
	case types.Time:
		x, ok := d.GetTime()
		a.u += x
		return ok
	case types.Float:
		x, ok := d.GetFloat()
		a.f += x
		return ok
	case types.Tuple:
		if !d.GetStart(codec.KindTupleStart) {
			return false
		}
		for i, f := range t.Fields {
			if !a.fields[i].add(d, f.Type) {
				return false
			}
		}
		return d.GetEnd(codec.KindTupleEnd)
	case types.Map:
		n, ok := d.GetMapStart()
		if !ok {
			return false
		}
		for i := 0; i < n; i++ {
			k, ok := d.GetString()
			if !ok {
				return false
			}
			v, ok := a.m[k]
			if !ok {
				v = newAccum(t.Elem)
				a.m[k] = v
			}
			if !v.add(d, t.Elem) {
				return false
			}
		}
		return d.GetEnd(codec.KindMapEnd)
	}
	return false
}

func (a *accum) encode(e *codec.Encoder, t *types.Type) {
	switch t.Kind {
	case types.Int:
		e.PutInt(a.i)
	case types.UInt:
		e.PutUInt(a.u)
	case types.Time:
		e.PutTime(a.u)
	case types.Float:
		e.PutFloat(a.f)
	case types.Tuple:
		e.Start(codec.KindTupleStart)
		for i, f := range t.Fields {
			a.fields[i].encode(e, f.Type)
		}
		e.End(codec.KindTupleEnd)
	case types.Map:
		ks := make([]string, 0, len(a.m))
		for k := range a.m {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		e.StartMap(len(ks))
		for _, k := range ks {
			e.PutString(k)
			a.m[k].encode(e, t.Elem)
		}
		e.End(codec.KindMapEnd)
	}
}

func (a *accum) size() int {
	n := 32
	for _, f := range a.fields {
		n += f.size()
	}
	for k, v := range a.m {
		n += len(k) + v.size()
	}
	return n
}

// ---------------------------------------------------------------------------
// sum: element-wise total
// ---------------------------------------------------------------------------

type sumEntry struct {
	w   *Writer
	tot int64
	acc *accum
}

// valid reports whether elem decodes fully as the element type.
func (e *sumEntry) valid(elem []byte) bool {
	d := codec.NewDecoder(elem)
	return newAccum(e.w.spec.Elem).add(d, e.w.spec.Elem) && d.Done()
}

func (e *sumEntry) AddElem(elem []byte) {
	e.tot++
	e.addValue(elem)
}

func (e *sumEntry) addValue(elem []byte) bool {
	t := e.w.spec.Elem
	if !e.valid(elem) {
		log.Warningf("table %s: malformed element dropped", e.w.name)
		return false
	}
	if e.acc == nil {
		e.acc = newAccum(t)
	}
	e.acc.add(codec.NewDecoder(elem), t)
	return true
}

func (e *sumEntry) AddWeightedElem(elem, _ []byte) { e.AddElem(elem) }

func (e *sumEntry) value() []byte {
	enc := codec.NewEncoder()
	e.acc.encode(enc, e.w.spec.Elem)
	return enc.Data()
}

func (e *sumEntry) Flush() []byte {
	enc := codec.NewEncoder()
	if e.acc == nil {
		putHeader(enc, e.tot, 0)
	} else {
		putHeader(enc, e.tot, 1)
		enc.PutBytes(e.value())
	}
	e.Clear()
	return enc.Data()
}

func (e *sumEntry) FlushForDisplay() []string {
	if e.acc == nil {
		return nil
	}
	return []string{e.w.formatElem(e.value())}
}

func (e *sumEntry) Merge(payload []byte) MergeStatus {
	if len(payload) == 0 {
		return MergeOk
	}
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok || n < 0 || n > 1 {
		return MergeError
	}
	recs, ok := readElems(e.w, d, n)
	if !ok || !d.Done() {
		return MergeError
	}
	if n == 1 && !e.valid(recs[0].Elem) {
		return MergeError
	}
	e.tot += tot
	if n == 1 {
		e.addValue(recs[0].Elem)
	}
	return MergeOk
}

func (e *sumEntry) TotElems() int64 { return e.tot }

func (e *sumEntry) TupleCount() int {
	if e.acc == nil {
		return 0
	}
	return 1
}

func (e *sumEntry) Memory() int {
	if e.acc == nil {
		return entryOverhead
	}
	return entryOverhead + e.acc.size()
}

func (e *sumEntry) Clear() {
	e.tot = 0
	e.acc = nil
}
