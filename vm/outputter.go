package vm

import (
	"fmt"
	"sort"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Outputters
// ---------------------------------------------------------------------------

// Emitter receives the emits of a table in place of the built-in
// aggregator. key is the concatenated encoding of the index values, elem
// and weight are encoded values; weight is nil for unweighted tables.
type Emitter interface {
	Emit(table string, key, elem, weight []byte) error
}

// Outputter routes the emits of one declared table.
type Outputter struct {
	decl   TableDecl
	spec   *types.TableSpec
	writer *emitter.Writer
	custom Emitter

	entries map[string]emitter.Entry
	order   []string

	enc *codec.Encoder
}

func newOutputter(p *Proc, decl TableDecl, seed int64) (*Outputter, error) {
	o := &Outputter{
		decl:    decl,
		spec:    decl.Type.Table,
		entries: make(map[string]emitter.Entry),
		enc:     codec.NewEncoder(),
	}
	if decl.Fd != 0 {
		return o, nil
	}
	w, err := emitter.NewWriter(decl.Name, decl.Type, emitter.Options{
		Seed:               seed,
		FastWeightedSample: p.opts.FastWeightedSample,
	})
	if err != nil {
		return nil, err
	}
	o.writer = w
	return o, nil
}

// Name returns the table name.
func (o *Outputter) Name() string { return o.decl.Name }

// Type returns the table type.
func (o *Outputter) Type() *types.Type { return o.decl.Type }

// Writer returns the aggregator factory, or nil for stdout and stderr.
func (o *Outputter) Writer() *emitter.Writer { return o.writer }

// emit pops the indices, element and optional weight of one emit.
func (o *Outputter) emit(p *Proc) error {
	h := p.heap
	spec := o.spec
	n := len(spec.Indices)
	base := p.sp - n - 1
	if spec.Weight != nil {
		base--
	}
	defer p.dropTo(base)

	elem := p.stack[base+n]
	if o.decl.Fd != 0 {
		w := p.opts.Stdout
		if o.decl.Fd == 2 {
			w = p.opts.Stderr
		}
		_, err := fmt.Fprintln(w, p.FormatValue(elem, spec.Elem))
		return err
	}

	o.enc.Reset()
	for i, t := range spec.Indices {
		h.Encode(o.enc, p.stack[base+i], t)
	}
	key := string(o.enc.Data())
	elemBytes := h.EncodeToBytes(elem, spec.Elem)
	var weightBytes []byte
	if spec.Weight != nil {
		weightBytes = h.EncodeToBytes(p.stack[base+n+1], spec.Weight)
	}

	if o.custom != nil {
		return o.custom.Emit(o.decl.Name, []byte(key), elemBytes, weightBytes)
	}
	e := o.entry(key)
	if spec.Weight != nil {
		e.AddWeightedElem(elemBytes, weightBytes)
	} else {
		e.AddElem(elemBytes)
	}
	return nil
}

func (o *Outputter) entry(key string) emitter.Entry {
	e, ok := o.entries[key]
	if !ok {
		e = o.writer.NewEntry()
		o.entries[key] = e
		o.order = append(o.order, key)
	}
	return e
}

// keys returns the entry keys in encoded (and therefore value) order.
func (o *Outputter) keys() []string {
	ks := append([]string(nil), o.order...)
	sort.Strings(ks)
	return ks
}

// TotElems returns the number of elements emitted since the last flush.
func (o *Outputter) TotElems() int64 {
	var n int64
	for _, e := range o.entries {
		n += e.TotElems()
	}
	return n
}

// Memory returns the approximate aggregator memory in bytes.
func (o *Outputter) Memory() int {
	n := 0
	for _, e := range o.entries {
		n += e.Memory()
	}
	return n
}

// ---------------------------------------------------------------------------
// Registration, flush, merge and display
// ---------------------------------------------------------------------------

// RegisterEmitter routes the emits of the named table to e.
func (p *Proc) RegisterEmitter(name string, e Emitter) error {
	o := p.Output(name)
	if o == nil || o.decl.Fd != 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	o.custom = e
	log.Debugf("proc %s: emitter registered for %s", p.ID, name)
	return nil
}

// Outputs returns the outputters in declaration order.
func (p *Proc) Outputs() []*Outputter { return p.outputs }

// Output returns the named outputter, or nil.
func (p *Proc) Output(name string) *Outputter {
	for _, o := range p.outputs {
		if o.decl.Name == name {
			return o
		}
	}
	return nil
}

// EntryState is the flushed state of one index of a table.
type EntryState struct {
	Key     []byte
	Payload []byte
}

// TableState is the flushed state of a table.
type TableState struct {
	Name    string
	Type    *types.Type
	Entries []EntryState
}

// Flush serializes and resets every aggregated table. Tables with a
// custom emitter and the stdout/stderr tables are skipped.
func (p *Proc) Flush() []TableState {
	var states []TableState
	for _, o := range p.outputs {
		if o.writer == nil || o.custom != nil {
			continue
		}
		st := TableState{Name: o.decl.Name, Type: o.decl.Type}
		for _, k := range o.keys() {
			st.Entries = append(st.Entries, EntryState{Key: []byte(k), Payload: o.entries[k].Flush()})
		}
		o.entries = make(map[string]emitter.Entry)
		o.order = nil
		states = append(states, st)
	}
	return states
}

// Merge folds a peer's flushed entry into the named table.
func (p *Proc) Merge(table string, key, payload []byte) error {
	o := p.Output(table)
	if o == nil || o.writer == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	k := string(key)
	e, ok := o.entries[k]
	if !ok {
		e = o.writer.NewEntry()
	}
	if st := e.Merge(payload); st != emitter.MergeOk {
		return fmt.Errorf("%w: table %s", emitter.ErrMerge, table)
	}
	if !ok {
		o.entries[k] = e
		o.order = append(o.order, k)
	}
	return nil
}

// Display renders every aggregated table as "name[index] = value" lines.
func (p *Proc) Display() ([]string, error) {
	f := emitter.Formatter{Location: p.opts.Location}
	var lines []string
	for _, o := range p.outputs {
		if o.writer == nil || o.custom != nil {
			continue
		}
		for _, k := range o.keys() {
			idx, err := f.FormatKey([]byte(k), o.spec.Indices)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", o.decl.Name, err)
			}
			for _, row := range o.entries[k].FlushForDisplay() {
				lines = append(lines, o.decl.Name+idx+" = "+row)
			}
		}
	}
	return lines, nil
}
