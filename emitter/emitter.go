// Package emitter implements the aggregating output tables.
//
// A Writer is created per declared table and validates the declaration
// against its table kind. Each distinct index of the table gets an Entry
// that accumulates emitted elements. Entries flush their state to a byte
// payload that any peer Entry of the same Writer can merge; Results reads a
// payload back as records.
//
// Every payload starts with two codec ints: the total number of elements
// emitted (including any dropped by sampling) and the number of retained
// bodies that follow.
package emitter

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/tliron/commonlog"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

var log = commonlog.GetLogger("szl.emitter")

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrUnknownKind = errors.New("unknown table kind")
	ErrNotTable    = errors.New("not a table type")
	ErrMerge       = errors.New("malformed table state")
)

// ValidationError reports a table declaration its kind does not accept.
type ValidationError struct {
	Kind   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s table: %s", e.Kind, e.Reason)
}

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

// MergeStatus is the outcome of Entry.Merge.
type MergeStatus int

const (
	MergeOk MergeStatus = iota
	MergeError
)

func (s MergeStatus) String() string {
	if s == MergeOk {
		return "MergeOk"
	}
	return "MergeError"
}

// Entry is the state of one index of a table.
type Entry interface {
	// AddElem adds an encoded element.
	AddElem(elem []byte)
	// AddWeightedElem adds an encoded element with an encoded weight.
	AddWeightedElem(elem, weight []byte)
	// Flush serializes the state and resets the entry.
	Flush() []byte
	// FlushForDisplay renders the state as result rows without resetting.
	FlushForDisplay() []string
	// Merge folds in a flushed state. A malformed state leaves the entry
	// unchanged. Merging an empty payload is a no-op.
	Merge(payload []byte) MergeStatus
	// TotElems returns the number of elements added since the last flush.
	TotElems() int64
	// TupleCount returns the number of retained tuples.
	TupleCount() int
	// Memory returns the approximate size of the state in bytes.
	Memory() int
	// Clear drops all state.
	Clear()
}

// Record is one retained body of a flushed payload.
type Record struct {
	Elem   []byte
	Weight []byte // nil when the kind carries no weight
}

// Results reads flushed payloads of one table.
type Results interface {
	Read(payload []byte) error
	TotElems() int64
	Records() []Record
}

// ---------------------------------------------------------------------------
// Kinds
// ---------------------------------------------------------------------------

// Properties describe what a table kind accepts.
type Properties struct {
	Param      bool // takes a size parameter
	Weighted   bool // requires a weight
	Aggregates bool // flushed states merge into one result
}

// Kind is the vtable of a table kind.
type Kind struct {
	Name       string
	Properties Properties
	Validate   func(spec *types.TableSpec) string // reason, or "" if valid
	NewEntry   func(w *Writer) Entry
	ReadBody   func(w *Writer, d *codec.Decoder, n int) ([]Record, bool)
}

var kinds = map[string]*Kind{}

func register(k *Kind) {
	kinds[k.Name] = k
}

// LookupKind returns the named table kind.
func LookupKind(name string) (*Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// KindNames returns the registered kind names in order.
func KindNames() []string {
	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Options configure a Writer.
type Options struct {
	Seed               int64
	FastWeightedSample bool
}

// Writer creates the entries of one table. The random source is shared by
// all entries of the writer, so a writer and its entries must be used from
// one goroutine.
type Writer struct {
	name string
	typ  *types.Type
	spec *types.TableSpec
	kind *Kind
	opts Options
	rnd  *rand.Rand
	fmt  Formatter
}

// NewWriter validates the table type t and returns its writer.
func NewWriter(name string, t *types.Type, opts Options) (*Writer, error) {
	if t == nil || t.Kind != types.Table || t.Table == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotTable, t)
	}
	spec := t.Table
	k, ok := kinds[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, spec.Kind)
	}
	if reason := validateCommon(k, spec); reason != "" {
		return nil, &ValidationError{Kind: k.Name, Reason: reason}
	}
	if reason := k.Validate(spec); reason != "" {
		return nil, &ValidationError{Kind: k.Name, Reason: reason}
	}
	log.Debugf("table %s: %s", name, t)
	return &Writer{
		name: name,
		typ:  t,
		spec: spec,
		kind: k,
		opts: opts,
		rnd:  rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

func validateCommon(k *Kind, spec *types.TableSpec) string {
	if k.Properties.Param && (!spec.HasParam || spec.Param <= 0) {
		return "requires a positive size parameter"
	}
	if !k.Properties.Param && spec.HasParam {
		return "takes no size parameter"
	}
	if spec.Elem == nil || !encodable(spec.Elem) {
		return "element type cannot be stored"
	}
	for _, t := range spec.Indices {
		if !encodable(t) {
			return "index type " + t.String() + " cannot be stored"
		}
	}
	if spec.Weight != nil && !encodable(spec.Weight) {
		return "weight type cannot be stored"
	}
	return ""
}

// encodable reports whether values of t have a codec encoding.
func encodable(t *types.Type) bool {
	switch t.Kind {
	case types.Bool, types.Int, types.UInt, types.Float, types.Fingerprint,
		types.Time, types.String, types.Bytes:
		return true
	case types.Array:
		return encodable(t.Elem)
	case types.Map:
		return encodable(t.Key) && encodable(t.Elem)
	case types.Tuple:
		for _, f := range t.Fields {
			if !encodable(f.Type) {
				return false
			}
		}
		return true
	}
	return false
}

// Name returns the table name.
func (w *Writer) Name() string { return w.name }

// Type returns the table type.
func (w *Writer) Type() *types.Type { return w.typ }

// Kind returns the table kind.
func (w *Writer) Kind() *Kind { return w.kind }

// Param returns the size parameter of the table.
func (w *Writer) Param() int { return int(w.spec.Param) }

// NewEntry creates an empty entry.
func (w *Writer) NewEntry() Entry {
	return w.kind.NewEntry(w)
}

// NewResults returns a reader for payloads of this table.
func (w *Writer) NewResults() Results {
	return &results{w: w}
}

// formatElem renders an encoded element for display.
func (w *Writer) formatElem(elem []byte) string {
	s, err := w.fmt.Format(elem, w.spec.Elem)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return s
}

func (w *Writer) formatWeight(weight []byte) string {
	s, err := w.fmt.Format(weight, w.spec.Weight)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return s
}

// ---------------------------------------------------------------------------
// Payload framing
// ---------------------------------------------------------------------------

func putHeader(e *codec.Encoder, tot int64, n int) {
	e.PutInt(tot)
	e.PutInt(int64(n))
}

func getHeader(d *codec.Decoder) (int64, int, bool) {
	tot, ok := d.GetInt()
	if !ok || tot < 0 {
		return 0, 0, false
	}
	n, ok := d.GetInt()
	if !ok || n < -1 {
		return 0, 0, false
	}
	return tot, int(n), true
}

// results is the Results implementation shared by all kinds; the body
// layout comes from the kind.
type results struct {
	w       *Writer
	tot     int64
	records []Record
}

func (r *results) Read(payload []byte) error {
	r.tot, r.records = 0, nil
	if len(payload) == 0 {
		return nil
	}
	d := codec.NewDecoder(payload)
	tot, n, ok := getHeader(d)
	if !ok {
		return ErrMerge
	}
	recs, ok := r.w.kind.ReadBody(r.w, d, n)
	if !ok || !d.Done() {
		return ErrMerge
	}
	r.tot, r.records = tot, recs
	return nil
}

func (r *results) TotElems() int64   { return r.tot }
func (r *results) Records() []Record { return r.records }

// readElems reads n bytes bodies as unweighted records.
func readElems(_ *Writer, d *codec.Decoder, n int) ([]Record, bool) {
	if n < 0 {
		return nil, true
	}
	recs := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		b, ok := d.GetBytes()
		if !ok {
			return nil, false
		}
		recs = append(recs, Record{Elem: b})
	}
	return recs, true
}

// readPairs reads n (elem, weight) bytes pairs.
func readPairs(_ *Writer, d *codec.Decoder, n int) ([]Record, bool) {
	if n < 0 {
		return nil, false
	}
	recs := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		e, ok := d.GetBytes()
		if !ok {
			return nil, false
		}
		w, ok := d.GetBytes()
		if !ok {
			return nil, false
		}
		recs = append(recs, Record{Elem: e, Weight: w})
	}
	return recs, true
}
