// Package shard carries flushed table states between processes. A shard is
// a canonical CBOR envelope holding, per table, its type and the flushed
// payload of every index; shards of the same program merge without a
// running process.
package shard

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/syntax"
	"github.com/google/szl-sub002/types"
	"github.com/google/szl-sub002/vm"
)

var log = commonlog.GetLogger("szl.shard")

// Version is the envelope format version.
const Version = 1

var (
	ErrVersion      = errors.New("unsupported shard version")
	ErrTypeMismatch = errors.New("table type mismatch")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("shard: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Shard is the flushed output of one or more processes.
type Shard struct {
	Version int       `cbor:"1,keyasint"`
	ID      uuid.UUID `cbor:"2,keyasint"`
	Source  string    `cbor:"3,keyasint"` // program file name
	Created int64     `cbor:"4,keyasint"` // microseconds since the epoch
	Procs   []string  `cbor:"5,keyasint"` // contributing process IDs
	Tables  []Table   `cbor:"6,keyasint"`
}

// Table is the flushed state of one output table.
type Table struct {
	Name    string  `cbor:"1,keyasint"`
	Type    string  `cbor:"2,keyasint"` // szl syntax, e.g. "table sum[string] of int"
	Entries []Entry `cbor:"3,keyasint"`
}

// Entry is the flushed state of one index.
type Entry struct {
	Key     []byte `cbor:"1,keyasint"` // concatenated encoded index values
	Payload []byte `cbor:"2,keyasint"`
}

// New wraps the states flushed by process proc running source.
func New(source string, proc uuid.UUID, states []vm.TableState) *Shard {
	s := &Shard{
		Version: Version,
		ID:      uuid.New(),
		Source:  source,
		Created: time.Now().UnixMicro(),
		Procs:   []string{proc.String()},
	}
	for _, st := range states {
		t := Table{Name: st.Name, Type: st.Type.String()}
		for _, e := range st.Entries {
			t.Entries = append(t.Entries, Entry{Key: e.Key, Payload: e.Payload})
		}
		s.Tables = append(s.Tables, t)
	}
	return s
}

// Marshal serializes a Shard to canonical CBOR.
func Marshal(s *Shard) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// Unmarshal deserializes a Shard from CBOR bytes.
func Unmarshal(data []byte) (*Shard, error) {
	var s Shard
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("shard: unmarshal: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, s.Version)
	}
	return &s, nil
}

// Table returns the named table, or nil.
func (s *Shard) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// ResolveType parses the table type.
func (t *Table) ResolveType() (*types.Type, error) {
	typ, err := syntax.ParseType(t.Type)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	return typ, nil
}

// Merger accepts flushed entries; *vm.Proc and *szl.Process implement it.
type Merger interface {
	Merge(table string, key, payload []byte) error
}

// MergeInto feeds every entry of the shard to m.
func (s *Shard) MergeInto(m Merger) error {
	for _, t := range s.Tables {
		for _, e := range t.Entries {
			if err := m.Merge(t.Name, e.Key, e.Payload); err != nil {
				return fmt.Errorf("shard %s: %w", s.ID, err)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Offline merging and display
// ---------------------------------------------------------------------------

type table struct {
	name    string
	typ     string
	writer  *emitter.Writer
	entries map[string]emitter.Entry
}

func (t *table) merge(key, payload []byte) error {
	e, ok := t.entries[string(key)]
	if !ok {
		e = t.writer.NewEntry()
		t.entries[string(key)] = e
	}
	if st := e.Merge(payload); st != emitter.MergeOk {
		return fmt.Errorf("%w: table %s", emitter.ErrMerge, t.name)
	}
	return nil
}

func (t *table) keys() []string {
	ks := make([]string, 0, len(t.entries))
	for k := range t.entries {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// Combine merges shards into one. Tables are matched by name and must
// agree on type; the source of the first shard is kept.
func Combine(shards ...*Shard) (*Shard, error) {
	out := &Shard{Version: Version, ID: uuid.New(), Created: time.Now().UnixMicro()}
	var order []*table
	byName := make(map[string]*table)
	for _, s := range shards {
		if out.Source == "" {
			out.Source = s.Source
		}
		out.Procs = append(out.Procs, s.Procs...)
		for _, st := range s.Tables {
			t, ok := byName[st.Name]
			if !ok {
				typ, err := st.ResolveType()
				if err != nil {
					return nil, err
				}
				w, err := emitter.NewWriter(st.Name, typ, emitter.Options{Seed: 1})
				if err != nil {
					return nil, fmt.Errorf("table %s: %w", st.Name, err)
				}
				t = &table{name: st.Name, typ: st.Type, writer: w, entries: make(map[string]emitter.Entry)}
				byName[st.Name] = t
				order = append(order, t)
			} else if t.typ != st.Type {
				return nil, fmt.Errorf("%w: %s is %q in one shard and %q in another", ErrTypeMismatch, st.Name, t.typ, st.Type)
			}
			for _, e := range st.Entries {
				if err := t.merge(e.Key, e.Payload); err != nil {
					log.Warningf("shard %s: %s", s.ID, err)
					return nil, err
				}
			}
		}
	}
	for _, t := range order {
		ot := Table{Name: t.name, Type: t.typ}
		for _, k := range t.keys() {
			ot.Entries = append(ot.Entries, Entry{Key: []byte(k), Payload: t.entries[k].Flush()})
		}
		out.Tables = append(out.Tables, ot)
	}
	log.Debugf("combined %d shards into %s", len(shards), out.ID)
	return out, nil
}

// Display renders the table as "name[index] = value" lines, in index
// order.
func (t *Table) Display(loc *time.Location) ([]string, error) {
	typ, err := t.ResolveType()
	if err != nil {
		return nil, err
	}
	w, err := emitter.NewWriter(t.Name, typ, emitter.Options{Seed: 1})
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	entries := append([]Entry(nil), t.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key, entries[j].Key) < 0
	})
	f := emitter.Formatter{Location: loc}
	var lines []string
	for i := 0; i < len(entries); {
		key := entries[i].Key
		e := w.NewEntry()
		for ; i < len(entries) && bytes.Equal(entries[i].Key, key); i++ {
			if st := e.Merge(entries[i].Payload); st != emitter.MergeOk {
				return nil, fmt.Errorf("%w: table %s", emitter.ErrMerge, t.Name)
			}
		}
		idx, err := f.FormatKey(key, typ.Table.Indices)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		for _, row := range e.FlushForDisplay() {
			lines = append(lines, t.Name+idx+" = "+row)
		}
	}
	return lines, nil
}

// Display renders every table of the shard.
func (s *Shard) Display(loc *time.Location) ([]string, error) {
	var lines []string
	for i := range s.Tables {
		tl, err := s.Tables[i].Display(loc)
		if err != nil {
			return nil, err
		}
		lines = append(lines, tl...)
	}
	return lines, nil
}
