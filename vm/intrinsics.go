package vm

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Intrinsic registry
// ---------------------------------------------------------------------------

// NoRegex marks a CALLC without a precompiled regular expression.
const NoRegex = 0xFFFF

// Intrinsic is a built-in function called through CALLC. Fn receives the
// arguments without owning them; the auxiliary operand is either a regex
// index or a type index, depending on the intrinsic. A non-empty message
// signals failure.
type Intrinsic struct {
	Name    string
	CanFail bool
	Void    bool
	Fn      func(p *Proc, args []Value, aux int) (Value, string)
}

var intrinsicTable = []Intrinsic{
	{Name: "fingerprintof", Fn: fingerprintOf},
	{Name: "lowercase", Fn: lowercase},
	{Name: "uppercase", Fn: uppercase},
	{Name: "strfind", Fn: strfind},
	{Name: "strrfind", Fn: strrfind},
	{Name: "strreplace", Fn: strreplace},
	{Name: "abs", Fn: absInt, CanFail: true},
	{Name: "fabs", Fn: absFloat},
	{Name: "match", Fn: match, CanFail: true},
	{Name: "matchposns", Fn: matchposns, CanFail: true},
	{Name: "matchstrs", Fn: matchstrs, CanFail: true},
	{Name: "getadditionalinput", Fn: getAdditionalInput, CanFail: true},
	{Name: "lockadditionalinput", Fn: lockAdditionalInput, Void: true},
	{Name: "haskey", Fn: haskey},
	{Name: "keys", Fn: keys},
	{Name: "splitstring", Fn: splitString},
	{Name: "trim", Fn: trim},
}

// LookupIntrinsic returns the index of the named intrinsic.
func LookupIntrinsic(name string) (int, *Intrinsic, bool) {
	for i := range intrinsicTable {
		if intrinsicTable[i].Name == name {
			return i, &intrinsicTable[i], true
		}
	}
	return 0, nil, false
}

var (
	intArrayType    = types.ArrayOf(types.IntType)
	stringArrayType = types.ArrayOf(types.StringType)
)

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func fingerprintOf(p *Proc, args []Value, aux int) (Value, string) {
	t := p.prog.Types[aux]
	return p.heap.NewFingerprint(Fingerprint(p.heap.EncodeToBytes(args[0], t))), ""
}

func lowercase(p *Proc, args []Value, _ int) (Value, string) {
	return p.heap.NewString(strings.ToLower(p.heap.String(args[0]))), ""
}

func uppercase(p *Proc, args []Value, _ int) (Value, string) {
	return p.heap.NewString(strings.ToUpper(p.heap.String(args[0]))), ""
}

// runeIndex converts a byte offset into s to a rune index; -1 stays -1.
func runeIndex(s string, b int) int64 {
	if b < 0 {
		return -1
	}
	return int64(utf8.RuneCountInString(s[:b]))
}

// strfind(pattern, s) returns the rune index of the first occurrence.
func strfind(p *Proc, args []Value, _ int) (Value, string) {
	pat, s := p.heap.String(args[0]), p.heap.String(args[1])
	return small(runeIndex(s, strings.Index(s, pat))), ""
}

func strrfind(p *Proc, args []Value, _ int) (Value, string) {
	pat, s := p.heap.String(args[0]), p.heap.String(args[1])
	return small(runeIndex(s, strings.LastIndex(s, pat))), ""
}

// strreplace(s, old, new, all)
func strreplace(p *Proc, args []Value, _ int) (Value, string) {
	h := p.heap
	n := 1
	if args[3] == True {
		n = -1
	}
	return h.NewString(strings.Replace(h.String(args[0]), h.String(args[1]), h.String(args[2]), n)), ""
}

// splitstring(s, sep) returns the fields of s separated by sep.
func splitString(p *Proc, args []Value, _ int) (Value, string) {
	h := p.heap
	parts := strings.Split(h.String(args[0]), h.String(args[1]))
	elems := make([]Value, len(parts))
	for i, s := range parts {
		elems[i] = h.NewString(s)
	}
	return h.NewArray(stringArrayType, elems), ""
}

func trim(p *Proc, args []Value, _ int) (Value, string) {
	return p.heap.NewString(strings.TrimSpace(p.heap.String(args[0]))), ""
}

// ---------------------------------------------------------------------------
// Numbers
// ---------------------------------------------------------------------------

func absInt(p *Proc, args []Value, _ int) (Value, string) {
	x := p.heap.Int(args[0])
	if x == math.MinInt64 {
		return Undef, "overflow"
	}
	if x < 0 {
		x = -x
	}
	return p.heap.NewInt(x), ""
}

func absFloat(p *Proc, args []Value, _ int) (Value, string) {
	return p.heap.NewFloat(math.Abs(p.heap.Float(args[0]))), ""
}

// ---------------------------------------------------------------------------
// Regular expressions
// ---------------------------------------------------------------------------

// regex returns the precompiled expression for aux, or compiles the
// pattern argument when the pattern was not a constant.
func (p *Proc) regex(pattern Value, aux int) (*regexp.Regexp, string) {
	if aux != NoRegex {
		return p.prog.Regexes[aux], ""
	}
	re, err := regexp.Compile(p.heap.String(pattern))
	if err != nil {
		return nil, err.Error()
	}
	return re, ""
}

func match(p *Proc, args []Value, aux int) (Value, string) {
	re, msg := p.regex(args[0], aux)
	if re == nil {
		return Undef, msg
	}
	return NewBool(re.Match(p.heap.Bytes(args[1]))), ""
}

// matchposns returns rune offsets [beg0, end0, beg1, end1, ...] of the
// match and its groups; unmatched groups give -1.
func matchposns(p *Proc, args []Value, aux int) (Value, string) {
	re, msg := p.regex(args[0], aux)
	if re == nil {
		return Undef, msg
	}
	s := p.heap.String(args[1])
	locs := re.FindStringSubmatchIndex(s)
	elems := make([]Value, len(locs))
	for i, b := range locs {
		elems[i] = small(runeIndex(s, b))
	}
	return p.heap.NewArray(intArrayType, elems), ""
}

// matchstrs returns the match and its groups; unmatched groups are empty.
func matchstrs(p *Proc, args []Value, aux int) (Value, string) {
	re, msg := p.regex(args[0], aux)
	if re == nil {
		return Undef, msg
	}
	h := p.heap
	subs := re.FindStringSubmatch(h.String(args[1]))
	elems := make([]Value, len(subs))
	for i, s := range subs {
		elems[i] = h.NewString(s)
	}
	return h.NewArray(stringArrayType, elems), ""
}

// ---------------------------------------------------------------------------
// Additional inputs
// ---------------------------------------------------------------------------

func getAdditionalInput(p *Proc, args []Value, _ int) (Value, string) {
	name := p.heap.String(args[0])
	data, ok := p.inputs[name]
	if !ok {
		return Undef, "no additional input named " + name
	}
	return p.heap.NewBytes(data), ""
}

func lockAdditionalInput(p *Proc, _ []Value, _ int) (Value, string) {
	p.inputsLocked = true
	return Undef, ""
}

// ---------------------------------------------------------------------------
// Maps
// ---------------------------------------------------------------------------

func haskey(p *Proc, args []Value, _ int) (Value, string) {
	_, ok := p.heap.MapLookup(args[0], args[1])
	return NewBool(ok), ""
}

// keys returns the keys of a map in insertion order; aux is the array type.
func keys(p *Proc, args []Value, aux int) (Value, string) {
	h := p.heap
	n := h.Len(args[0])
	elems := make([]Value, n)
	for i := 0; i < n; i++ {
		k := h.MapKey(args[0], i)
		h.IncRef(k)
		elems[i] = k
	}
	return h.NewArray(p.prog.Types[aux], elems), ""
}
