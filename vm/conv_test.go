package vm

import (
	"strings"
	"testing"
	"time"

	"github.com/google/szl-sub002/types"
)

// newTestProc returns an initialized Proc for an empty program.
func newTestProc(t *testing.T) *Proc {
	t.Helper()
	prog := &Program{
		File:   "test.szl",
		Code:   []byte{byte(OpStop), byte(OpStop)},
		Funcs:  []*FuncInfo{{Name: "$main", Parent: -1, SlotNames: []string{""}}},
		MainPC: 1,
	}
	p, err := NewProc(prog, Options{StackSize: 64, Stdout: &strings.Builder{}, Stderr: &strings.Builder{}})
	if err != nil {
		t.Fatalf("NewProc: %v", err)
	}
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

// ---------------------------------------------------------------------------
// Time
// ---------------------------------------------------------------------------

func TestParseTime(t *testing.T) {
	const when = 981173106 * 1000000 // 2001-02-03 04:05:06 UTC
	tests := []struct {
		input string
		loc   *time.Location
		want  uint64
	}{
		{"Sat Feb  3 04:05:06 UTC 2001", time.UTC, when},
		{"2001-02-03T04:05:06Z", time.UTC, when},
		{"2001-02-03T04:05:06.5Z", time.UTC, when + 500000},
		{"2001-02-03 04:05:06", time.UTC, when},
		{"  2001-02-03T04:05:06  ", time.UTC, when},
		{"2001-02-03", time.UTC, when - (4*3600+5*60+6)*1000000},
		{"2001-02-03 04:05:06", time.FixedZone("X", 3600), when - 3600*1000000},
		{"1970-01-01", time.UTC, 0},
	}

	for _, tc := range tests {
		got, ok := ParseTime(tc.input, tc.loc)
		if !ok || got != tc.want {
			t.Errorf("ParseTime(%q) = %d, %v, want %d", tc.input, got, ok, tc.want)
		}
	}

	for _, bad := range []string{"", "yesterday", "2001-13-01"} {
		if _, ok := ParseTime(bad, time.UTC); ok {
			t.Errorf("ParseTime(%q) succeeded", bad)
		}
	}
}

func TestFormatTimeRoundTrip(t *testing.T) {
	if got := FormatTime(0, time.UTC); got != "Thu Jan  1 00:00:00 UTC 1970" {
		t.Errorf("FormatTime(0) = %q", got)
	}
	const when = 981173106 * 1000000
	s := FormatTime(when, time.UTC)
	if back, ok := ParseTime(s, time.UTC); !ok || back != when {
		t.Errorf("ParseTime(FormatTime(%d)) = %d, %v", uint64(when), back, ok)
	}
}

func TestFingerprint(t *testing.T) {
	a, b := Fingerprint([]byte("a")), Fingerprint([]byte("b"))
	if a == b || a != Fingerprint([]byte("a")) {
		t.Errorf("Fingerprint is not a stable hash: %x %x", a, b)
	}
	if combineFingerprints(a, b) == combineFingerprints(b, a) {
		t.Errorf("combineFingerprints is symmetric")
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func TestConvert(t *testing.T) {
	p := newTestProc(t)
	h := p.Heap()
	tests := []struct {
		from, to types.Kind
		v        Value
		want     string // rendered as a string value of kind to
	}{
		{types.Int, types.String, h.NewInt(-12), "-12"},
		{types.Int, types.Float, h.NewInt(3), "3.0"},
		{types.String, types.Int, h.NewString("0x10"), "16"},
		{types.String, types.Int, h.NewString(" -42 "), "-42"},
		{types.String, types.UInt, h.NewString("0xff"), "255"},
		{types.String, types.Float, h.NewString("1.5"), "1.5"},
		{types.String, types.Bool, h.NewString("true"), "true"},
		{types.Float, types.Int, h.NewFloat(2.9), "2"},
		{types.Float, types.String, h.NewFloat(2), "2.0"},
		{types.Bool, types.Int, True, "1"},
		{types.Bool, types.String, False, "false"},
		{types.Fingerprint, types.String, h.NewFingerprint(255), "0x00000000000000ff"},
		{types.Time, types.String, h.NewTime(0), "Thu Jan  1 00:00:00 UTC 1970"},
		{types.Bytes, types.Int, h.NewBytes([]byte{1, 0}), "256"},
		{types.Bytes, types.String, h.NewBytes([]byte("ok")), "ok"},
		{types.UInt, types.Int, h.NewUInt(7), "7"},
	}

	for _, tc := range tests {
		got, msg := p.convert(tc.from, tc.to, tc.v)
		if msg != "" {
			t.Errorf("convert %s->%s: %s", tc.from, tc.to, msg)
			continue
		}
		s := p.FormatValue(got, &types.Type{Kind: tc.to})
		if s != tc.want {
			t.Errorf("convert %s->%s = %q, want %q", tc.from, tc.to, s, tc.want)
		}
	}
}

func TestConvertErrors(t *testing.T) {
	p := newTestProc(t)
	h := p.Heap()
	tests := []struct {
		from, to types.Kind
		v        Value
		want     string
	}{
		{types.String, types.Int, h.NewString("abc"), `cannot convert "abc" to int`},
		{types.String, types.Time, h.NewString("never"), `cannot convert "never" to time`},
		{types.Float, types.Int, h.NewFloat(1e300), "out of int range"},
		{types.Float, types.UInt, h.NewFloat(-1), "out of uint range"},
		{types.Bytes, types.Int, h.NewBytes(make([]byte, 9)), "9 bytes do not fit in int"},
		{types.Bool, types.Float, True, "unsupported conversion from bool to float"},
	}

	for _, tc := range tests {
		got, msg := p.convert(tc.from, tc.to, tc.v)
		if got != Undef || !strings.Contains(msg, tc.want) {
			t.Errorf("convert %s->%s = %v, %q, want undefined with %q", tc.from, tc.to, got, msg, tc.want)
		}
	}
}

func TestConvertSameKindShares(t *testing.T) {
	p := newTestProc(t)
	h := p.Heap()
	s := h.NewString("shared")
	got, msg := p.convert(types.String, types.String, s)
	if msg != "" || got != s || h.RefCount(s) != 2 {
		t.Errorf("convert string->string = %v (refs %d), want the same value with 2 refs", got, h.RefCount(s))
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func TestSprintf(t *testing.T) {
	p := newTestProc(t)
	h := p.Heap()
	fp := types.FingerprintType
	tests := []struct {
		format string
		args   []Value
		ts     []*types.Type
		want   string
	}{
		{"n=%d", []Value{h.NewInt(42)}, []*types.Type{types.IntType}, "n=42"},
		{"%5d|%-3d|", []Value{h.NewInt(7), h.NewInt(8)}, []*types.Type{types.IntType, types.IntType}, "    7|8  |"},
		{"%x %X", []Value{h.NewInt(255), h.NewUInt(255)}, []*types.Type{types.IntType, types.UIntType}, "ff FF"},
		{"%.2f", []Value{h.NewFloat(3.14159)}, []*types.Type{types.FloatType}, "3.14"},
		{"%g", []Value{h.NewInt(2)}, []*types.Type{types.IntType}, "2"},
		{"%s and %q", []Value{h.NewString("a"), h.NewString("b")}, []*types.Type{types.StringType, types.StringType}, `a and "b"`},
		{"%s", []Value{h.NewInt(5)}, []*types.Type{types.IntType}, "5"},
		{"%s", []Value{ints(h, 1, 2)}, []*types.Type{intArray}, "{1, 2}"},
		{"%x", []Value{h.NewString("hi")}, []*types.Type{types.StringType}, "6869"},
		{"%b", []Value{True}, []*types.Type{types.BoolType}, "true"},
		{"%c", []Value{h.NewInt('A')}, []*types.Type{types.IntType}, "A"},
		{"%p", []Value{h.NewFingerprint(1)}, []*types.Type{fp}, "0000000000000001"},
		{"%t", []Value{h.NewTime(0)}, []*types.Type{types.TimeType}, "Thu Jan  1 00:00:00 UTC 1970"},
		{"%T", []Value{h.NewInt(1)}, []*types.Type{types.IntType}, "int"},
		{"100%%", nil, nil, "100%"},
		{"%b", []Value{h.NewInt(1)}, []*types.Type{types.IntType}, "%!b(int)"},
		{"%d %d", []Value{h.NewInt(1)}, []*types.Type{types.IntType}, "1 %!d(MISSING)"},
		{"x", []Value{h.NewInt(1)}, []*types.Type{types.IntType}, "x%!(EXTRA)"},
		{"end %", nil, nil, "end %!(NOVERB)"},
	}

	for _, tc := range tests {
		if got := p.Sprintf(tc.format, tc.args, tc.ts); got != tc.want {
			t.Errorf("Sprintf(%q) = %q, want %q", tc.format, got, tc.want)
		}
	}
}
