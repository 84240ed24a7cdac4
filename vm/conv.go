package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/xxh3"

	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/types"
)

// TimeLayout is the layout used to print and parse time values.
const TimeLayout = emitter.TimeLayout

// parseLayouts are tried in order when converting a string to a time.
var parseLayouts = []string{
	TimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.ANSIC,
}

func kindOf(b int) types.Kind {
	return types.Kind(b)
}

// Converter turns serialized protocol buffers into tuples and back.
type Converter interface {
	ToTuple(h *Heap, t *types.Type, data []byte) (Value, error)
	ToBytes(h *Heap, t *types.Type, v Value) ([]byte, error)
}

// Fingerprint hashes data the way fingerprintof does.
func Fingerprint(data []byte) uint64 {
	return xxh3.Hash(data)
}

func combineFingerprints(x, y uint64) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], x)
	binary.BigEndian.PutUint64(buf[8:], y)
	return xxh3.Hash(buf[:])
}

// FormatTime renders a time value (microseconds since the epoch).
func FormatTime(usec uint64, loc *time.Location) string {
	return emitter.FormatTime(usec, loc)
}

// ParseTime parses s with the accepted layouts, interpreting zone-less
// layouts in loc.
func ParseTime(s string, loc *time.Location) (uint64, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return uint64(t.UnixMicro()), true
		}
	}
	return 0, false
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	body := strings.TrimLeft(s, "+-")
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		return strconv.ParseInt(s, 0, 64)
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseUInt(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// FormatFloat renders a float so that it reads back as a float.
func FormatFloat(f float64) string {
	return emitter.FormatFloat(f)
}

// convert implements T(v) for basic kinds. It does not consume v.
func (p *Proc) convert(from, to types.Kind, v Value) (Value, string) {
	h := p.heap
	if from == to {
		h.IncRef(v)
		return v, ""
	}
	bad := func(s string) (Value, string) {
		return Undef, fmt.Sprintf("cannot convert %q to %s", s, to)
	}
	switch from {
	case types.Int:
		x := h.Int(v)
		switch to {
		case types.Float:
			return h.NewFloat(float64(x)), ""
		case types.UInt:
			return h.NewUInt(uint64(x)), ""
		case types.String:
			return h.NewString(strconv.FormatInt(x, 10)), ""
		case types.Time:
			return h.NewTime(uint64(x)), ""
		case types.Fingerprint:
			return h.NewFingerprint(uint64(x)), ""
		case types.Bool:
			return NewBool(x != 0), ""
		case types.Bytes:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, uint64(x))
			return h.newBytesOwned(b), ""
		}
	case types.UInt:
		u := h.UInt(v)
		switch to {
		case types.Int:
			return h.NewInt(int64(u)), ""
		case types.Float:
			return h.NewFloat(float64(u)), ""
		case types.String:
			return h.NewString(strconv.FormatUint(u, 10)), ""
		case types.Time:
			return h.NewTime(u), ""
		case types.Fingerprint:
			return h.NewFingerprint(u), ""
		}
	case types.Float:
		f := h.Float(v)
		switch to {
		case types.Int:
			if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return Undef, fmt.Sprintf("float %g out of int range", f)
			}
			return h.NewInt(int64(f)), ""
		case types.UInt:
			if math.IsNaN(f) || f < 0 || f >= math.MaxUint64 {
				return Undef, fmt.Sprintf("float %g out of uint range", f)
			}
			return h.NewUInt(uint64(f)), ""
		case types.String:
			return h.NewString(FormatFloat(f)), ""
		}
	case types.Bool:
		switch to {
		case types.Int:
			if v == True {
				return small(1), ""
			}
			return small(0), ""
		case types.String:
			return h.NewString(strconv.FormatBool(v == True)), ""
		}
	case types.Fingerprint, types.Time:
		u := h.Bits(v)
		switch to {
		case types.Int:
			return h.NewInt(int64(u)), ""
		case types.UInt:
			return h.NewUInt(u), ""
		case types.String:
			if from == types.Time {
				return h.NewString(FormatTime(u, p.opts.Location)), ""
			}
			return h.NewString(fmt.Sprintf("0x%016x", u)), ""
		case types.Bytes:
			b := make([]byte, 8)
			binary.BigEndian.PutUint64(b, u)
			return h.newBytesOwned(b), ""
		}
	case types.String:
		s := h.String(v)
		switch to {
		case types.Int:
			x, err := parseInt(s)
			if err != nil {
				return bad(s)
			}
			return h.NewInt(x), ""
		case types.UInt:
			u, err := parseUInt(s)
			if err != nil {
				return bad(s)
			}
			return h.NewUInt(u), ""
		case types.Float:
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return bad(s)
			}
			return h.NewFloat(f), ""
		case types.Bool:
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return bad(s)
			}
			return NewBool(b), ""
		case types.Time:
			u, ok := ParseTime(s, p.opts.Location)
			if !ok {
				return bad(s)
			}
			return h.NewTime(u), ""
		case types.Fingerprint:
			u, err := parseUInt(s)
			if err != nil {
				return bad(s)
			}
			return h.NewFingerprint(u), ""
		case types.Bytes:
			return h.NewBytes(h.Bytes(v)), ""
		}
	case types.Bytes:
		b := h.Bytes(v)
		switch to {
		case types.String:
			if utf8.Valid(b) {
				return h.NewString(string(b)), ""
			}
			return h.NewString(strings.ToValidUTF8(string(b), "�")), ""
		case types.Int, types.Fingerprint:
			if len(b) > 8 {
				return Undef, fmt.Sprintf("%d bytes do not fit in %s", len(b), to)
			}
			var u uint64
			for _, c := range b {
				u = u<<8 | uint64(c)
			}
			if to == types.Int {
				return h.NewInt(int64(u)), ""
			}
			return h.NewFingerprint(u), ""
		}
	}
	return Undef, fmt.Sprintf("unsupported conversion from %s to %s", from, to)
}
