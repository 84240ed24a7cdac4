package emitter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/szl-sub002/codec"
	"github.com/google/szl-sub002/types"
)

// TimeLayout is the layout used to print time values.
const TimeLayout = "Mon Jan _2 15:04:05 MST 2006"

// FormatTime renders a time value (microseconds since the epoch).
func FormatTime(usec uint64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMicro(int64(usec)).In(loc).Format(TimeLayout)
}

// FormatFloat renders a float so that it reads back as a float.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Formatter renders encoded values in display notation. Strings and bytes
// print raw at the top level and quoted when nested; arrays and tuples
// print as {a, b} and maps as {k: v}.
type Formatter struct {
	Location *time.Location
}

// Format renders one encoded value of type t.
func (f Formatter) Format(data []byte, t *types.Type) (string, error) {
	d := codec.NewDecoder(data)
	var sb strings.Builder
	if err := f.write(&sb, d, t, true); err != nil {
		return "", err
	}
	if !d.Done() {
		return "", fmt.Errorf("%w: %d trailing bytes", ErrMerge, len(d.Rest()))
	}
	return sb.String(), nil
}

// FormatKey renders the concatenated index values of a table key as
// "[a][b]", or "[]" for an unindexed table.
func (f Formatter) FormatKey(key []byte, indices []*types.Type) (string, error) {
	if len(indices) == 0 {
		return "[]", nil
	}
	d := codec.NewDecoder(key)
	var sb strings.Builder
	for _, t := range indices {
		sb.WriteByte('[')
		if err := f.write(&sb, d, t, true); err != nil {
			return "", err
		}
		sb.WriteByte(']')
	}
	if !d.Done() {
		return "", fmt.Errorf("%w: %d trailing key bytes", ErrMerge, len(d.Rest()))
	}
	return sb.String(), nil
}

func (f Formatter) write(sb *strings.Builder, d *codec.Decoder, t *types.Type, top bool) error {
	bad := func() error {
		return fmt.Errorf("%w: expected %s, found %s", ErrMerge, t, d.Peek())
	}
	switch t.Kind {
	case types.Bool:
		b, ok := d.GetBool()
		if !ok {
			return bad()
		}
		sb.WriteString(strconv.FormatBool(b))
	case types.Int:
		x, ok := d.GetInt()
		if !ok {
			return bad()
		}
		sb.WriteString(strconv.FormatInt(x, 10))
	case types.UInt:
		u, ok := d.GetUInt()
		if !ok {
			return bad()
		}
		sb.WriteString(strconv.FormatUint(u, 10))
	case types.Float:
		x, ok := d.GetFloat()
		if !ok {
			return bad()
		}
		sb.WriteString(FormatFloat(x))
	case types.Fingerprint:
		u, ok := d.GetFingerprint()
		if !ok {
			return bad()
		}
		fmt.Fprintf(sb, "0x%016x", u)
	case types.Time:
		u, ok := d.GetTime()
		if !ok {
			return bad()
		}
		if top {
			sb.WriteString(FormatTime(u, f.Location))
		} else {
			sb.WriteString(strconv.Quote(FormatTime(u, f.Location)))
		}
	case types.String:
		s, ok := d.GetString()
		if !ok {
			return bad()
		}
		if top {
			sb.WriteString(s)
		} else {
			sb.WriteString(strconv.Quote(s))
		}
	case types.Bytes:
		b, ok := d.GetBytes()
		if !ok {
			return bad()
		}
		if top {
			sb.Write(b)
		} else {
			sb.WriteString("B" + strconv.Quote(string(b)))
		}
	case types.Array, types.Tuple:
		start, end := codec.KindArrayStart, codec.KindArrayEnd
		if t.Kind == types.Tuple {
			start, end = codec.KindTupleStart, codec.KindTupleEnd
		}
		if !d.GetStart(start) {
			return bad()
		}
		sb.WriteByte('{')
		for i := 0; d.Peek() != end; i++ {
			et := t.Elem
			if t.Kind == types.Tuple {
				if i >= len(t.Fields) {
					return fmt.Errorf("%w: too many fields for %s", ErrMerge, t)
				}
				et = t.Fields[i].Type
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := f.write(sb, d, et, false); err != nil {
				return err
			}
		}
		d.GetEnd(end)
		sb.WriteByte('}')
	case types.Map:
		n, ok := d.GetMapStart()
		if !ok {
			return bad()
		}
		if n == 0 {
			sb.WriteString("{:}")
		} else {
			sb.WriteByte('{')
			for i := 0; i < n; i++ {
				if i > 0 {
					sb.WriteString(", ")
				}
				if err := f.write(sb, d, t.Key, false); err != nil {
					return err
				}
				sb.WriteString(": ")
				if err := f.write(sb, d, t.Elem, false); err != nil {
					return err
				}
			}
			sb.WriteByte('}')
		}
		if !d.GetEnd(codec.KindMapEnd) {
			return bad()
		}
	default:
		return fmt.Errorf("cannot format %s", t)
	}
	return nil
}
