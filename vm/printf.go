package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/szl-sub002/emitter"
	"github.com/google/szl-sub002/types"
)

// ---------------------------------------------------------------------------
// Formatted output
// ---------------------------------------------------------------------------

// popFormatted pops a format string and the len(ts) arguments below it and
// returns the formatted text.
func (p *Proc) popFormatted(ts []*types.Type) string {
	fv := p.pop()
	format := p.heap.String(fv)
	p.heap.DecRef(fv)
	n := len(ts)
	s := p.Sprintf(format, p.stack[p.sp-n:p.sp], ts)
	p.dropTo(p.sp - n)
	return s
}

const flagChars = "+-# 0123456789."

// Sprintf formats args, whose static types are ts, under format.
func (p *Proc) Sprintf(format string, args []Value, ts []*types.Type) string {
	var sb strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			sb.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(format) && strings.IndexByte(flagChars, format[j]) >= 0 {
			j++
		}
		if j >= len(format) {
			sb.WriteString("%!(NOVERB)")
			break
		}
		flags, verb := format[i+1:j], format[j]
		i = j
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}
		if next >= len(args) {
			fmt.Fprintf(&sb, "%%!%c(MISSING)", verb)
			continue
		}
		p.formatArg(&sb, flags, verb, args[next], ts[next])
		next++
	}
	if next < len(args) {
		sb.WriteString("%!(EXTRA)")
	}
	return sb.String()
}

func (p *Proc) formatArg(sb *strings.Builder, flags string, verb byte, v Value, t *types.Type) {
	h := p.heap
	spec := "%" + flags
	bad := func() {
		fmt.Fprintf(sb, "%%!%c(%s)", verb, t)
	}
	switch verb {
	case 'b':
		if t.Kind != types.Bool {
			bad()
			return
		}
		sb.WriteString(strconv.FormatBool(v == True))

	case 'c', 'C', 'k':
		if t.Kind != types.Int && t.Kind != types.UInt {
			bad()
			return
		}
		goVerb := "c"
		if verb == 'k' {
			goVerb = "q"
		}
		fmt.Fprintf(sb, spec+goVerb, rune(h.Int(v)))

	case 'd', 'i', 'u', 'o', 'x', 'X':
		goVerb := string(verb)
		if verb == 'i' || verb == 'u' {
			goVerb = "d"
		}
		switch t.Kind {
		case types.Int:
			fmt.Fprintf(sb, spec+goVerb, h.Int(v))
		case types.UInt:
			fmt.Fprintf(sb, spec+goVerb, h.UInt(v))
		case types.Fingerprint, types.Time:
			fmt.Fprintf(sb, spec+goVerb, h.Bits(v))
		case types.Bool:
			n := 0
			if v == True {
				n = 1
			}
			fmt.Fprintf(sb, spec+goVerb, n)
		case types.Float:
			fmt.Fprintf(sb, spec+goVerb, int64(h.Float(v)))
		case types.String, types.Bytes:
			if verb != 'x' && verb != 'X' {
				bad()
				return
			}
			fmt.Fprintf(sb, spec+goVerb, h.Bytes(v))
		default:
			bad()
		}

	case 'e', 'E', 'f', 'g', 'G':
		switch t.Kind {
		case types.Float:
			fmt.Fprintf(sb, spec+string(verb), h.Float(v))
		case types.Int:
			fmt.Fprintf(sb, spec+string(verb), float64(h.Int(v)))
		case types.UInt:
			fmt.Fprintf(sb, spec+string(verb), float64(h.UInt(v)))
		default:
			bad()
		}

	case 'p':
		if t.Kind != types.Fingerprint {
			bad()
			return
		}
		fmt.Fprintf(sb, "%016x", h.Bits(v))

	case 's', 'q':
		switch t.Kind {
		case types.String:
			fmt.Fprintf(sb, spec+string(verb), h.String(v))
		case types.Bytes:
			fmt.Fprintf(sb, spec+string(verb), h.Bytes(v))
		default:
			fmt.Fprintf(sb, spec+string(verb), p.FormatValue(v, t))
		}

	case 't':
		switch t.Kind {
		case types.Time:
			fmt.Fprintf(sb, spec+"s", FormatTime(h.Bits(v), p.opts.Location))
		case types.Int:
			fmt.Fprintf(sb, spec+"s", FormatTime(uint64(h.Int(v)), p.opts.Location))
		default:
			bad()
		}

	case 'T':
		fmt.Fprintf(sb, spec+"s", t.String())

	default:
		bad()
	}
}

// FormatValue renders v in the notation used for table display.
func (p *Proc) FormatValue(v Value, t *types.Type) string {
	if t.Kind == types.Function {
		entry, _, _ := p.heap.Closure(v)
		return fmt.Sprintf("<function@%d>", entry)
	}
	f := emitter.Formatter{Location: p.opts.Location}
	s, err := f.Format(p.heap.EncodeToBytes(v, t), t)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return s
}
