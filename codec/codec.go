// Package codec implements the order-preserving binary encoding used for
// map keys, table indices, emitted elements and flushed table states.
//
// Every value starts with a one-byte tag. Integers, unsigned integers,
// fingerprints and times use one tag per payload length so that the
// byte-wise order of two encodings of the same kind matches their numeric
// order. Composite values are bracketed by START/END tags whose END tags
// sort below every value tag, so a prefix sorts before its extensions.
package codec

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// Kind classifies the next value in an encoding.
type Kind byte

const (
	KindInvalid Kind = iota
	KindArrayEnd
	KindTupleEnd
	KindMapEnd
	KindArrayStart
	KindTupleStart
	KindMapStart
	KindBool
	KindInt
	KindUInt
	KindFingerprint
	KindTime
	KindFloat
	KindString
	KindBytes
)

var kindNames = [...]string{
	KindInvalid:     "invalid",
	KindArrayEnd:    "array-end",
	KindTupleEnd:    "tuple-end",
	KindMapEnd:      "map-end",
	KindArrayStart:  "array-start",
	KindTupleStart:  "tuple-start",
	KindMapStart:    "map-start",
	KindBool:        "bool",
	KindInt:         "int",
	KindUInt:        "uint",
	KindFingerprint: "fingerprint",
	KindTime:        "time",
	KindFloat:       "float",
	KindString:      "string",
	KindBytes:       "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Wire tags.
const (
	tagArrayEnd   = 0x02
	tagTupleEnd   = 0x03
	tagMapEnd     = 0x04
	tagArrayStart = 0x08
	tagTupleStart = 0x09
	tagMapStart   = 0x0A
	tagFalse      = 0x10
	tagTrue       = 0x11
	tagIntZero    = 0x28 // negative n-byte ints use tagIntZero-n, positive use tagIntZero+n
	tagUIntBase   = 0x31 // base+n for an n-byte payload, n in 0..8
	tagFprBase    = 0x3A
	tagTimeBase   = 0x43
	tagFloat      = 0x50
	tagString     = 0x60
	tagBytes      = 0x61
)

// String and bytes payloads escape 0x00 as 0x00 0xFF and end with 0x00 0x01.
const (
	escByte  = 0x00
	escData  = 0xFF
	escFinal = 0x01
)

func tagKind(tag byte) Kind {
	switch {
	case tag == tagArrayEnd:
		return KindArrayEnd
	case tag == tagTupleEnd:
		return KindTupleEnd
	case tag == tagMapEnd:
		return KindMapEnd
	case tag == tagArrayStart:
		return KindArrayStart
	case tag == tagTupleStart:
		return KindTupleStart
	case tag == tagMapStart:
		return KindMapStart
	case tag == tagFalse || tag == tagTrue:
		return KindBool
	case tag >= tagIntZero-8 && tag <= tagIntZero+8:
		return KindInt
	case tag >= tagUIntBase && tag <= tagUIntBase+8:
		return KindUInt
	case tag >= tagFprBase && tag <= tagFprBase+8:
		return KindFingerprint
	case tag >= tagTimeBase && tag <= tagTimeBase+8:
		return KindTime
	case tag == tagFloat:
		return KindFloat
	case tag == tagString:
		return KindString
	case tag == tagBytes:
		return KindBytes
	}
	return KindInvalid
}

// KeyFromDouble maps a float64 to a uint64 whose unsigned order matches
// the float order.
func KeyFromDouble(f float64) uint64 {
	b := math.Float64bits(f)
	if b&(1<<63) != 0 {
		return ^b
	}
	return b | 1<<63
}

// DoubleFromKey inverts KeyFromDouble.
func DoubleFromKey(k uint64) float64 {
	if k&(1<<63) != 0 {
		return math.Float64frombits(k &^ (1 << 63))
	}
	return math.Float64frombits(^k)
}

// byteLen returns the number of bytes needed to hold u.
func byteLen(u uint64) int {
	return (bits.Len64(u) + 7) / 8
}

// ---------------------------------------------------------------------------
// Encoder
// ---------------------------------------------------------------------------

// Encoder appends encoded values to a growing buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 32)}
}

// Reset discards the encoded data, keeping the buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
}

// Data returns the encoded bytes. The slice aliases the encoder buffer.
func (e *Encoder) Data() []byte {
	return e.buf
}

// Bytes returns a copy of the encoded bytes.
func (e *Encoder) Bytes() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) putN(tag byte, u uint64, n int) {
	e.buf = append(e.buf, tag)
	for i := n - 1; i >= 0; i-- {
		e.buf = append(e.buf, byte(u>>(8*uint(i))))
	}
}

// PutBool encodes a bool.
func (e *Encoder) PutBool(b bool) {
	if b {
		e.buf = append(e.buf, tagTrue)
	} else {
		e.buf = append(e.buf, tagFalse)
	}
}

// PutInt encodes a signed integer.
func (e *Encoder) PutInt(x int64) {
	switch {
	case x == 0:
		e.buf = append(e.buf, tagIntZero)
	case x > 0:
		n := byteLen(uint64(x))
		e.putN(byte(tagIntZero+n), uint64(x), n)
	default:
		n := byteLen(uint64(^x))
		if n == 0 {
			n = 1
		}
		e.putN(byte(tagIntZero-n), uint64(x), n)
	}
}

// PutUInt encodes an unsigned integer.
func (e *Encoder) PutUInt(u uint64) {
	n := byteLen(u)
	e.putN(byte(tagUIntBase+n), u, n)
}

// PutFingerprint encodes a fingerprint.
func (e *Encoder) PutFingerprint(u uint64) {
	n := byteLen(u)
	e.putN(byte(tagFprBase+n), u, n)
}

// PutTime encodes a time in microseconds.
func (e *Encoder) PutTime(u uint64) {
	n := byteLen(u)
	e.putN(byte(tagTimeBase+n), u, n)
}

// PutFloat encodes a float64.
func (e *Encoder) PutFloat(f float64) {
	e.putN(tagFloat, KeyFromDouble(f), 8)
}

func (e *Encoder) putEscaped(tag byte, data []byte) {
	e.buf = append(e.buf, tag)
	for _, c := range data {
		if c == escByte {
			e.buf = append(e.buf, escByte, escData)
		} else {
			e.buf = append(e.buf, c)
		}
	}
	e.buf = append(e.buf, escByte, escFinal)
}

// PutString encodes a string.
func (e *Encoder) PutString(s string) {
	e.putEscaped(tagString, []byte(s))
}

// PutBytes encodes a byte string.
func (e *Encoder) PutBytes(b []byte) {
	e.putEscaped(tagBytes, b)
}

// Start opens an array or tuple.
func (e *Encoder) Start(k Kind) {
	switch k {
	case KindArrayStart:
		e.buf = append(e.buf, tagArrayStart)
	case KindTupleStart:
		e.buf = append(e.buf, tagTupleStart)
	default:
		panic("codec: Start of " + k.String())
	}
}

// End closes an array, tuple or map.
func (e *Encoder) End(k Kind) {
	switch k {
	case KindArrayEnd:
		e.buf = append(e.buf, tagArrayEnd)
	case KindTupleEnd:
		e.buf = append(e.buf, tagTupleEnd)
	case KindMapEnd:
		e.buf = append(e.buf, tagMapEnd)
	default:
		panic("codec: End of " + k.String())
	}
}

// StartMap opens a map of n key/value pairs.
func (e *Encoder) StartMap(n int) {
	e.buf = append(e.buf, tagMapStart)
	e.PutUInt(uint64(n))
}

// PutRaw appends bytes that are already encoded.
func (e *Encoder) PutRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

// ---------------------------------------------------------------------------
// Decoder
// ---------------------------------------------------------------------------

// Decoder reads values from an encoding. Get methods leave the position
// unchanged when they fail.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a decoder positioned at the start of b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Done reports whether all input has been consumed.
func (d *Decoder) Done() bool {
	return d.pos >= len(d.buf)
}

// Pos returns the read offset.
func (d *Decoder) Pos() int {
	return d.pos
}

// Rest returns the unread input.
func (d *Decoder) Rest() []byte {
	return d.buf[d.pos:]
}

// Peek returns the kind of the next value without consuming it.
func (d *Decoder) Peek() Kind {
	if d.pos >= len(d.buf) {
		return KindInvalid
	}
	return tagKind(d.buf[d.pos])
}

func (d *Decoder) getN(base byte, max int) (uint64, int, bool) {
	if d.pos >= len(d.buf) {
		return 0, 0, false
	}
	n := int(d.buf[d.pos]) - int(base)
	if n < 0 || n > max || d.pos+1+n > len(d.buf) {
		return 0, 0, false
	}
	var u uint64
	for _, c := range d.buf[d.pos+1 : d.pos+1+n] {
		u = u<<8 | uint64(c)
	}
	return u, n, true
}

// GetBool decodes a bool.
func (d *Decoder) GetBool() (bool, bool) {
	if d.Peek() != KindBool {
		return false, false
	}
	b := d.buf[d.pos] == tagTrue
	d.pos++
	return b, true
}

// GetInt decodes a signed integer.
func (d *Decoder) GetInt() (int64, bool) {
	if d.Peek() != KindInt {
		return 0, false
	}
	tag := int(d.buf[d.pos])
	n := tag - tagIntZero
	neg := n < 0
	if neg {
		n = -n
	}
	if d.pos+1+n > len(d.buf) {
		return 0, false
	}
	var u uint64
	for _, c := range d.buf[d.pos+1 : d.pos+1+n] {
		u = u<<8 | uint64(c)
	}
	if neg && n < 8 {
		u |= ^uint64(0) << (8 * uint(n))
	}
	d.pos += 1 + n
	return int64(u), true
}

// GetUInt decodes an unsigned integer.
func (d *Decoder) GetUInt() (uint64, bool) {
	if d.Peek() != KindUInt {
		return 0, false
	}
	u, n, ok := d.getN(tagUIntBase, 8)
	if !ok {
		return 0, false
	}
	d.pos += 1 + n
	return u, true
}

// GetFingerprint decodes a fingerprint.
func (d *Decoder) GetFingerprint() (uint64, bool) {
	if d.Peek() != KindFingerprint {
		return 0, false
	}
	u, n, ok := d.getN(tagFprBase, 8)
	if !ok {
		return 0, false
	}
	d.pos += 1 + n
	return u, true
}

// GetTime decodes a time in microseconds.
func (d *Decoder) GetTime() (uint64, bool) {
	if d.Peek() != KindTime {
		return 0, false
	}
	u, n, ok := d.getN(tagTimeBase, 8)
	if !ok {
		return 0, false
	}
	d.pos += 1 + n
	return u, true
}

// GetFloat decodes a float64.
func (d *Decoder) GetFloat() (float64, bool) {
	if d.Peek() != KindFloat || d.pos+9 > len(d.buf) {
		return 0, false
	}
	k := binary.BigEndian.Uint64(d.buf[d.pos+1:])
	d.pos += 9
	return DoubleFromKey(k), true
}

// escapedEnd returns the offset just past the terminator of an escaped
// payload starting at from, and the unescaped length.
func (d *Decoder) escapedEnd(from int) (int, int, bool) {
	n := 0
	for i := from; i < len(d.buf); i++ {
		if d.buf[i] != escByte {
			n++
			continue
		}
		if i+1 >= len(d.buf) {
			return 0, 0, false
		}
		switch d.buf[i+1] {
		case escFinal:
			return i + 2, n, true
		case escData:
			n++
			i++
		default:
			return 0, 0, false
		}
	}
	return 0, 0, false
}

func (d *Decoder) getEscaped(tag byte) ([]byte, bool) {
	if d.pos >= len(d.buf) || d.buf[d.pos] != tag {
		return nil, false
	}
	end, n, ok := d.escapedEnd(d.pos + 1)
	if !ok {
		return nil, false
	}
	out := make([]byte, 0, n)
	for i := d.pos + 1; i < end-2; i++ {
		out = append(out, d.buf[i])
		if d.buf[i] == escByte {
			i++
		}
	}
	d.pos = end
	return out, true
}

// GetString decodes a string.
func (d *Decoder) GetString() (string, bool) {
	b, ok := d.getEscaped(tagString)
	return string(b), ok
}

// GetBytes decodes a byte string.
func (d *Decoder) GetBytes() ([]byte, bool) {
	return d.getEscaped(tagBytes)
}

// GetStart consumes an array or tuple START tag.
func (d *Decoder) GetStart(k Kind) bool {
	if (k != KindArrayStart && k != KindTupleStart) || d.Peek() != k {
		return false
	}
	d.pos++
	return true
}

// GetEnd consumes an END tag.
func (d *Decoder) GetEnd(k Kind) bool {
	if (k != KindArrayEnd && k != KindTupleEnd && k != KindMapEnd) || d.Peek() != k {
		return false
	}
	d.pos++
	return true
}

// GetMapStart consumes a map START tag and its element count.
func (d *Decoder) GetMapStart() (int, bool) {
	if d.Peek() != KindMapStart {
		return 0, false
	}
	save := d.pos
	d.pos++
	n, ok := d.GetUInt()
	if !ok || n > uint64(len(d.buf)) {
		d.pos = save
		return 0, false
	}
	return int(n), true
}

// Skip advances past one value of kind k without decoding it.
func (d *Decoder) Skip(k Kind) bool {
	if d.Peek() != k {
		return false
	}
	return d.SkipValue()
}

// SkipValue advances past the next value, including nested composites.
func (d *Decoder) SkipValue() bool {
	save := d.pos
	if !d.skip() {
		d.pos = save
		return false
	}
	return true
}

func (d *Decoder) skip() bool {
	if d.pos >= len(d.buf) {
		return false
	}
	tag := d.buf[d.pos]
	switch k := tagKind(tag); k {
	case KindBool:
		d.pos++
	case KindInt:
		n := int(tag) - tagIntZero
		if n < 0 {
			n = -n
		}
		if d.pos+1+n > len(d.buf) {
			return false
		}
		d.pos += 1 + n
	case KindUInt, KindFingerprint, KindTime:
		base := byte(tagUIntBase)
		if k == KindFingerprint {
			base = tagFprBase
		} else if k == KindTime {
			base = tagTimeBase
		}
		n := int(tag - base)
		if d.pos+1+n > len(d.buf) {
			return false
		}
		d.pos += 1 + n
	case KindFloat:
		if d.pos+9 > len(d.buf) {
			return false
		}
		d.pos += 9
	case KindString, KindBytes:
		end, _, ok := d.escapedEnd(d.pos + 1)
		if !ok {
			return false
		}
		d.pos = end
	case KindArrayStart, KindTupleStart:
		endKind := KindArrayEnd
		if k == KindTupleStart {
			endKind = KindTupleEnd
		}
		d.pos++
		for d.Peek() != endKind {
			if !d.skip() {
				return false
			}
		}
		d.pos++
	case KindMapStart:
		n, ok := d.GetMapStart()
		if !ok {
			return false
		}
		for i := 0; i < 2*n; i++ {
			if !d.skip() {
				return false
			}
		}
		if !d.GetEnd(KindMapEnd) {
			return false
		}
	default:
		return false
	}
	return true
}
