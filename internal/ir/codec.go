package ir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"fortio.org/safecast"
	"golang.org/x/text/unicode/norm"
)

// Encoder writes the canonical binary encoding.
//
// Wire rules:
//   - sum discriminants are one tag byte
//   - variable-length sequences carry a u32 little-endian length prefix
//   - fixed-size scalars are little-endian
//   - sets and maps are length-prefixed, key-sorted sequences
//   - optionals are a 0|1 byte followed (if 1) by the inner value
//
// Errors are sticky: after the first failure every write is a no-op and
// Bytes returns that failure.
type Encoder struct {
	buf []byte
	err error
}

// NewEncoder creates an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 128)}
}

// Bytes returns the encoded bytes or the first error.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

// Err returns the first error, if any.
func (e *Encoder) Err() error {
	return e.err
}

// Fail records an error; later writes are ignored.
func (e *Encoder) Fail(format string, args ...any) {
	if e.err == nil {
		e.err = &EncodeError{Message: fmt.Sprintf(format, args...)}
	}
}

// Tag writes a sum discriminant.
func (e *Encoder) Tag(t byte) {
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, t)
}

// U8 writes a single byte.
func (e *Encoder) U8(v uint8) {
	e.Tag(v)
}

// U32 writes a little-endian u32.
func (e *Encoder) U32(v uint32) {
	if e.err != nil {
		return
	}
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

// U64 writes a little-endian u64.
func (e *Encoder) U64(v uint64) {
	if e.err != nil {
		return
	}
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

// I64 writes a little-endian two's-complement i64.
func (e *Encoder) I64(v int64) {
	e.U64(uint64(v))
}

// Bool writes 0 or 1.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Tag(1)
		return
	}
	e.Tag(0)
}

// Len writes a sequence length prefix.
func (e *Encoder) Len(n int) {
	if e.err != nil {
		return
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		e.Fail("length %d does not fit a u32 prefix", n)
		return
	}
	e.U32(v)
}

// Raw appends fixed-size bytes without a prefix.
func (e *Encoder) Raw(b []byte) {
	if e.err != nil {
		return
	}
	e.buf = append(e.buf, b...)
}

// Blob writes a length-prefixed byte string.
func (e *Encoder) Blob(b []byte) {
	e.Len(len(b))
	e.Raw(b)
}

// String writes a length-prefixed UTF-8 string. Strings must already be
// NFC-normalized; anything else is rejected.
func (e *Encoder) String(s string) {
	if e.err != nil {
		return
	}
	if !utf8.ValidString(s) {
		e.Fail("string %q is not valid UTF-8", s)
		return
	}
	if !norm.NFC.IsNormalString(s) {
		e.Fail("string %q is not NFC-normalized", s)
		return
	}
	e.Blob([]byte(s))
}

// ID writes a 32-byte identifier.
func (e *Encoder) ID(id EntityID) {
	e.Raw(id[:])
}

// Option writes the optional discriminant. Callers write the inner value
// only when present is true.
func (e *Encoder) Option(present bool) {
	e.Bool(present)
}

// Ascending rejects keys that are not strictly increasing. Use it while
// writing sets and maps so an unsorted collection never gets hashed.
func (e *Encoder) Ascending(prev, cur []byte) {
	if e.err != nil || prev == nil {
		return
	}
	if bytes.Compare(prev, cur) >= 0 {
		e.Fail("collection keys out of canonical order: %x then %x", prev, cur)
	}
}

// IDs writes a length-prefixed, strictly ascending list of ids.
func (e *Encoder) IDs(ids []EntityID) {
	e.Len(len(ids))
	var prev []byte
	for _, id := range ids {
		cur := id[:]
		e.Ascending(prev, cur)
		e.ID(id)
		prev = cur
	}
}

// Decoder reads the canonical binary encoding. Errors are sticky.
type Decoder struct {
	data []byte
	pos  int
	err  error
}

// NewDecoder creates a decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Err returns the first error, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Fail records a decode error at the current offset.
func (d *Decoder) Fail(format string, args ...any) {
	if d.err == nil {
		d.err = &DecodeError{Offset: d.pos, Message: fmt.Sprintf(format, args...)}
	}
}

// Finish returns the first error, or an error when bytes remain unread.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.pos != len(d.data) {
		return &DecodeError{Offset: d.pos, Message: fmt.Sprintf("%d trailing bytes", len(d.data)-d.pos)}
	}
	return nil
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.data) {
		d.Fail("unexpected end of input: need %d bytes, have %d", n, len(d.data)-d.pos)
		return nil
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b
}

// Tag reads a sum discriminant.
func (d *Decoder) Tag() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U8 reads one byte.
func (d *Decoder) U8() uint8 {
	return d.Tag()
}

// U32 reads a little-endian u32.
func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64 reads a little-endian u64.
func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// I64 reads a little-endian i64.
func (d *Decoder) I64() int64 {
	return int64(d.U64())
}

// Bool reads a 0|1 byte; any other value is non-canonical.
func (d *Decoder) Bool() bool {
	switch d.Tag() {
	case 0:
		return false
	case 1:
		return true
	default:
		d.pos--
		d.Fail("non-canonical boolean byte")
		return false
	}
}

// Len reads a length prefix. Lengths larger than the remaining input are
// rejected before any allocation happens.
func (d *Decoder) Len() int {
	n := d.U32()
	if d.err != nil {
		return 0
	}
	v, err := safecast.Conv[int](n)
	if err != nil || v > d.Remaining() {
		d.Fail("length prefix %d exceeds remaining input", n)
		return 0
	}
	return v
}

// Raw reads n fixed bytes.
func (d *Decoder) Raw(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Blob reads a length-prefixed byte string.
func (d *Decoder) Blob() []byte {
	return d.Raw(d.Len())
}

// String reads a length-prefixed NFC UTF-8 string.
func (d *Decoder) String() string {
	b := d.Blob()
	if d.err != nil {
		return ""
	}
	s := string(b)
	if !utf8.ValidString(s) || !norm.NFC.IsNormalString(s) {
		d.Fail("string is not NFC UTF-8")
		return ""
	}
	return s
}

// ID reads a 32-byte identifier.
func (d *Decoder) ID() EntityID {
	var id EntityID
	if b := d.take(IDSize); b != nil {
		copy(id[:], b)
	}
	return id
}

// Option reads an optional discriminant.
func (d *Decoder) Option() bool {
	return d.Bool()
}

// Ascending rejects keys that are not strictly increasing.
func (d *Decoder) Ascending(prev, cur []byte) {
	if d.err != nil || prev == nil {
		return
	}
	if bytes.Compare(prev, cur) >= 0 {
		d.Fail("collection keys out of canonical order")
	}
}

// IDs reads a strictly ascending id list.
func (d *Decoder) IDs() []EntityID {
	n := d.Len()
	if n == 0 {
		return nil
	}
	out := make([]EntityID, 0, n)
	var prev []byte
	for i := 0; i < n && d.err == nil; i++ {
		id := d.ID()
		d.Ascending(prev, id[:])
		out = append(out, id)
		prev = id[:]
	}
	return out
}

// Index writes a non-negative position (a pc or a count that is not a
// sequence length) as a u32.
func (e *Encoder) Index(n int) {
	if e.err != nil {
		return
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		e.Fail("index %d does not fit a u32", n)
		return
	}
	e.U32(v)
}

// Index reads a position written by Encoder.Index.
func (d *Decoder) Index() int {
	n := d.U32()
	v, err := safecast.Conv[int](n)
	if err != nil {
		d.Fail("index %d out of range", n)
		return 0
	}
	return v
}

// StringSet writes a length-prefixed, strictly ascending string list.
func (e *Encoder) StringSet(ss []string) {
	e.Len(len(ss))
	var prev []byte
	for _, s := range ss {
		cur := []byte(s)
		e.Ascending(prev, cur)
		e.String(s)
		prev = cur
	}
}

// StringSet reads a strictly ascending string list.
func (d *Decoder) StringSet() []string {
	n := d.Len()
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	var prev []byte
	for i := 0; i < n && d.err == nil; i++ {
		s := d.String()
		d.Ascending(prev, []byte(s))
		out = append(out, s)
		prev = []byte(s)
	}
	return out
}
