// Package wire implements the primitive encodings used on the RabbitMQ
// Stream wire protocol: big-endian integers, length-prefixed strings and
// byte arrays, and count-prefixed maps and arrays.
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrNotEnoughData is returned by Reader methods when the source buffer
// is shorter than the value being decoded requires.
var ErrNotEnoughData = errors.New("wire: not enough data to decode value")

// AppendUint8 appends a single byte.
func AppendUint8(dst []byte, v uint8) []byte {
	return append(dst, v)
}

// AppendUint16 appends a big-endian uint16.
func AppendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

// AppendInt16 appends a big-endian int16.
func AppendInt16(dst []byte, v int16) []byte {
	return AppendUint16(dst, uint16(v))
}

// AppendUint32 appends a big-endian uint32.
func AppendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendInt32 appends a big-endian int32.
func AppendInt32(dst []byte, v int32) []byte {
	return AppendUint32(dst, uint32(v))
}

// AppendUint64 appends a big-endian uint64.
func AppendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// AppendInt64 appends a big-endian int64.
func AppendInt64(dst []byte, v int64) []byte {
	return AppendUint64(dst, uint64(v))
}

// AppendString appends a string as a signed 16-bit length prefix followed
// by the UTF-8 bytes. A nil-ness distinction is not made here: use
// AppendNullString for fields where -1 (null) must be encodable.
func AppendString(dst []byte, s string) []byte {
	dst = AppendInt16(dst, int16(len(s)))
	return append(dst, s...)
}

// AppendNullString appends s, or the -1 "null" marker when null is true.
func AppendNullString(dst []byte, s string, null bool) []byte {
	if null {
		return AppendInt16(dst, -1)
	}
	return AppendString(dst, s)
}

// AppendBytes appends a byte slice as a 32-bit length prefix followed by
// the raw bytes.
func AppendBytes(dst []byte, b []byte) []byte {
	dst = AppendInt32(dst, int32(len(b)))
	return append(dst, b...)
}

// AppendStringMap appends a string->string map as a 32-bit entry count
// followed by key/value string pairs.
func AppendStringMap(dst []byte, m map[string]string) []byte {
	dst = AppendInt32(dst, int32(len(m)))
	for k, v := range m {
		dst = AppendString(dst, k)
		dst = AppendString(dst, v)
	}
	return dst
}

// AppendStringArray appends a 32-bit count followed by each string.
func AppendStringArray(dst []byte, ss []string) []byte {
	dst = AppendInt32(dst, int32(len(ss)))
	for _, s := range ss {
		dst = AppendString(dst, s)
	}
	return dst
}

// Reader decodes primitives from Src, tracking the first error
// encountered so callers can chain decode calls and check once at the
// end with Complete.
type Reader struct {
	Src []byte
	err error
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.Src) < n {
		r.err = ErrNotEnoughData
		return nil
	}
	b := r.Src[:n]
	r.Src = r.Src[n:]
	return b
}

// Uint8 decodes a single byte.
func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 decodes a big-endian uint16.
func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// Int16 decodes a big-endian int16.
func (r *Reader) Int16() int16 { return int16(r.Uint16()) }

// Uint32 decodes a big-endian uint32.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int32 decodes a big-endian int32.
func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

// Uint64 decodes a big-endian uint64.
func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Int64 decodes a big-endian int64.
func (r *Reader) Int64() int64 { return int64(r.Uint64()) }

// String decodes a signed 16-bit length-prefixed string. A length of -1
// decodes to the empty string; callers that must distinguish null from
// empty should use NullString.
func (r *Reader) String() string {
	s, _ := r.NullString()
	return s
}

// NullString decodes a signed 16-bit length-prefixed string, reporting
// whether the -1 null marker was present.
func (r *Reader) NullString() (string, bool) {
	n := r.Int16()
	if r.err != nil {
		return "", false
	}
	if n < 0 {
		return "", true
	}
	b := r.take(int(n))
	if b == nil {
		return "", false
	}
	return string(b), false
}

// Bytes decodes a 32-bit length-prefixed byte array. The returned slice
// is a copy and does not alias Src.
func (r *Reader) Bytes() []byte {
	n := r.Int32()
	if r.err != nil || n < 0 {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// StringMap decodes a 32-bit count-prefixed string->string map.
func (r *Reader) StringMap() map[string]string {
	n := r.Int32()
	if r.err != nil || n < 0 {
		return nil
	}
	m := make(map[string]string, n)
	for i := int32(0); i < n; i++ {
		k := r.String()
		v := r.String()
		if r.err != nil {
			return m
		}
		m[k] = v
	}
	return m
}

// StringArray decodes a 32-bit count-prefixed string array.
func (r *Reader) StringArray() []string {
	n := r.Int32()
	if r.err != nil || n < 0 {
		return nil
	}
	ss := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		ss = append(ss, r.String())
		if r.err != nil {
			return ss
		}
	}
	return ss
}

// Err returns the first decode error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Complete returns the first decode error encountered, or an error if
// unconsumed trailing bytes remain in Src.
func (r *Reader) Complete() error {
	if r.err != nil {
		return r.err
	}
	if len(r.Src) != 0 {
		return errors.New("wire: unexpected trailing bytes after decode")
	}
	return nil
}
