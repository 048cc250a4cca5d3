// Package valuecodec implements the typed scalar wire format shared by
// the WAL and SSTable on-disk layouts: a type tag followed by a
// length-prefixed payload, covering the full tagged-union of scalar
// kinds the engine needs, encoded with encoding/binary in
// little-endian byte order.
package valuecodec

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"lsmdb/pkg/dberrors"
)

// Tag identifies the scalar kind stored in a Value's payload.
type Tag uint8

const (
	TagNil Tag = iota
	TagBool
	TagI8
	TagI16
	TagI32
	TagI64
	TagU8
	TagU16
	TagU32
	TagU64
	TagF32
	TagF64
	TagString
	TagBytes
)

func (t Tag) String() string {
	switch t {
	case TagNil:
		return "Nil"
	case TagBool:
		return "Bool"
	case TagI8:
		return "I8"
	case TagI16:
		return "I16"
	case TagI32:
		return "I32"
	case TagI64:
		return "I64"
	case TagU8:
		return "U8"
	case TagU16:
		return "U16"
	case TagU32:
		return "U32"
	case TagU64:
		return "U64"
	case TagF32:
		return "F32"
	case TagF64:
		return "F64"
	case TagString:
		return "String"
	case TagBytes:
		return "Bytes"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Value is a tagged scalar: a type tag plus its raw payload bytes.
// It is immutable once constructed — callers get one through a New*
// constructor or Decode, and read it back through the matching
// accessor.
type Value struct {
	tag     Tag
	payload []byte
}

// Tag reports the value's stored type.
func (v Value) Tag() Tag { return v.tag }

// Size returns the on-wire size of the value: 1 (tag) + 4 (length
// prefix) + len(payload).
func (v Value) Size() int { return 1 + 4 + len(v.payload) }

func mismatch(got, want Tag) error {
	return fmt.Errorf("%w: accessor wants %s, value is %s", dberrors.ErrTypeMismatch, want, got)
}

func shortPayload(tag Tag, want int, got int) error {
	return fmt.Errorf("%w: %s payload is %d bytes, want %d", dberrors.ErrCorruptRecord, tag, got, want)
}

// NewNil returns the Nil value: a tag with no payload. Tombstones are
// not encoded as Nil values; they are records with the deleted flag
// set and no value bytes.
func NewNil() Value { return Value{tag: TagNil} }

// IsNil reports whether v is the Nil value.
func (v Value) IsNil() bool { return v.tag == TagNil }

func NewBool(b bool) Value {
	p := byte(0)
	if b {
		p = 1
	}
	return Value{tag: TagBool, payload: []byte{p}}
}

func (v Value) Bool() (bool, error) {
	if v.tag != TagBool {
		return false, mismatch(v.tag, TagBool)
	}
	return len(v.payload) > 0 && v.payload[0] != 0, nil
}

func NewI8(i int8) Value { return Value{tag: TagI8, payload: []byte{byte(i)}} }

func (v Value) I8() (int8, error) {
	if v.tag != TagI8 {
		return 0, mismatch(v.tag, TagI8)
	}
	if len(v.payload) < 1 {
		return 0, shortPayload(TagI8, 1, len(v.payload))
	}
	return int8(v.payload[0]), nil
}

func NewI16(i int16) Value {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, uint16(i))
	return Value{tag: TagI16, payload: p}
}

func (v Value) I16() (int16, error) {
	if v.tag != TagI16 {
		return 0, mismatch(v.tag, TagI16)
	}
	if len(v.payload) < 2 {
		return 0, shortPayload(TagI16, 2, len(v.payload))
	}
	return int16(binary.LittleEndian.Uint16(v.payload)), nil
}

func NewI32(i int32) Value {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, uint32(i))
	return Value{tag: TagI32, payload: p}
}

func (v Value) I32() (int32, error) {
	if v.tag != TagI32 {
		return 0, mismatch(v.tag, TagI32)
	}
	if len(v.payload) < 4 {
		return 0, shortPayload(TagI32, 4, len(v.payload))
	}
	return int32(binary.LittleEndian.Uint32(v.payload)), nil
}

func NewI64(i int64) Value {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint64(p, uint64(i))
	return Value{tag: TagI64, payload: p}
}

func (v Value) I64() (int64, error) {
	if v.tag != TagI64 {
		return 0, mismatch(v.tag, TagI64)
	}
	if len(v.payload) < 8 {
		return 0, shortPayload(TagI64, 8, len(v.payload))
	}
	return int64(binary.LittleEndian.Uint64(v.payload)), nil
}

func NewU8(u uint8) Value { return Value{tag: TagU8, payload: []byte{u}} }

func (v Value) U8() (uint8, error) {
	if v.tag != TagU8 {
		return 0, mismatch(v.tag, TagU8)
	}
	if len(v.payload) < 1 {
		return 0, shortPayload(TagU8, 1, len(v.payload))
	}
	return v.payload[0], nil
}

func NewU16(u uint16) Value {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, u)
	return Value{tag: TagU16, payload: p}
}

func (v Value) U16() (uint16, error) {
	if v.tag != TagU16 {
		return 0, mismatch(v.tag, TagU16)
	}
	if len(v.payload) < 2 {
		return 0, shortPayload(TagU16, 2, len(v.payload))
	}
	return binary.LittleEndian.Uint16(v.payload), nil
}

func NewU32(u uint32) Value {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, u)
	return Value{tag: TagU32, payload: p}
}

func (v Value) U32() (uint32, error) {
	if v.tag != TagU32 {
		return 0, mismatch(v.tag, TagU32)
	}
	if len(v.payload) < 4 {
		return 0, shortPayload(TagU32, 4, len(v.payload))
	}
	return binary.LittleEndian.Uint32(v.payload), nil
}

func NewU64(u uint64) Value {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint64(p, u)
	return Value{tag: TagU64, payload: p}
}

func (v Value) U64() (uint64, error) {
	if v.tag != TagU64 {
		return 0, mismatch(v.tag, TagU64)
	}
	if len(v.payload) < 8 {
		return 0, shortPayload(TagU64, 8, len(v.payload))
	}
	return binary.LittleEndian.Uint64(v.payload), nil
}

func NewF32(f float32) Value {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, math.Float32bits(f))
	return Value{tag: TagF32, payload: p}
}

func (v Value) F32() (float32, error) {
	if v.tag != TagF32 {
		return 0, mismatch(v.tag, TagF32)
	}
	if len(v.payload) < 4 {
		return 0, shortPayload(TagF32, 4, len(v.payload))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(v.payload)), nil
}

func NewF64(f float64) Value {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint64(p, math.Float64bits(f))
	return Value{tag: TagF64, payload: p}
}

func (v Value) F64() (float64, error) {
	if v.tag != TagF64 {
		return 0, mismatch(v.tag, TagF64)
	}
	if len(v.payload) < 8 {
		return 0, shortPayload(TagF64, 8, len(v.payload))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.payload)), nil
}

// NewString stores s verbatim as UTF-8, no terminator.
func NewString(s string) Value {
	return Value{tag: TagString, payload: []byte(s)}
}

func (v Value) String() (string, error) {
	if v.tag != TagString {
		return "", mismatch(v.tag, TagString)
	}
	return string(v.payload), nil
}

// NewBytes stores an opaque byte sequence. The slice is not copied;
// callers must not mutate b after handing it to NewBytes.
func NewBytes(b []byte) Value {
	return Value{tag: TagBytes, payload: b}
}

func (v Value) Bytes() ([]byte, error) {
	if v.tag != TagBytes {
		return nil, mismatch(v.tag, TagBytes)
	}
	return v.payload, nil
}

// Encode serializes v as [tag:1][len:u32 LE][payload:len].
func Encode(v Value) []byte {
	out := make([]byte, 1+4+len(v.payload))
	out[0] = byte(v.tag)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(v.payload)))
	copy(out[5:], v.payload)
	return out
}

// Decode parses a value previously produced by Encode. It is total on
// well-formed input and returns ErrCorruptRecord if the declared
// length overruns the supplied buffer.
func Decode(b []byte) (Value, error) {
	if len(b) < 5 {
		return Value{}, fmt.Errorf("%w: value header truncated", dberrors.ErrCorruptRecord)
	}
	tag := Tag(b[0])
	n := binary.LittleEndian.Uint32(b[1:5])
	if uint32(len(b)-5) < n {
		return Value{}, fmt.Errorf("%w: value payload truncated", dberrors.ErrCorruptRecord)
	}
	payload := b[5 : 5+n]
	if tag == TagString && !utf8.Valid(payload) {
		return Value{}, fmt.Errorf("%w: string payload is not valid UTF-8", dberrors.ErrCorruptRecord)
	}
	return Value{tag: tag, payload: payload}, nil
}
