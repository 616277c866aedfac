// Package kschema implements the declarative binary scheme codec used to
// encode and decode Kafka protocol request and response bodies: fixed
// width big-endian integers, length-prefixed strings and byte arrays,
// nullable variants of both, count-prefixed homogeneous arrays, and
// nested schemes. The schema for a given Go struct is derived once, by
// reflection, from its field types and `kafka:"..."` tags, the same
// fields/types pairing a hand-written codec such as
// takhin-data/pkg/kafka/protocol's OffsetCommitRequest.Encode/Decode
// pair would otherwise repeat by hand for every message type.
package kschema

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

// DefaultMaxLen bounds the count prefix of arrays and the length prefix
// of strings/byte arrays accepted while decoding, guarding against a
// malformed or hostile stream claiming an absurd length and forcing a
// huge allocation.
const DefaultMaxLen = 1 << 20

// tag "kafka:nullable" marks a *string, []byte, or slice field as using
// the nullable encoding (-1 length/count means "null" rather than an
// encoding error). A plain string field ignores the tag.
const tagNullable = "nullable"

// Encode serializes v, which must be a struct or a pointer to one,
// according to the field order and types of its Go type. Encoding is
// deterministic: identical inputs always yield identical bytes.
func Encode(v interface{}) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("kschema: Encode: nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("kschema: Encode: expected struct, got %s", rv.Kind())
	}
	var buf []byte
	buf, err := encodeStruct(buf, rv)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Decoder decodes scheme-encoded bytes into Go structs, bounding array
// and string/byte-array lengths at MaxLen.
type Decoder struct {
	MaxLen int32
}

// NewDecoder returns a Decoder using DefaultMaxLen.
func NewDecoder() *Decoder {
	return &Decoder{MaxLen: DefaultMaxLen}
}

// Decode parses data into v, which must be a non-nil pointer to a
// struct, using a Decoder configured with DefaultMaxLen.
func Decode(data []byte, v interface{}) error {
	return NewDecoder().Decode(data, v)
}

// Decode parses data into v using d's configured limits.
func (d *Decoder) Decode(data []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("kschema: Decode: v must be a non-nil pointer")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("kschema: Decode: expected pointer to struct, got pointer to %s", rv.Kind())
	}
	r := &reader{buf: data, max: d.maxLen()}
	if err := decodeStruct(r, rv); err != nil {
		return err
	}
	return nil
}

func (d *Decoder) maxLen() int32 {
	if d.MaxLen <= 0 {
		return DefaultMaxLen
	}
	return d.MaxLen
}

// reader is a bounds-checked cursor over a decode buffer.
type reader struct {
	buf []byte
	pos int
	max int32
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("kschema: decode: %w: need %d bytes, have %d", io.ErrUnexpectedEOF, n, len(r.buf)-r.pos)
	}
	return nil
}

func (r *reader) int8() (int8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := int8(r.buf[r.pos])
	r.pos++
	return v, nil
}

func (r *reader) int16() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v, nil
}

func (r *reader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) bytesN(n int32) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("kschema: decode: negative length %d", n)
	}
	if n > r.max {
		return nil, fmt.Errorf("kschema: decode: length %d exceeds maximum %d", n, r.max)
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func appendInt8(buf []byte, v int8) []byte   { return append(buf, byte(v)) }
func appendInt16(buf []byte, v int16) []byte { return appendU16(buf, uint16(v)) }
func appendInt32(buf []byte, v int32) []byte { return appendU32(buf, uint32(v)) }
func appendInt64(buf []byte, v int64) []byte { return appendU64(buf, uint64(v)) }

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
