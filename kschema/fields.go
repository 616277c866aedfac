// Field encoding conventions: a plain Go string is a non-nullable string
// (empty encodes as length 0); a nullable string is a *string field
// tagged `kafka:"nullable"`. A []byte or slice field is nullable when
// tagged `kafka:"nullable"` and its Go value is nil; otherwise nil
// encodes as an empty (not null) array, matching ordinary Go zero-value
// semantics.
package kschema

import (
	"fmt"
	"reflect"
	"strings"
)

func fieldNullable(tag string) bool {
	for _, part := range strings.Split(tag, ",") {
		if part == tagNullable {
			return true
		}
	}
	return false
}

// encodeStruct appends the scheme encoding of every exported field of rv,
// in declaration order, to buf.
func encodeStruct(buf []byte, rv reflect.Value) ([]byte, error) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		nullable := fieldNullable(sf.Tag.Get("kafka"))
		var err error
		buf, err = encodeField(buf, rv.Field(i), nullable)
		if err != nil {
			return nil, fmt.Errorf("kschema: encode field %q: %w", sf.Name, err)
		}
	}
	return buf, nil
}

func encodeField(buf []byte, fv reflect.Value, nullable bool) ([]byte, error) {
	switch fv.Kind() {
	case reflect.Int8:
		return appendInt8(buf, int8(fv.Int())), nil
	case reflect.Int16:
		return appendInt16(buf, int16(fv.Int())), nil
	case reflect.Int32:
		return appendInt32(buf, int32(fv.Int())), nil
	case reflect.Int64:
		return appendInt64(buf, fv.Int()), nil
	case reflect.String:
		return encodeString(buf, fv.String(), nullable), nil
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			return encodeBytes(buf, fv.Bytes(), nullable), nil
		}
		return encodeArray(buf, fv, nullable)
	case reflect.Ptr:
		if fv.IsNil() {
			if !nullable {
				return nil, fmt.Errorf("nil pointer on non-nullable field")
			}
			return appendInt16(buf, -1), nil
		}
		return encodeField(buf, fv.Elem(), nullable)
	case reflect.Struct:
		return encodeStruct(buf, fv)
	default:
		return nil, fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
}

func encodeString(buf []byte, s string, nullable bool) []byte {
	_ = nullable // a Go string is never nil; nullable strings use *string
	buf = appendInt16(buf, int16(len(s)))
	return append(buf, s...)
}

func encodeBytes(buf []byte, b []byte, nullable bool) []byte {
	if b == nil && nullable {
		return appendInt32(buf, -1)
	}
	buf = appendInt32(buf, int32(len(b)))
	return append(buf, b...)
}

func encodeArray(buf []byte, fv reflect.Value, nullable bool) ([]byte, error) {
	if fv.IsNil() && nullable {
		return appendInt32(buf, -1), nil
	}
	n := fv.Len()
	buf = appendInt32(buf, int32(n))
	for i := 0; i < n; i++ {
		var err error
		buf, err = encodeField(buf, fv.Index(i), false)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return buf, nil
}

// decodeStruct fills every exported field of rv, in declaration order,
// by reading from r.
func decodeStruct(r *reader, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		nullable := fieldNullable(sf.Tag.Get("kafka"))
		if err := decodeField(r, rv.Field(i), nullable); err != nil {
			return fmt.Errorf("kschema: decode field %q: %w", sf.Name, err)
		}
	}
	return nil
}

func decodeField(r *reader, fv reflect.Value, nullable bool) error {
	switch fv.Kind() {
	case reflect.Int8:
		v, err := r.int8()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
		return nil
	case reflect.Int16:
		v, err := r.int16()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
		return nil
	case reflect.Int32:
		v, err := r.int32()
		if err != nil {
			return err
		}
		fv.SetInt(int64(v))
		return nil
	case reflect.Int64:
		v, err := r.int64()
		if err != nil {
			return err
		}
		fv.SetInt(v)
		return nil
	case reflect.String:
		s, err := decodeString(r)
		if err != nil {
			return err
		}
		fv.SetString(s)
		return nil
	case reflect.Slice:
		if fv.Type().Elem().Kind() == reflect.Uint8 {
			b, err := decodeBytes(r, nullable)
			if err != nil {
				return err
			}
			fv.SetBytes(b)
			return nil
		}
		return decodeArray(r, fv, nullable)
	case reflect.Ptr:
		n, err := r.int16()
		if err != nil {
			return err
		}
		if n == -1 {
			if !nullable {
				return fmt.Errorf("null value on non-nullable field")
			}
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		r.pos -= 2 // put back the length prefix for the element decoder
		elem := reflect.New(fv.Type().Elem())
		if err := decodeField(r, elem.Elem(), false); err != nil {
			return err
		}
		fv.Set(elem)
		return nil
	case reflect.Struct:
		return decodeStruct(r, fv)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
}

func decodeString(r *reader) (string, error) {
	n, err := r.int16()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("null value on non-nullable string field")
	}
	if int32(n) > r.max {
		return "", fmt.Errorf("string length %d exceeds maximum %d", n, r.max)
	}
	b, err := r.bytesN(int32(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeBytes(r *reader, nullable bool) ([]byte, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		if !nullable {
			return nil, fmt.Errorf("null value on non-nullable byte array field")
		}
		return nil, nil
	}
	return r.bytesN(n)
}

func decodeArray(r *reader, fv reflect.Value, nullable bool) error {
	n, err := r.int32()
	if err != nil {
		return err
	}
	if n == -1 {
		if !nullable {
			return fmt.Errorf("null value on non-nullable array field")
		}
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	if n > r.max {
		return fmt.Errorf("array length %d exceeds maximum %d", n, r.max)
	}
	if n < 0 {
		return fmt.Errorf("negative array length %d", n)
	}
	out := reflect.MakeSlice(fv.Type(), int(n), int(n))
	for i := 0; i < int(n); i++ {
		if err := decodeField(r, out.Index(i), false); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	fv.Set(out)
	return nil
}
