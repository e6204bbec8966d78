package bencode

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
)

// Encoder writes bencoded values to a stream, mirroring
// bencode.NewEncoder(w).Encode(v) in the teacher and the wider pack.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the bencoded form of v.
func (e *Encoder) Encode(v interface{}) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}

// Encode returns the bencoded form of v. Maps and structs are always
// emitted with byte-wise ascending keys, and a *Dict in its own key order,
// which Dict.Set keeps ascending, so the "keys out of order on encode are
// forbidden" rule in spec §4.B is enforced by construction rather than by
// rejecting a caller-supplied order. A *Dict produced by decoding keeps
// the key order it had on the wire.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, rv reflect.Value) error {
	if !rv.IsValid() {
		buf.WriteString("0:")
		return nil
	}

	if rm, ok := rv.Interface().(RawMessage); ok {
		if len(rm) == 0 {
			return fmt.Errorf("bencode: empty RawMessage")
		}
		buf.Write(rm)
		return nil
	}
	if d, ok := rv.Interface().(*Dict); ok {
		return encodeDict(buf, d)
	}
	if d, ok := rv.Interface().(Dict); ok {
		return encodeDict(buf, &d)
	}

	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			buf.WriteString("0:")
			return nil
		}
		rv = rv.Elem()
		if rm, ok := rv.Interface().(RawMessage); ok {
			buf.Write(rm)
			return nil
		}
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		buf.WriteByte('e')
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		buf.WriteByte('e')
		return nil
	case reflect.Bool:
		buf.WriteByte('i')
		if rv.Bool() {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
		buf.WriteByte('e')
		return nil
	case reflect.String:
		writeByteString(buf, []byte(rv.String()))
		return nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			writeByteString(buf, b)
			return nil
		}
		buf.WriteByte('l')
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(buf, rv.Index(i)); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
		return nil
	case reflect.Map:
		return encodeMap(buf, rv)
	case reflect.Struct:
		return encodeStruct(buf, rv)
	default:
		return fmt.Errorf("bencode: unsupported encode kind %s", rv.Kind())
	}
}

func writeByteString(buf *bytes.Buffer, b []byte) {
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(':')
	buf.Write(b)
}

func encodeDict(buf *bytes.Buffer, d *Dict) error {
	buf.WriteByte('d')
	for _, k := range d.keys {
		writeByteString(buf, []byte(k))
		if err := encodeValue(buf, reflect.ValueOf(d.values[k])); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func encodeMap(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("bencode: map key must be string")
	}
	keys := rv.MapKeys()
	names := make([]string, len(keys))
	byName := make(map[string]reflect.Value, len(keys))
	for i, k := range keys {
		names[i] = k.String()
		byName[names[i]] = rv.MapIndex(k)
	}
	sort.Strings(names)
	buf.WriteByte('d')
	for _, name := range names {
		writeByteString(buf, []byte(name))
		if err := encodeValue(buf, byName[name]); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

type structField struct {
	name      string
	omitEmpty bool
	value     reflect.Value
}

func encodeStruct(buf *bytes.Buffer, rv reflect.Value) error {
	t := rv.Type()
	var fields []structField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name, omitEmpty, skip := fieldTag(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && isEmptyValue(fv) {
			continue
		}
		fields = append(fields, structField{name: name, omitEmpty: omitEmpty, value: fv})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	buf.WriteByte('d')
	for _, f := range fields {
		writeByteString(buf, []byte(f.name))
		if err := encodeValue(buf, f.value); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Array:
		return v.IsZero()
	case reflect.String:
		return v.Len() == 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Bool:
		return !v.Bool()
	}
	return false
}
