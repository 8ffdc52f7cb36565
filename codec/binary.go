package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/sionet/sionet/internal/json"
)

// Binary marks a byte slice as a binary attachment. During encode its bytes
// travel as a separate raw frame referenced by a placeholder inside the
// JSON payload; during decode the placeholder is resolved back to the
// attachment bytes.
type Binary []byte

func (b Binary) BinaryAttachment() bool { return true }

func (b Binary) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return b, nil
}

func (b *Binary) UnmarshalJSON(data []byte) error {
	if b == nil {
		return errors.New("codec.Binary: UnmarshalJSON on nil pointer")
	}
	*b = append((*b)[0:0], data...)
	return nil
}

// binaryMarker is implemented by values that should be sent as raw binary
// attachments. Custom types can opt in by implementing it over a byte slice.
type binaryMarker interface {
	BinaryAttachment() bool
}

type placeholder struct {
	Placeholder bool `json:"_placeholder"`
	Num         int  `json:"num"`
}

var errNonSettableBinary = fmt.Errorf("codec: binary value is not settable")

// hasBinary reports whether any of the values contains a binary attachment.
func hasBinary(values ...any) bool {
	for _, v := range values {
		if hasBinaryValue(reflect.ValueOf(v)) {
			return true
		}
	}
	return false
}

func hasBinaryValue(rv reflect.Value) bool {
	rv = indirect(rv)
	if !rv.IsValid() {
		return false
	}

	if rv.CanInterface() {
		if m, ok := rv.Interface().(binaryMarker); ok && m.BinaryAttachment() {
			return true
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return false // Plain []byte without the marker stays JSON.
		}
		for i := 0; i < rv.Len(); i++ {
			if hasBinaryValue(rv.Index(i)) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			fv := rv.Field(i)
			if fv.CanInterface() && hasBinaryValue(fv) {
				return true
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if hasBinaryValue(iter.Value()) {
				return true
			}
		}
	}
	return false
}

// deconstruct replaces every binary attachment inside values with a
// placeholder and returns the attachment buffers in placeholder order.
// The values are mutated in place: the Binary slices end up holding the
// placeholder JSON, which their MarshalJSON emits verbatim.
func deconstruct(values ...any) (buffers [][]byte, err error) {
	num := 0
	for _, v := range values {
		b, err := deconstructValue(reflect.ValueOf(v), &num)
		if err != nil {
			return nil, err
		}
		buffers = append(buffers, b...)
	}
	if num != len(buffers) {
		return nil, fmt.Errorf("codec: attachment count mismatch")
	}
	return buffers, nil
}

func deconstructValue(rv reflect.Value, num *int) (buffers [][]byte, err error) {
	original := rv
	rv = indirect(rv)
	if !rv.IsValid() {
		return nil, nil
	}

	if rv.CanInterface() {
		if m, ok := rv.Interface().(binaryMarker); ok && m.BinaryAttachment() {
			buf, err := swapForPlaceholder(rv, original, num)
			if err != nil {
				return nil, err
			}
			return [][]byte{buf}, nil
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, nil
		}
		for i := 0; i < rv.Len(); i++ {
			b, err := deconstructValue(rv.Index(i), num)
			if err != nil {
				return nil, err
			}
			buffers = append(buffers, b...)
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			fv := rv.Field(i)
			if !fv.CanInterface() {
				continue
			}
			b, err := deconstructValue(fv, num)
			if err != nil {
				return nil, err
			}
			buffers = append(buffers, b...)
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			mv := indirect(iter.Value())
			if mv.IsValid() && mv.CanInterface() {
				if m, ok := mv.Interface().(binaryMarker); ok && m.BinaryAttachment() {
					buf := append([]byte(nil), mv.Bytes()...)
					ph, err := marshalPlaceholder(num)
					if err != nil {
						return nil, err
					}
					n := reflect.MakeSlice(mv.Type(), len(ph), len(ph))
					reflect.Copy(n, reflect.ValueOf(ph))
					rv.SetMapIndex(iter.Key(), n)
					buffers = append(buffers, buf)
					continue
				}
			}
			b, err := deconstructValue(iter.Value(), num)
			if err != nil {
				return nil, err
			}
			buffers = append(buffers, b...)
		}
	}
	return buffers, nil
}

// swapForPlaceholder takes the attachment bytes out of a marker value and
// writes the placeholder JSON in their place.
func swapForPlaceholder(rv, original reflect.Value, num *int) (buf []byte, err error) {
	buf = append([]byte(nil), rv.Bytes()...)

	ph, err := marshalPlaceholder(num)
	if err != nil {
		return nil, err
	}

	switch {
	case rv.CanSet():
		rv.SetBytes(ph)
	case original.CanSet():
		n := reflect.MakeSlice(rv.Type(), len(ph), len(ph))
		reflect.Copy(n, reflect.ValueOf(ph))
		if original.Kind() == reflect.Ptr {
			x := reflect.New(rv.Type())
			x.Elem().Set(n)
			original.Set(x)
		} else {
			original.Set(n)
		}
	default:
		return nil, errNonSettableBinary
	}
	return buf, nil
}

func marshalPlaceholder(num *int) ([]byte, error) {
	ph := placeholder{Placeholder: true, Num: *num}
	*num++
	return json.Marshal(&ph)
}

// reconstructValues resolves every placeholder inside the decoded targets
// back to its attachment buffer.
func reconstructValues(attachments [][]byte, targets ...any) error {
	for _, t := range targets {
		if err := reconstructValue(reflect.ValueOf(t), attachments); err != nil {
			return err
		}
	}
	return nil
}

func reconstructValue(rv reflect.Value, attachments [][]byte) error {
	original := rv
	rv = indirect(rv)
	if !rv.IsValid() {
		return nil
	}

	if rv.CanInterface() {
		if m, ok := rv.Interface().(binaryMarker); ok && m.BinaryAttachment() {
			return resolvePlaceholder(rv, original, attachments)
		}
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := reconstructValue(rv.Index(i), attachments); err != nil {
				return err
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			fv := rv.Field(i)
			if !fv.CanInterface() {
				continue
			}
			if err := reconstructValue(fv, attachments); err != nil {
				return err
			}
		}
	case reflect.Map:
		return reconstructMap(rv, attachments)
	}
	return nil
}

// reconstructMap handles placeholders that were decoded into loosely typed
// trees: a placeholder shows up as map[string]any{"_placeholder": true,
// "num": N} and is replaced with the attachment bytes.
func reconstructMap(rv reflect.Value, attachments [][]byte) error {
	iter := rv.MapRange()
	for iter.Next() {
		mv := indirect(iter.Value())
		if !mv.IsValid() {
			continue
		}

		if mv.Kind() == reflect.Map {
			if num, ok := placeholderNum(mv); ok {
				if num < 0 || num >= len(attachments) {
					return fmt.Errorf("codec: invalid placeholder num value")
				}
				rv.SetMapIndex(iter.Key(), reflect.ValueOf(Binary(attachments[num])))
				continue
			}
		}

		if err := reconstructValue(iter.Value(), attachments); err != nil {
			return err
		}
	}
	return nil
}

func resolvePlaceholder(rv, original reflect.Value, attachments [][]byte) error {
	var ph placeholder
	if err := json.Unmarshal(rv.Bytes(), &ph); err != nil || !ph.Placeholder {
		return nil // Not a placeholder; leave the bytes alone.
	}
	if ph.Num < 0 || ph.Num >= len(attachments) {
		return fmt.Errorf("codec: invalid placeholder num value")
	}
	buf := attachments[ph.Num]

	switch {
	case rv.CanSet():
		rv.SetBytes(buf)
	case original.CanSet():
		n := reflect.MakeSlice(rv.Type(), len(buf), len(buf))
		reflect.Copy(n, reflect.ValueOf(buf))
		if original.Kind() == reflect.Ptr {
			x := reflect.New(rv.Type())
			x.Elem().Set(n)
			original.Set(x)
		} else {
			original.Set(n)
		}
	default:
		return errNonSettableBinary
	}
	return nil
}

func placeholderNum(rv reflect.Value) (num int, ok bool) {
	if rv.Type().Key().Kind() != reflect.String || rv.Len() != 2 {
		return 0, false
	}

	phv := indirect(rv.MapIndex(reflect.ValueOf("_placeholder")))
	numv := indirect(rv.MapIndex(reflect.ValueOf("num")))
	if !phv.IsValid() || !numv.IsValid() {
		return 0, false
	}
	if phv.Kind() != reflect.Bool || !phv.Bool() {
		return 0, false
	}

	switch numv.Kind() {
	case reflect.Float64:
		return int(numv.Float()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(numv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(numv.Uint()), true
	default:
		return 0, false
	}
}

// indirect unwraps interfaces and pointers. Checked twice since a value can
// be a pointer to an interface.
func indirect(rv reflect.Value) reflect.Value {
	for i := 0; i < 2; i++ {
		k := rv.Kind()
		if k != reflect.Interface && k != reflect.Ptr {
			break
		}
		rv = rv.Elem()
	}
	return rv
}
