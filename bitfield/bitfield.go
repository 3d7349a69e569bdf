// Package bitfield packs and unpacks struct fields into integers.
// Fields carrying a `bitfield:",n"` tag are packed low-bit first in
// declaration order; untagged fields are skipped.
package bitfield

import (
	"fmt"
	"reflect"
)

// Config determines settings for packing.
type Config struct {
	// NumBits fixes the maximum allowed bits for the integer
	// representation. Zero means 64.
	NumBits uint
}

// Pack packs the annotated bit ranges of struct x into an integer.
func Pack(x interface{}, c *Config) (packed uint64, err error) {
	if c == nil {
		c = &Config{NumBits: 64}
	}
	numBits := c.NumBits
	if numBits == 0 {
		numBits = 64
	}

	v := reflect.ValueOf(x)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return 0, fmt.Errorf("Pack: expected struct, got %v", v.Kind())
	}

	t := v.Type()
	var bitOffset uint
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok, err := tagBits(field)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		var fieldBits uint64
		fieldValue := v.Field(i)
		switch fieldValue.Kind() {
		case reflect.Bool:
			if fieldValue.Bool() {
				fieldBits = 1
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fieldBits = fieldValue.Uint()
		default:
			return 0, fmt.Errorf("Pack: unsupported field type %v for field %s", fieldValue.Kind(), field.Name)
		}

		if bits < 64 && fieldBits > (1<<bits)-1 {
			return 0, fmt.Errorf("Pack: value %d exceeds %d bits for field %s", fieldBits, bits, field.Name)
		}

		packed |= fieldBits << bitOffset
		bitOffset += bits
	}

	if bitOffset > numBits {
		return 0, fmt.Errorf("Pack: total bits %d exceeds NumBits %d", bitOffset, numBits)
	}
	return packed, nil
}

// Unpack fills the annotated fields of the struct pointed to by x from
// the packed integer value.
func Unpack(packed uint64, x interface{}) error {
	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("Unpack: expected pointer to struct, got %T", x)
	}
	v = v.Elem()

	t := v.Type()
	var bitOffset uint
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		bits, ok, err := tagBits(field)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		var mask uint64 = ^uint64(0)
		if bits < 64 {
			mask = (1 << bits) - 1
		}
		fieldBits := (packed >> bitOffset) & mask

		fieldValue := v.Field(i)
		switch fieldValue.Kind() {
		case reflect.Bool:
			fieldValue.SetBool(fieldBits != 0)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			fieldValue.SetUint(fieldBits)
		default:
			return fmt.Errorf("Unpack: unsupported field type %v for field %s", fieldValue.Kind(), field.Name)
		}
		bitOffset += bits
	}
	return nil
}

// tagBits parses a field's bitfield tag. ok is false when the field has
// no tag and should be skipped.
func tagBits(field reflect.StructField) (bits uint, ok bool, err error) {
	tag := field.Tag.Get("bitfield")
	if tag == "" {
		return 0, false, nil
	}
	if _, err := fmt.Sscanf(tag, ",%d", &bits); err != nil {
		return 0, false, fmt.Errorf("invalid bitfield tag %q on field %s", tag, field.Name)
	}
	if bits == 0 || bits > 64 {
		return 0, false, fmt.Errorf("bitfield tag %q on field %s: bits out of range", tag, field.Name)
	}
	return bits, true, nil
}
