// Package ptype defines the closed set of port types a graph value may
// carry, and the mapping between those tags and the cty value system that
// moves data between nodes.
//
// Bytes and Image have no native cty representation, so they travel as
// capsule values. Text, Integer and Structured map onto cty strings,
// numbers and collection/object values respectively. Any is the escape
// hatch for pass-through ports and offers no type-safety guarantee.
package ptype

import (
	"fmt"
	"image"
	"reflect"

	"github.com/zclconf/go-cty/cty"
)

// Type tags a port with the kind of value it produces or consumes.
type Type int

const (
	Invalid Type = iota
	Bytes
	Text
	Integer
	Structured
	Image
	Any
)

var typeNames = map[Type]string{
	Invalid:    "invalid",
	Bytes:      "bytes",
	Text:       "text",
	Integer:    "integer",
	Structured: "structured",
	Image:      "image",
	Any:        "any",
}

// String returns the lowercase tag name used in logs and error messages.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ptype(%d)", int(t))
}

// Valid reports whether t is one of the declared port types.
func (t Type) Valid() bool {
	return t > Invalid && t <= Any
}

// Compatible reports whether a value produced by a src-typed output port may
// flow into a dst-typed input port. Types must be equal, or either side must
// be Any. There is no coercion between distinct concrete types.
func Compatible(src, dst Type) bool {
	return src == dst || src == Any || dst == Any
}

// BytesCty is the capsule type carrying raw byte strings.
var BytesCty = cty.Capsule("bytes", reflect.TypeOf([]byte(nil)))

// ImageCty is the capsule type carrying decoded images.
var ImageCty = cty.Capsule("image", reflect.TypeOf((*image.Image)(nil)).Elem())

// BytesVal wraps a byte slice in a capsule value. The slice is shared, not
// copied; operations must treat input values as read-only.
func BytesVal(b []byte) cty.Value {
	return cty.CapsuleVal(BytesCty, &b)
}

// TextVal wraps a string.
func TextVal(s string) cty.Value {
	return cty.StringVal(s)
}

// IntVal wraps an integer.
func IntVal(n int64) cty.Value {
	return cty.NumberIntVal(n)
}

// ImageVal wraps a decoded image in a capsule value.
func ImageVal(img image.Image) cty.Value {
	return cty.CapsuleVal(ImageCty, &img)
}

// AsBytes unwraps a bytes capsule value.
func AsBytes(v cty.Value) ([]byte, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("bytes value is null")
	}
	if !v.Type().Equals(BytesCty) {
		return nil, fmt.Errorf("value is %s, not bytes", v.Type().FriendlyName())
	}
	return *(v.EncapsulatedValue().(*[]byte)), nil
}

// AsText unwraps a string value.
func AsText(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", fmt.Errorf("text value is null")
	}
	if v.Type() != cty.String {
		return "", fmt.Errorf("value is %s, not text", v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

// AsInt unwraps a whole number value.
func AsInt(v cty.Value) (int64, error) {
	if v.IsNull() {
		return 0, fmt.Errorf("integer value is null")
	}
	if v.Type() != cty.Number {
		return 0, fmt.Errorf("value is %s, not integer", v.Type().FriendlyName())
	}
	n, acc := v.AsBigFloat().Int64()
	if acc != 0 {
		return 0, fmt.Errorf("number %s is not a whole integer", v.AsBigFloat().Text('f', -1))
	}
	return n, nil
}

// AsImage unwraps an image capsule value.
func AsImage(v cty.Value) (image.Image, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("image value is null")
	}
	if !v.Type().Equals(ImageCty) {
		return nil, fmt.Errorf("value is %s, not image", v.Type().FriendlyName())
	}
	return *(v.EncapsulatedValue().(*image.Image)), nil
}

// Conforms reports whether the concrete value matches the declared port
// type. Any accepts every non-nil value.
func Conforms(v cty.Value, t Type) bool {
	if v.IsNull() {
		return false
	}
	switch t {
	case Any:
		return true
	case Bytes:
		return v.Type().Equals(BytesCty)
	case Text:
		return v.Type() == cty.String
	case Integer:
		return v.Type() == cty.Number
	case Structured:
		ty := v.Type()
		return ty.IsObjectType() || ty.IsMapType() || ty.IsTupleType() || ty.IsListType()
	case Image:
		return v.Type().Equals(ImageCty)
	default:
		return false
	}
}
