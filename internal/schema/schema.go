// Package schema describes the configuration surface of an operation: the
// set of typed attributes a node may carry, their defaults, and any value
// restrictions. The graph validates every config mutation against the
// operation's schema before accepting it, so operations can trust the shape
// of the config they receive.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// ErrInvalidConfigValue is wrapped by every validation failure so callers
// can classify config errors with errors.Is.
var ErrInvalidConfigValue = errors.New("invalid config value")

// Attribute declares one configuration key.
type Attribute struct {
	Name        string
	Type        cty.Type
	Description string

	// Required attributes must be present after defaults are applied.
	Required bool

	// Default is applied when the caller omits the attribute.
	Default *cty.Value

	// OneOf restricts the attribute to an enumerated set of values.
	OneOf []cty.Value

	// Min and Max bound number-typed attributes inclusively.
	Min *int64
	Max *int64
}

// Schema is an ordered collection of attributes. Construct with New.
type Schema struct {
	attrs  []Attribute
	byName map[string]int
}

// New builds a schema from the given attributes. Duplicate names and
// malformed attribute declarations are programmer errors and panic, matching
// registration-time failure semantics.
func New(attrs ...Attribute) *Schema {
	s := &Schema{byName: make(map[string]int, len(attrs))}
	for _, a := range attrs {
		if a.Name == "" {
			panic("schema: attribute with empty name")
		}
		if _, dup := s.byName[a.Name]; dup {
			panic(fmt.Sprintf("schema: duplicate attribute %q", a.Name))
		}
		if a.Default != nil && !typeAccepts(a.Type, *a.Default) {
			panic(fmt.Sprintf("schema: default for %q does not match declared type %s", a.Name, a.Type.FriendlyName()))
		}
		s.byName[a.Name] = len(s.attrs)
		s.attrs = append(s.attrs, a)
	}
	return s
}

// Empty is a schema with no attributes; any provided key is rejected.
func Empty() *Schema {
	return New()
}

// Attributes returns the declared attributes in declaration order.
func (s *Schema) Attributes() []Attribute {
	out := make([]Attribute, len(s.attrs))
	copy(out, s.attrs)
	return out
}

// Attribute looks up a declaration by name.
func (s *Schema) Attribute(name string) (Attribute, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return Attribute{}, false
	}
	return s.attrs[idx], true
}

// Validate checks a single key/value pair against the schema.
func (s *Schema) Validate(name string, val cty.Value) error {
	idx, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: unknown key %q (known: %s)", ErrInvalidConfigValue, name, s.knownKeys())
	}
	attr := s.attrs[idx]

	if val.IsNull() {
		if attr.Required {
			return fmt.Errorf("%w: %q must not be null", ErrInvalidConfigValue, name)
		}
		return nil
	}

	if !typeAccepts(attr.Type, val) {
		return fmt.Errorf("%w: %q expects %s, got %s",
			ErrInvalidConfigValue, name, attr.Type.FriendlyName(), val.Type().FriendlyName())
	}

	if len(attr.OneOf) > 0 {
		found := false
		for _, allowed := range attr.OneOf {
			if allowed.RawEquals(val) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q is not one of the allowed values for %q",
				ErrInvalidConfigValue, renderValue(val), name)
		}
	}

	if (attr.Min != nil || attr.Max != nil) && val.Type() == cty.Number {
		n, acc := val.AsBigFloat().Int64()
		if acc != 0 {
			return fmt.Errorf("%w: %q must be a whole number", ErrInvalidConfigValue, name)
		}
		if attr.Min != nil && n < *attr.Min {
			return fmt.Errorf("%w: %q must be >= %d, got %d", ErrInvalidConfigValue, name, *attr.Min, n)
		}
		if attr.Max != nil && n > *attr.Max {
			return fmt.Errorf("%w: %q must be <= %d, got %d", ErrInvalidConfigValue, name, *attr.Max, n)
		}
	}

	return nil
}

// Apply validates a full config map and returns a copy with defaults filled
// in for omitted attributes. Required attributes without a value or default
// are rejected.
func (s *Schema) Apply(cfg map[string]cty.Value) (map[string]cty.Value, error) {
	out := make(map[string]cty.Value, len(s.attrs))
	for name, val := range cfg {
		if err := s.Validate(name, val); err != nil {
			return nil, err
		}
		out[name] = val
	}
	for _, attr := range s.attrs {
		if _, present := out[attr.Name]; present {
			continue
		}
		if attr.Default != nil {
			out[attr.Name] = *attr.Default
			continue
		}
		if attr.Required {
			return nil, fmt.Errorf("%w: required key %q is missing", ErrInvalidConfigValue, attr.Name)
		}
	}
	return out, nil
}

func (s *Schema) knownKeys() string {
	if len(s.attrs) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(s.attrs))
	for _, a := range s.attrs {
		keys = append(keys, a.Name)
	}
	sort.Strings(keys)
	joined := ""
	for i, k := range keys {
		if i > 0 {
			joined += ", "
		}
		joined += k
	}
	return joined
}

// typeAccepts reports whether a value satisfies a declared attribute type.
// DynamicPseudoType accepts anything.
func typeAccepts(declared cty.Type, val cty.Value) bool {
	if declared == cty.DynamicPseudoType {
		return true
	}
	return val.Type().Equals(declared)
}

func renderValue(val cty.Value) string {
	if val.Type() == cty.String {
		return val.AsString()
	}
	if val.Type() == cty.Number {
		return val.AsBigFloat().Text('f', -1)
	}
	return val.Type().FriendlyName()
}

// Int64 is a convenience for building Min/Max bounds and integer defaults.
func Int64(n int64) *int64 {
	return &n
}

// DefaultString builds a string default value.
func DefaultString(s string) *cty.Value {
	v := cty.StringVal(s)
	return &v
}

// DefaultInt builds a number default value.
func DefaultInt(n int64) *cty.Value {
	v := cty.NumberIntVal(n)
	return &v
}

// Strings builds an enumeration of string values for OneOf.
func Strings(vals ...string) []cty.Value {
	out := make([]cty.Value, len(vals))
	for i, s := range vals {
		out[i] = cty.StringVal(s)
	}
	return out
}
