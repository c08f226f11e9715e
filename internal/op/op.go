// Package op defines the capability contract every operation implements,
// together with the static specification (ports and config schema) the
// engine uses to validate connections before anything runs.
package op

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/schema"
)

// PortSpec declares one connection point on an operation.
type PortSpec struct {
	Name        string
	Type        ptype.Type
	Description string

	// Required applies to input ports: an unconnected required input keeps
	// the node from executing.
	Required bool

	// Default applies to optional input ports: used when the port has no
	// incoming edge.
	Default *cty.Value
}

// Spec is the static, pre-execution description of an operation. The engine
// validates topology against it and the catalog renders it; the operation's
// internals stay opaque.
type Spec struct {
	ID          string
	DisplayName string
	Category    string
	Inputs      []PortSpec
	Outputs     []PortSpec
	Config      *schema.Schema
}

// Input looks up an input port declaration by name.
func (s Spec) Input(name string) (PortSpec, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortSpec{}, false
}

// Output looks up an output port declaration by name.
func (s Spec) Output(name string) (PortSpec, bool) {
	for _, p := range s.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortSpec{}, false
}

// Config is a node's configuration after schema validation and default
// application. Accessors return zero values for absent or null keys; the
// schema guarantees the shapes operations care about.
type Config map[string]cty.Value

// Text returns a string-typed config value.
func (c Config) Text(key string) string {
	v, ok := c[key]
	if !ok || v.IsNull() || v.Type() != cty.String {
		return ""
	}
	return v.AsString()
}

// Int returns a number-typed config value truncated to int64.
func (c Config) Int(key string) int64 {
	v, ok := c[key]
	if !ok || v.IsNull() || v.Type() != cty.Number {
		return 0
	}
	n, _ := v.AsBigFloat().Int64()
	return n
}

// Has reports whether a key is present and non-null.
func (c Config) Has(key string) bool {
	v, ok := c[key]
	return ok && !v.IsNull()
}

// Operation is the single capability every node implements: transform a set
// of named input values into a set of named output values, or fail.
//
// Run must be a pure function of (inputs, cfg); any side effect goes through
// a collaborator injected when the operation was constructed. Input values
// are shared with other consumers and must be treated as read-only. Blocking
// work must honor ctx.
type Operation interface {
	Run(ctx context.Context, inputs map[string]cty.Value, cfg Config) (map[string]cty.Value, error)
}

// Func adapts an ordinary function to the Operation interface.
type Func func(ctx context.Context, inputs map[string]cty.Value, cfg Config) (map[string]cty.Value, error)

// Run implements Operation.
func (f Func) Run(ctx context.Context, inputs map[string]cty.Value, cfg Config) (map[string]cty.Value, error) {
	return f(ctx, inputs, cfg)
}
