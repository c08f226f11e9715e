// Package structured provides the JSON bridge between byte pipelines and
// structured graph values.
package structured

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func runJSONParse(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	v, err := ctyjson.Unmarshal(data, ty)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if !ptype.Conforms(v, ptype.Structured) {
		return nil, fmt.Errorf("top-level JSON value must be an object or array")
	}
	return map[string]cty.Value{"output": v}, nil
}

func runJSONFormat(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	v := in["value"]
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, fmt.Errorf("encoding JSON: %w", err)
	}
	if cfg.Has("indent") && cfg.Text("indent") != "" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", cfg.Text("indent")); err != nil {
			return nil, fmt.Errorf("encoding JSON: %w", err)
		}
		raw = buf.Bytes()
	}
	return map[string]cty.Value{"output": ptype.BytesVal(raw)}, nil
}

// runJSONPath walks a dot-separated path of object keys and list indices
// through a structured value.
func runJSONPath(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	v := in["value"]
	path := cfg.Text("path")
	if path == "" {
		return map[string]cty.Value{"output": v}, nil
	}
	cur := v
	for _, step := range splitPath(path) {
		next, err := descend(cur, step)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return map[string]cty.Value{"output": cur}, nil
}

func splitPath(path string) []string {
	var steps []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			if i > start {
				steps = append(steps, path[start:i])
			}
			start = i + 1
		}
	}
	return steps
}

func descend(v cty.Value, step string) (cty.Value, error) {
	ty := v.Type()
	switch {
	case ty.IsObjectType():
		if !ty.HasAttribute(step) {
			return cty.NilVal, fmt.Errorf("no attribute %q in object", step)
		}
		return v.GetAttr(step), nil
	case ty.IsMapType():
		key := cty.StringVal(step)
		if v.HasIndex(key).False() {
			return cty.NilVal, fmt.Errorf("no key %q in map", step)
		}
		return v.Index(key), nil
	case ty.IsTupleType(), ty.IsListType():
		var idx int
		if _, err := fmt.Sscanf(step, "%d", &idx); err != nil {
			return cty.NilVal, fmt.Errorf("%q is not a list index", step)
		}
		key := cty.NumberIntVal(int64(idx))
		if v.HasIndex(key).False() {
			return cty.NilVal, fmt.Errorf("index %d out of range", idx)
		}
		return v.Index(key), nil
	default:
		return cty.NilVal, fmt.Errorf("cannot descend into %s with %q", ty.FriendlyName(), step)
	}
}

// Register registers the JSON operations with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	specs := []struct {
		spec op.Spec
		fn   op.Func
	}{
		{
			spec: op.Spec{
				ID:          "json_parse",
				DisplayName: "JSON Parse",
				Category:    "structured",
				Inputs:      []op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Structured}},
				Config:      schema.Empty(),
			},
			fn: runJSONParse,
		},
		{
			spec: op.Spec{
				ID:          "json_format",
				DisplayName: "JSON Format",
				Category:    "structured",
				Inputs:      []op.PortSpec{{Name: "value", Type: ptype.Structured, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config: schema.New(schema.Attribute{
					Name:        "indent",
					Type:        cty.String,
					Description: "Indentation unit; empty keeps compact output.",
					Default:     schema.DefaultString(""),
				}),
			},
			fn: runJSONFormat,
		},
		{
			spec: op.Spec{
				ID:          "json_path",
				DisplayName: "JSON Path",
				Category:    "structured",
				Inputs:      []op.PortSpec{{Name: "value", Type: ptype.Structured, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Any}},
				Config: schema.New(schema.Attribute{
					Name:        "path",
					Type:        cty.String,
					Description: "Dot-separated keys and list indices.",
					Default:     schema.DefaultString(""),
				}),
			},
			fn: runJSONPath,
		},
	}

	for _, s := range specs {
		fn := s.fn
		if err := r.Register(s.spec, func() op.Operation { return fn }); err != nil {
			return err
		}
	}
	return nil
}
