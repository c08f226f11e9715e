// Package transform provides the general byte and text manipulation
// operations, including the DEFLATE-family compression wrappers.
package transform

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func runReverseBytes(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	for i, c := range data {
		out[len(data)-1-i] = c
	}
	return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
}

func textCase(f func(string) string) op.Func {
	return func(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
		text, err := ptype.AsText(in["text"])
		if err != nil {
			return nil, err
		}
		return map[string]cty.Value{"output": ptype.TextVal(f(text))}, nil
	}
}

func runRepeat(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	count := int(cfg.Int("count"))
	return map[string]cty.Value{"output": ptype.BytesVal(bytes.Repeat(data, count))}, nil
}

func runTakeBytes(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	start := int(cfg.Int("start"))
	if start > len(data) {
		start = len(data)
	}
	end := len(data)
	if cfg.Has("length") {
		if n := start + int(cfg.Int("length")); n < end {
			end = n
		}
	}
	out := make([]byte, end-start)
	copy(out, data[start:end])
	return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
}

func runConcat(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
	left, err := ptype.AsBytes(in["left"])
	if err != nil {
		return nil, err
	}
	right, err := ptype.AsBytes(in["right"])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
}

func compress(data []byte, format string, level int) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch format {
	case "gzip":
		w, err = gzip.NewWriterLevel(&buf, level)
	case "raw":
		w, err = flate.NewWriter(&buf, level)
	default:
		w, err = zlib.NewWriterLevel(&buf, level)
	}
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte, format string) ([]byte, error) {
	var r io.ReadCloser
	var err error
	switch format {
	case "gzip":
		r, err = gzip.NewReader(bytes.NewReader(data))
	case "raw":
		r = flate.NewReader(bytes.NewReader(data))
	default:
		r, err = zlib.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("invalid compressed stream: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("invalid compressed stream: %w", err)
	}
	return out, nil
}

func runCompress(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	format := cfg.Text("format")
	if cfg.Text("mode") == "decompress" {
		out, err := decompress(data, format)
		if err != nil {
			return nil, err
		}
		return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
	}
	out, err := compress(data, format, int(cfg.Int("level")))
	if err != nil {
		return nil, err
	}
	return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
}

func bytesPorts() []op.PortSpec {
	return []op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}}
}

func bytesOut() []op.PortSpec {
	return []op.PortSpec{{Name: "output", Type: ptype.Bytes}}
}

// Register registers the transform operations with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	specs := []struct {
		spec op.Spec
		fn   op.Func
	}{
		{
			spec: op.Spec{
				ID:          "reverse_bytes",
				DisplayName: "Reverse Bytes",
				Category:    "transform",
				Inputs:      bytesPorts(),
				Outputs:     bytesOut(),
				Config:      schema.Empty(),
			},
			fn: runReverseBytes,
		},
		{
			spec: op.Spec{
				ID:          "uppercase_text",
				DisplayName: "Uppercase",
				Category:    "transform",
				Inputs:      []op.PortSpec{{Name: "text", Type: ptype.Text, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Text}},
				Config:      schema.Empty(),
			},
			fn: textCase(strings.ToUpper),
		},
		{
			spec: op.Spec{
				ID:          "lowercase_text",
				DisplayName: "Lowercase",
				Category:    "transform",
				Inputs:      []op.PortSpec{{Name: "text", Type: ptype.Text, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Text}},
				Config:      schema.Empty(),
			},
			fn: textCase(strings.ToLower),
		},
		{
			spec: op.Spec{
				ID:          "repeat",
				DisplayName: "Repeat",
				Category:    "transform",
				Inputs:      bytesPorts(),
				Outputs:     bytesOut(),
				Config: schema.New(schema.Attribute{
					Name:    "count",
					Type:    cty.Number,
					Min:     schema.Int64(0),
					Max:     schema.Int64(1 << 20),
					Default: schema.DefaultInt(2),
				}),
			},
			fn: runRepeat,
		},
		{
			spec: op.Spec{
				ID:          "take_bytes",
				DisplayName: "Take Bytes",
				Category:    "transform",
				Inputs:      bytesPorts(),
				Outputs:     bytesOut(),
				Config: schema.New(
					schema.Attribute{
						Name:    "start",
						Type:    cty.Number,
						Min:     schema.Int64(0),
						Default: schema.DefaultInt(0),
					},
					schema.Attribute{
						Name: "length",
						Type: cty.Number,
						Min:  schema.Int64(0),
					},
				),
			},
			fn: runTakeBytes,
		},
		{
			spec: op.Spec{
				ID:          "concat",
				DisplayName: "Concatenate",
				Category:    "transform",
				Inputs: []op.PortSpec{
					{Name: "left", Type: ptype.Bytes, Required: true},
					{Name: "right", Type: ptype.Bytes, Required: true},
				},
				Outputs: bytesOut(),
				Config:  schema.Empty(),
			},
			fn: runConcat,
		},
		{
			spec: op.Spec{
				ID:          "compress",
				DisplayName: "Compress",
				Category:    "transform",
				Inputs:      bytesPorts(),
				Outputs:     bytesOut(),
				Config: schema.New(
					schema.Attribute{
						Name:    "mode",
						Type:    cty.String,
						OneOf:   schema.Strings("compress", "decompress"),
						Default: schema.DefaultString("compress"),
					},
					schema.Attribute{
						Name:    "format",
						Type:    cty.String,
						OneOf:   schema.Strings("zlib", "gzip", "raw"),
						Default: schema.DefaultString("zlib"),
					},
					schema.Attribute{
						Name:    "level",
						Type:    cty.Number,
						Min:     schema.Int64(-1),
						Max:     schema.Int64(9),
						Default: schema.DefaultInt(-1),
					},
				),
			},
			fn: runCompress,
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
