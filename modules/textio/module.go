// Package textio provides the source and sink operations at the edges of a
// pipeline: literal text and hex inputs, file loading, text/bytes conversion,
// and the terminal output sink.
package textio

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/ctxlog"
	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
// ReadFile is swappable so tests can feed file_input without touching disk.
type Module struct {
	ReadFile func(path string) ([]byte, error)
}

func (m *Module) readFile() func(string) ([]byte, error) {
	if m.ReadFile != nil {
		return m.ReadFile
	}
	return os.ReadFile
}

func runTextInput(_ context.Context, _ map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	return map[string]cty.Value{"output": ptype.TextVal(cfg.Text("text"))}, nil
}

func runHexInput(_ context.Context, _ map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, cfg.Text("hex"))
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex literal: %w", err)
	}
	return map[string]cty.Value{"output": ptype.BytesVal(data)}, nil
}

func (m *Module) runFileInput(_ context.Context, _ map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	path := cfg.Text("path")
	data, err := m.readFile()(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	return map[string]cty.Value{"output": ptype.BytesVal(data)}, nil
}

func runTextEncode(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
	text, err := ptype.AsText(in["text"])
	if err != nil {
		return nil, err
	}
	return map[string]cty.Value{"output": ptype.BytesVal([]byte(text))}, nil
}

func runTextDecode(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		if cfg.Text("errors") == "strict" {
			return nil, fmt.Errorf("input is not valid UTF-8")
		}
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	return map[string]cty.Value{"output": ptype.TextVal(string(data))}, nil
}

func runOutput(ctx context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	logger := ctxlog.FromContext(ctx)
	v := in["input"]

	var rendered string
	switch {
	case v.Type().Equals(ptype.BytesCty):
		data, _ := ptype.AsBytes(v)
		rendered = hex.EncodeToString(data)
	case v.Type() == cty.String:
		rendered = v.AsString()
	default:
		rendered = v.Type().FriendlyName()
	}
	logger.Info("Pipeline output.", "label", cfg.Text("label"), "value", rendered)
	return map[string]cty.Value{}, nil
}

// Register registers the text and file operations with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	specs := []struct {
		spec op.Spec
		fn   op.Func
	}{
		{
			spec: op.Spec{
				ID:          "text_input",
				DisplayName: "Text Input",
				Category:    "input",
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Text}},
				Config: schema.New(schema.Attribute{
					Name:    "text",
					Type:    cty.String,
					Default: schema.DefaultString(""),
				}),
			},
			fn: runTextInput,
		},
		{
			spec: op.Spec{
				ID:          "hex_input",
				DisplayName: "Hex Input",
				Category:    "input",
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config: schema.New(schema.Attribute{
					Name:        "hex",
					Type:        cty.String,
					Description: "Hex digits; whitespace is ignored.",
					Default:     schema.DefaultString(""),
				}),
			},
			fn: runHexInput,
		},
		{
			spec: op.Spec{
				ID:          "file_input",
				DisplayName: "File Input",
				Category:    "input",
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config: schema.New(schema.Attribute{
					Name:     "path",
					Type:     cty.String,
					Required: true,
				}),
			},
			fn: m.runFileInput,
		},
		{
			spec: op.Spec{
				ID:          "text_encode",
				DisplayName: "Text Encode",
				Category:    "convert",
				Inputs:      []op.PortSpec{{Name: "text", Type: ptype.Text, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config:      schema.Empty(),
			},
			fn: runTextEncode,
		},
		{
			spec: op.Spec{
				ID:          "text_decode",
				DisplayName: "Text Decode",
				Category:    "convert",
				Inputs:      []op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Text}},
				Config: schema.New(schema.Attribute{
					Name:    "errors",
					Type:    cty.String,
					OneOf:   schema.Strings("strict", "replace"),
					Default: schema.DefaultString("strict"),
				}),
			},
			fn: runTextDecode,
		},
		{
			spec: op.Spec{
				ID:          "output",
				DisplayName: "Output",
				Category:    "output",
				Inputs:      []op.PortSpec{{Name: "input", Type: ptype.Any, Required: true}},
				Config: schema.New(schema.Attribute{
					Name:    "label",
					Type:    cty.String,
					Default: schema.DefaultString(""),
				}),
			},
			fn: runOutput,
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
