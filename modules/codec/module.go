// Package codec provides the reversible encoding operations: base64, hex,
// percent-encoding, and the classical letter substitutions.
package codec

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func base64Encoding(alphabet string, padding bool) *base64.Encoding {
	enc := base64.StdEncoding
	if alphabet == "url" {
		enc = base64.URLEncoding
	}
	if !padding {
		enc = enc.WithPadding(base64.NoPadding)
	}
	return enc
}

func runBase64(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	enc := base64Encoding(cfg.Text("alphabet"), cfg.Text("padding") != "none")

	if cfg.Text("mode") == "decode" {
		out, err := enc.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 input: %w", err)
		}
		return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
	}
	return map[string]cty.Value{"output": ptype.BytesVal([]byte(enc.EncodeToString(data)))}, nil
}

func runHexCodec(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	if cfg.Text("mode") == "decode" {
		out, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("invalid hex input: %w", err)
		}
		return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
	}
	return map[string]cty.Value{"output": ptype.BytesVal([]byte(hex.EncodeToString(data)))}, nil
}

func runURLCodec(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	text, err := ptype.AsText(in["text"])
	if err != nil {
		return nil, err
	}
	if cfg.Text("mode") == "decode" {
		out, err := url.QueryUnescape(text)
		if err != nil {
			return nil, fmt.Errorf("invalid percent-encoding: %w", err)
		}
		return map[string]cty.Value{"output": ptype.TextVal(out)}, nil
	}
	return map[string]cty.Value{"output": ptype.TextVal(url.QueryEscape(text))}, nil
}

// rotate shifts letters by n positions, wrapping within each case. Other
// runes pass through untouched.
func rotate(text string, n int64) string {
	shift := byte(((n % 26) + 26) % 26)
	out := []byte(text)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = 'a' + (c-'a'+shift)%26
		case c >= 'A' && c <= 'Z':
			out[i] = 'A' + (c-'A'+shift)%26
		}
	}
	return string(out)
}

func runRot(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	text, err := ptype.AsText(in["text"])
	if err != nil {
		return nil, err
	}
	n := cfg.Int("rotation")
	if cfg.Text("mode") == "decode" {
		n = -n
	}
	return map[string]cty.Value{"output": ptype.TextVal(rotate(text, n))}, nil
}

func runAtbash(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
	text, err := ptype.AsText(in["text"])
	if err != nil {
		return nil, err
	}
	out := []byte(text)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = 'z' - (c - 'a')
		case c >= 'A' && c <= 'Z':
			out[i] = 'Z' - (c - 'A')
		}
	}
	return map[string]cty.Value{"output": ptype.TextVal(string(out))}, nil
}

func modeAttr() schema.Attribute {
	return schema.Attribute{
		Name:    "mode",
		Type:    cty.String,
		OneOf:   schema.Strings("encode", "decode"),
		Default: schema.DefaultString("encode"),
	}
}

// Register registers the codec operations with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	specs := []struct {
		spec op.Spec
		fn   op.Func
	}{
		{
			spec: op.Spec{
				ID:          "base64",
				DisplayName: "Base64",
				Category:    "codec",
				Inputs:      []op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config: schema.New(
					modeAttr(),
					schema.Attribute{
						Name:    "alphabet",
						Type:    cty.String,
						OneOf:   schema.Strings("standard", "url"),
						Default: schema.DefaultString("standard"),
					},
					schema.Attribute{
						Name:    "padding",
						Type:    cty.String,
						OneOf:   schema.Strings("standard", "none"),
						Default: schema.DefaultString("standard"),
					},
				),
			},
			fn: runBase64,
		},
		{
			spec: op.Spec{
				ID:          "hex",
				DisplayName: "Hex",
				Category:    "codec",
				Inputs:      []op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config:      schema.New(modeAttr()),
			},
			fn: runHexCodec,
		},
		{
			spec: op.Spec{
				ID:          "url_encode",
				DisplayName: "URL Encode",
				Category:    "codec",
				Inputs:      []op.PortSpec{{Name: "text", Type: ptype.Text, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Text}},
				Config:      schema.New(modeAttr()),
			},
			fn: runURLCodec,
		},
		{
			spec: op.Spec{
				ID:          "rot",
				DisplayName: "ROT Cipher",
				Category:    "codec",
				Inputs:      []op.PortSpec{{Name: "text", Type: ptype.Text, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Text}},
				Config: schema.New(
					modeAttr(),
					schema.Attribute{
						Name:    "rotation",
						Type:    cty.Number,
						Min:     schema.Int64(1),
						Max:     schema.Int64(25),
						Default: schema.DefaultInt(13),
					},
				),
			},
			fn: runRot,
		},
		{
			spec: op.Spec{
				ID:          "atbash",
				DisplayName: "Atbash",
				Category:    "codec",
				Inputs:      []op.PortSpec{{Name: "text", Type: ptype.Text, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Text}},
				Config:      schema.Empty(),
			},
			fn: runAtbash,
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
