// Package cipher provides the symmetric cipher operations. Keys and IVs
// arrive on optional input ports so they can be produced by upstream nodes;
// a hex-encoded config attribute serves as the fallback when the port is
// unconnected.
package cipher

import (
	"context"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rc4"
	"encoding/hex"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// keyMaterial resolves a byte parameter from its input port, falling back to
// the hex-encoded config attribute.
func keyMaterial(in map[string]cty.Value, cfg op.Config, port, attr string) ([]byte, error) {
	if v, ok := in[port]; ok {
		return ptype.AsBytes(v)
	}
	if !cfg.Has(attr) || cfg.Text(attr) == "" {
		return nil, fmt.Errorf("no %s provided: connect the %q port or set %q", port, port, attr)
	}
	material, err := hex.DecodeString(cfg.Text(attr))
	if err != nil {
		return nil, fmt.Errorf("invalid hex in %q: %w", attr, err)
	}
	return material, nil
}

func runXOR(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	key, err := keyMaterial(in, cfg, "key", "key_hex")
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("xor key must not be empty")
	}
	out := make([]byte, len(data))
	for i, c := range data {
		out[i] = c ^ key[i%len(key)]
	}
	return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
}

func runRC4(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	key, err := keyMaterial(in, cfg, "key", "key_hex")
	if err != nil {
		return nil, err
	}
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("rc4: %w", err)
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, c := range data[len(data)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

func runAES(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	key, err := keyMaterial(in, cfg, "key", "key_hex")
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}

	mode := cfg.Text("mode")
	decrypt := cfg.Text("operation") == "decrypt"

	var iv []byte
	if mode == "cbc" {
		iv, err = keyMaterial(in, cfg, "iv", "iv_hex")
		if err != nil {
			return nil, err
		}
		if len(iv) != aes.BlockSize {
			return nil, fmt.Errorf("iv must be %d bytes, got %d", aes.BlockSize, len(iv))
		}
	}

	var out []byte
	if decrypt {
		if len(data) == 0 || len(data)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(data))
		}
		out = make([]byte, len(data))
		if mode == "cbc" {
			stdcipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
		} else {
			for i := 0; i < len(data); i += aes.BlockSize {
				block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
			}
		}
		out, err = pkcs7Unpad(out, aes.BlockSize)
		if err != nil {
			return nil, err
		}
	} else {
		padded := pkcs7Pad(data, aes.BlockSize)
		out = make([]byte, len(padded))
		if mode == "cbc" {
			stdcipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		} else {
			for i := 0; i < len(padded); i += aes.BlockSize {
				block.Encrypt(out[i:i+aes.BlockSize], padded[i:i+aes.BlockSize])
			}
		}
	}
	return map[string]cty.Value{"output": ptype.BytesVal(out)}, nil
}

func keyPorts() []op.PortSpec {
	return []op.PortSpec{
		{Name: "data", Type: ptype.Bytes, Required: true},
		{Name: "key", Type: ptype.Bytes, Description: "Key material; falls back to key_hex when unconnected."},
	}
}

func keyHexAttr() schema.Attribute {
	return schema.Attribute{
		Name:    "key_hex",
		Type:    cty.String,
		Default: schema.DefaultString(""),
	}
}

// Register registers the cipher operations with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	specs := []struct {
		spec op.Spec
		fn   op.Func
	}{
		{
			spec: op.Spec{
				ID:          "xor",
				DisplayName: "XOR",
				Category:    "cipher",
				Inputs:      keyPorts(),
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config:      schema.New(keyHexAttr()),
			},
			fn: runXOR,
		},
		{
			spec: op.Spec{
				ID:          "rc4",
				DisplayName: "RC4",
				Category:    "cipher",
				Inputs:      keyPorts(),
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config:      schema.New(keyHexAttr()),
			},
			fn: runRC4,
		},
		{
			spec: op.Spec{
				ID:          "aes",
				DisplayName: "AES",
				Category:    "cipher",
				Inputs: append(keyPorts(),
					op.PortSpec{Name: "iv", Type: ptype.Bytes, Description: "CBC initialization vector; falls back to iv_hex."}),
				Outputs: []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config: schema.New(
					keyHexAttr(),
					schema.Attribute{
						Name:    "iv_hex",
						Type:    cty.String,
						Default: schema.DefaultString(""),
					},
					schema.Attribute{
						Name:    "mode",
						Type:    cty.String,
						OneOf:   schema.Strings("ecb", "cbc"),
						Default: schema.DefaultString("cbc"),
					},
					schema.Attribute{
						Name:    "operation",
						Type:    cty.String,
						OneOf:   schema.Strings("encrypt", "decrypt"),
						Default: schema.DefaultString("encrypt"),
					},
				),
			},
			fn: runAES,
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
