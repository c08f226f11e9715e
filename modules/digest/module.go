// Package digest provides the hash operations. Every digest emits the raw
// bytes on "output" and the lowercase hex rendering on "hex", so consumers
// pick the form they need without a conversion node.
package digest

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func digestOp(newHash func() hash.Hash) op.Func {
	return func(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
		data, err := ptype.AsBytes(in["data"])
		if err != nil {
			return nil, err
		}
		h := newHash()
		h.Write(data)
		sum := h.Sum(nil)
		return map[string]cty.Value{
			"output": ptype.BytesVal(sum),
			"hex":    ptype.TextVal(hex.EncodeToString(sum)),
		}, nil
	}
}

// Register registers the digest operations with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	algorithms := []struct {
		id      string
		display string
		newHash func() hash.Hash
	}{
		{"md5", "MD5", md5.New},
		{"sha1", "SHA-1", sha1.New},
		{"sha256", "SHA-256", sha256.New},
		{"sha512", "SHA-512", sha512.New},
	}

	for _, alg := range algorithms {
		spec := op.Spec{
			ID:          alg.id,
			DisplayName: alg.display,
			Category:    "digest",
			Inputs:      []op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}},
			Outputs: []op.PortSpec{
				{Name: "output", Type: ptype.Bytes, Description: "Raw digest bytes."},
				{Name: "hex", Type: ptype.Text, Description: "Lowercase hex rendering."},
			},
			Config: schema.Empty(),
		}
		fn := digestOp(alg.newHash)
		if err := r.Register(spec, func() op.Operation { return fn }); err != nil {
			return err
		}
	}
	return nil
}
