package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/registry"
)

// Invoke instantiates a registered operation and runs it once with the given
// inputs and config, applying schema defaults first. Module tests use it to
// exercise an operation without building a graph.
func Invoke(t *testing.T, r *registry.Registry, id string,
	inputs map[string]cty.Value, cfg map[string]cty.Value) (map[string]cty.Value, error) {
	t.Helper()

	impl, spec, err := r.NewOperation(id)
	require.NoError(t, err)

	applied, err := spec.Config.Apply(cfg)
	require.NoError(t, err, "test config must satisfy the schema")

	return impl.Run(context.Background(), inputs, op.Config(applied))
}
