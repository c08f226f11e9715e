package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/testutil"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, r.Install(&Module{}))
	return r
}

func TestJSONParse(t *testing.T) {
	r := newRegistry(t)

	out, err := testutil.Invoke(t, r, "json_parse",
		map[string]cty.Value{"data": ptype.BytesVal([]byte(`{"name":"flow","count":3}`))}, nil)
	require.NoError(t, err)

	v := out["output"]
	require.True(t, v.Type().IsObjectType())
	assert.Equal(t, "flow", v.GetAttr("name").AsString())
	n, _ := v.GetAttr("count").AsBigFloat().Int64()
	assert.Equal(t, int64(3), n)

	t.Run("scalar top level rejected", func(t *testing.T) {
		_, err := testutil.Invoke(t, r, "json_parse",
			map[string]cty.Value{"data": ptype.BytesVal([]byte(`42`))}, nil)
		assert.ErrorContains(t, err, "object or array")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := testutil.Invoke(t, r, "json_parse",
			map[string]cty.Value{"data": ptype.BytesVal([]byte(`{"x":`))}, nil)
		assert.ErrorContains(t, err, "invalid JSON")
	})
}

func TestJSONFormatRoundTrip(t *testing.T) {
	r := newRegistry(t)
	src := []byte(`{"a":[1,2],"b":"x"}`)

	parsed, err := testutil.Invoke(t, r, "json_parse",
		map[string]cty.Value{"data": ptype.BytesVal(src)}, nil)
	require.NoError(t, err)

	formatted, err := testutil.Invoke(t, r, "json_format",
		map[string]cty.Value{"value": parsed["output"]}, nil)
	require.NoError(t, err)

	raw, err := ptype.AsBytes(formatted["output"])
	require.NoError(t, err)
	assert.JSONEq(t, string(src), string(raw))

	t.Run("indented", func(t *testing.T) {
		formatted, err := testutil.Invoke(t, r, "json_format",
			map[string]cty.Value{"value": parsed["output"]},
			map[string]cty.Value{"indent": cty.StringVal("  ")})
		require.NoError(t, err)
		raw, err := ptype.AsBytes(formatted["output"])
		require.NoError(t, err)
		assert.Contains(t, string(raw), "\n")
		assert.JSONEq(t, string(src), string(raw))
	})
}

func TestJSONPath(t *testing.T) {
	r := newRegistry(t)
	src := []byte(`{"items":[{"name":"first"},{"name":"second"}]}`)

	parsed, err := testutil.Invoke(t, r, "json_parse",
		map[string]cty.Value{"data": ptype.BytesVal(src)}, nil)
	require.NoError(t, err)
	value := parsed["output"]

	out, err := testutil.Invoke(t, r, "json_path",
		map[string]cty.Value{"value": value},
		map[string]cty.Value{"path": cty.StringVal("items.1.name")})
	require.NoError(t, err)
	assert.Equal(t, "second", out["output"].AsString())

	t.Run("empty path is identity", func(t *testing.T) {
		out, err := testutil.Invoke(t, r, "json_path",
			map[string]cty.Value{"value": value}, nil)
		require.NoError(t, err)
		assert.True(t, out["output"].RawEquals(value))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := testutil.Invoke(t, r, "json_path",
			map[string]cty.Value{"value": value},
			map[string]cty.Value{"path": cty.StringVal("nope")})
		assert.ErrorContains(t, err, "no attribute")
	})

	t.Run("index out of range", func(t *testing.T) {
		_, err := testutil.Invoke(t, r, "json_path",
			map[string]cty.Value{"value": value},
			map[string]cty.Value{"path": cty.StringVal("items.9")})
		assert.ErrorContains(t, err, "out of range")
	})
}
