package imagery

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
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

// testPNG renders a 4x2 image with one red corner pixel so orientation
// changes are observable.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPNGDecode(t *testing.T) {
	r := newRegistry(t)

	out, err := testutil.Invoke(t, r, "png_decode",
		map[string]cty.Value{"data": ptype.BytesVal(testPNG(t))}, nil)
	require.NoError(t, err)

	w, err := ptype.AsInt(out["width"])
	require.NoError(t, err)
	h, err := ptype.AsInt(out["height"])
	require.NoError(t, err)
	assert.Equal(t, int64(4), w)
	assert.Equal(t, int64(2), h)

	t.Run("garbage input", func(t *testing.T) {
		_, err := testutil.Invoke(t, r, "png_decode",
			map[string]cty.Value{"data": ptype.BytesVal([]byte("not a png"))}, nil)
		assert.ErrorContains(t, err, "decoding PNG")
	})
}

func TestPNGEncodeRoundTrip(t *testing.T) {
	r := newRegistry(t)

	decoded, err := testutil.Invoke(t, r, "png_decode",
		map[string]cty.Value{"data": ptype.BytesVal(testPNG(t))}, nil)
	require.NoError(t, err)

	encoded, err := testutil.Invoke(t, r, "png_encode",
		map[string]cty.Value{"image": decoded["output"]}, nil)
	require.NoError(t, err)

	raw, err := ptype.AsBytes(encoded["output"])
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
}

func TestImageTransformFlip(t *testing.T) {
	r := newRegistry(t)

	decoded, err := testutil.Invoke(t, r, "png_decode",
		map[string]cty.Value{"data": ptype.BytesVal(testPNG(t))}, nil)
	require.NoError(t, err)

	flipped, err := testutil.Invoke(t, r, "image_transform",
		map[string]cty.Value{"image": decoded["output"]},
		map[string]cty.Value{"operation": cty.StringVal("flip_horizontal")})
	require.NoError(t, err)

	img, err := ptype.AsImage(flipped["output"])
	require.NoError(t, err)

	// The red marker moves from (0,0) to the opposite horizontal edge.
	red, _, _, _ := img.At(3, 0).RGBA()
	assert.NotZero(t, red)
	red, _, _, _ = img.At(0, 0).RGBA()
	assert.Zero(t, red)
}

func TestImageTransformRotateSwapsDimensions(t *testing.T) {
	r := newRegistry(t)

	decoded, err := testutil.Invoke(t, r, "png_decode",
		map[string]cty.Value{"data": ptype.BytesVal(testPNG(t))}, nil)
	require.NoError(t, err)

	rotated, err := testutil.Invoke(t, r, "image_transform",
		map[string]cty.Value{"image": decoded["output"]},
		map[string]cty.Value{"operation": cty.StringVal("rotate_90")})
	require.NoError(t, err)

	img, err := ptype.AsImage(rotated["output"])
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestImageResize(t *testing.T) {
	r := newRegistry(t)

	decoded, err := testutil.Invoke(t, r, "png_decode",
		map[string]cty.Value{"data": ptype.BytesVal(testPNG(t))}, nil)
	require.NoError(t, err)

	resized, err := testutil.Invoke(t, r, "image_resize",
		map[string]cty.Value{"image": decoded["output"]},
		map[string]cty.Value{"width": cty.NumberIntVal(8), "height": cty.NumberIntVal(4)})
	require.NoError(t, err)

	img, err := ptype.AsImage(resized["output"])
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	t.Run("both dimensions zero", func(t *testing.T) {
		_, err := testutil.Invoke(t, r, "image_resize",
			map[string]cty.Value{"image": decoded["output"]}, nil)
		assert.ErrorContains(t, err, "must not both be zero")
	})
}
