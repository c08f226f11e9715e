// Package imagery provides the image operations: PNG decode/encode and the
// pixel transforms backed by the imaging library.
package imagery

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/byteflow/internal/op"
	"github.com/vk/byteflow/internal/ptype"
	"github.com/vk/byteflow/internal/registry"
	"github.com/vk/byteflow/internal/schema"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func runPNGDecode(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
	data, err := ptype.AsBytes(in["data"])
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding PNG: %w", err)
	}
	bounds := img.Bounds()
	return map[string]cty.Value{
		"output": ptype.ImageVal(img),
		"width":  ptype.IntVal(int64(bounds.Dx())),
		"height": ptype.IntVal(int64(bounds.Dy())),
	}, nil
}

func runPNGEncode(_ context.Context, in map[string]cty.Value, _ op.Config) (map[string]cty.Value, error) {
	img, err := ptype.AsImage(in["image"])
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return map[string]cty.Value{"output": ptype.BytesVal(buf.Bytes())}, nil
}

func runImageTransform(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	img, err := ptype.AsImage(in["image"])
	if err != nil {
		return nil, err
	}
	var out image.Image
	switch o := cfg.Text("operation"); o {
	case "grayscale":
		out = imaging.Grayscale(img)
	case "invert":
		out = imaging.Invert(img)
	case "flip_horizontal":
		out = imaging.FlipH(img)
	case "flip_vertical":
		out = imaging.FlipV(img)
	case "rotate_90":
		out = imaging.Rotate90(img)
	case "rotate_180":
		out = imaging.Rotate180(img)
	case "rotate_270":
		out = imaging.Rotate270(img)
	case "blur":
		out = imaging.Blur(img, 1.5)
	case "sharpen":
		out = imaging.Sharpen(img, 1.5)
	default:
		return nil, fmt.Errorf("unknown image operation %q", o)
	}
	return map[string]cty.Value{"output": ptype.ImageVal(out)}, nil
}

func runImageResize(_ context.Context, in map[string]cty.Value, cfg op.Config) (map[string]cty.Value, error) {
	img, err := ptype.AsImage(in["image"])
	if err != nil {
		return nil, err
	}
	w := int(cfg.Int("width"))
	h := int(cfg.Int("height"))
	if w == 0 && h == 0 {
		return nil, fmt.Errorf("width and height must not both be zero")
	}
	out := imaging.Resize(img, w, h, imaging.Lanczos)
	return map[string]cty.Value{"output": ptype.ImageVal(out)}, nil
}

// Register registers the image operations with the catalog.
func (m *Module) Register(r *registry.Registry) error {
	specs := []struct {
		spec op.Spec
		fn   op.Func
	}{
		{
			spec: op.Spec{
				ID:          "png_decode",
				DisplayName: "PNG Decode",
				Category:    "image",
				Inputs:      []op.PortSpec{{Name: "data", Type: ptype.Bytes, Required: true}},
				Outputs: []op.PortSpec{
					{Name: "output", Type: ptype.Image},
					{Name: "width", Type: ptype.Integer},
					{Name: "height", Type: ptype.Integer},
				},
				Config: schema.Empty(),
			},
			fn: runPNGDecode,
		},
		{
			spec: op.Spec{
				ID:          "png_encode",
				DisplayName: "PNG Encode",
				Category:    "image",
				Inputs:      []op.PortSpec{{Name: "image", Type: ptype.Image, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Bytes}},
				Config:      schema.Empty(),
			},
			fn: runPNGEncode,
		},
		{
			spec: op.Spec{
				ID:          "image_transform",
				DisplayName: "Image Transform",
				Category:    "image",
				Inputs:      []op.PortSpec{{Name: "image", Type: ptype.Image, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Image}},
				Config: schema.New(schema.Attribute{
					Name: "operation",
					Type: cty.String,
					OneOf: schema.Strings("grayscale", "invert", "flip_horizontal",
						"flip_vertical", "rotate_90", "rotate_180", "rotate_270", "blur", "sharpen"),
					Default: schema.DefaultString("grayscale"),
				}),
			},
			fn: runImageTransform,
		},
		{
			spec: op.Spec{
				ID:          "image_resize",
				DisplayName: "Image Resize",
				Category:    "image",
				Inputs:      []op.PortSpec{{Name: "image", Type: ptype.Image, Required: true}},
				Outputs:     []op.PortSpec{{Name: "output", Type: ptype.Image}},
				Config: schema.New(
					schema.Attribute{
						Name:        "width",
						Type:        cty.Number,
						Min:         schema.Int64(0),
						Max:         schema.Int64(1 << 14),
						Default:     schema.DefaultInt(0),
						Description: "Zero preserves the aspect ratio from height.",
					},
					schema.Attribute{
						Name:        "height",
						Type:        cty.Number,
						Min:         schema.Int64(0),
						Max:         schema.Int64(1 << 14),
						Default:     schema.DefaultInt(0),
						Description: "Zero preserves the aspect ratio from width.",
					},
				),
			},
			fn: runImageResize,
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
