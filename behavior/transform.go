package behavior

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"

	"github.com/pkg/errors"
)

// Transformer transforms an encoded image.
type Transformer interface {
	Transform(ctx context.Context, img []byte) ([]byte, error)
}

// TransformerFunc is an adapter allowing a function to be used as a Transformer.
type TransformerFunc func(ctx context.Context, img []byte) ([]byte, error)

// Transform transforms the image.
func (f TransformerFunc) Transform(ctx context.Context, img []byte) ([]byte, error) {
	return f(ctx, img)
}

// BoxBlur returns a transformer applying a box blur with the given radius
// to png images.
func BoxBlur(radius int) Transformer {
	return TransformerFunc(func(ctx context.Context, b []byte) ([]byte, error) {
		src, err := png.Decode(bytes.NewReader(b))
		if err != nil {
			return nil, errors.Wrap(err, "behavior: error decoding png")
		}

		bounds := src.Bounds()
		dst := image.NewNRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				dst.Set(x, y, average(src, bounds, x, y, radius))
			}
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, dst); err != nil {
			return nil, errors.Wrap(err, "behavior: error encoding png")
		}
		return buf.Bytes(), nil
	})
}

func average(src image.Image, bounds image.Rectangle, x, y, radius int) color.NRGBA64 {
	var r, g, b, a, n uint64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			p := image.Pt(x+dx, y+dy)
			if !p.In(bounds) {
				continue
			}

			cr, cg, cb, ca := src.At(p.X, p.Y).RGBA()
			r += uint64(cr)
			g += uint64(cg)
			b += uint64(cb)
			a += uint64(ca)
			n++
		}
	}

	c := color.RGBA64{R: uint16(r / n), G: uint16(g / n), B: uint16(b / n), A: uint16(a / n)}
	return color.NRGBA64Model.Convert(c).(color.NRGBA64)
}
