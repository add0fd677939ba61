package zones

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

var errNoImages = errors.New("zones: nothing to stitch")

// stitchVertical decodes PNG shots and stacks them top to bottom on a white
// canvas as wide as the widest shot.
func stitchVertical(shots [][]byte) ([]byte, error) {
	if len(shots) == 0 {
		return nil, errNoImages
	}
	imgs := make([]image.Image, 0, len(shots))
	width, height := 0, 0
	for i, s := range shots {
		img, err := png.Decode(bytes.NewReader(s))
		if err != nil {
			return nil, fmt.Errorf("zones: decode shot %d: %w", i, err)
		}
		b := img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
		imgs = append(imgs, img)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		draw.Draw(canvas, image.Rect(0, y, b.Dx(), y+b.Dy()), img, b.Min, draw.Over)
		y += b.Dy()
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("zones: encode stitched image: %w", err)
	}
	return buf.Bytes(), nil
}
