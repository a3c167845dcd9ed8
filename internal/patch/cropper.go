package patch

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// Cropper cuts the square (x, y, size) out of an encoded tile image and
// scales it to an outSize x outSize PNG. Coordinates are given in pixels of
// a tile with edge outSize; sources of another size are mapped proportionally.
type Cropper interface {
	Crop(src []byte, x, y, size, outSize int) ([]byte, error)
}

// GoCropper crops with the standard image decoders and x/image/draw.
// Nearest neighbour scaling keeps the patch pixelated, like the tile it came from.
type GoCropper struct{}

func (GoCropper) Crop(src []byte, x, y, size, outSize int) ([]byte, error) {
	if size <= 0 || outSize <= 0 {
		return nil, fmt.Errorf("invalid crop size %d -> %d", size, outSize)
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile: %w", err)
	}

	b := img.Bounds()
	rect := sourceRect(b.Dx(), b.Dy(), x, y, size, outSize).Add(b.Min)
	if rect.Empty() {
		return nil, fmt.Errorf("crop %d,%d+%d outside of %dx%d tile", x, y, size, b.Dx(), b.Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, outSize, outSize))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, rect, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	return buf.Bytes(), nil
}

// sourceRect maps the crop square from tile pixels onto a width x height
// source and clips it to the source bounds.
func sourceRect(width, height, x, y, size, tileSize int) image.Rectangle {
	sx := float64(width) / float64(tileSize)
	sy := float64(height) / float64(tileSize)
	r := image.Rect(
		int(float64(x)*sx),
		int(float64(y)*sy),
		int(float64(x+size)*sx),
		int(float64(y+size)*sy),
	)
	return r.Intersect(image.Rect(0, 0, width, height))
}
