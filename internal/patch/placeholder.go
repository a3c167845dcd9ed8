package patch

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Placeholders are the PNG images handed out when no real or patched tile
// exists.
type Placeholders struct {
	Loading     []byte
	Unavailable []byte
}

// NewPlaceholders loads both images from disk. An empty path selects a
// generated image with a text label instead.
func NewPlaceholders(tileSize int, loadingPath, unavailablePath string) (*Placeholders, error) {
	loading, err := loadOrDraw(loadingPath, tileSize, "loading...", color.RGBA{200, 220, 255, 255})
	if err != nil {
		return nil, err
	}
	unavailable, err := loadOrDraw(unavailablePath, tileSize, "no tile", color.RGBA{230, 230, 230, 255})
	if err != nil {
		return nil, err
	}
	return &Placeholders{Loading: loading, Unavailable: unavailable}, nil
}

func loadOrDraw(path string, tileSize int, label string, bg color.Color) ([]byte, error) {
	if path == "" {
		return drawPlaceholder(tileSize, label, bg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read placeholder image: %w", err)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("placeholder %s is not an image: %w", path, err)
	}
	return data, nil
}

// drawPlaceholder renders a flat tile with a centered label and a thin frame.
func drawPlaceholder(tileSize int, label string, bg color.Color) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{bg}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Round()
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{90, 90, 90, 255}),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I((tileSize - textWidth) / 2),
			Y: fixed.I(tileSize/2 + face.Metrics().Ascent.Round()/2),
		},
	}
	d.DrawString(label)

	border := &image.Uniform{color.RGBA{160, 160, 160, 255}}
	last := tileSize - 1
	draw.Draw(img, image.Rect(0, 0, tileSize, 1), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, last, tileSize, tileSize), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, 1, tileSize), border, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(last, 0, tileSize, tileSize), border, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
