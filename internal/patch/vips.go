package patch

import (
	"fmt"

	"github.com/cshum/vipsgen/vips"
)

// VipsCropper crops with libvips. vips.Startup must have been called.
type VipsCropper struct{}

func (VipsCropper) Crop(src []byte, x, y, size, outSize int) ([]byte, error) {
	if size <= 0 || outSize <= 0 {
		return nil, fmt.Errorf("invalid crop size %d -> %d", size, outSize)
	}

	image, err := vips.NewImageFromBuffer(src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile: %w", err)
	}
	defer image.Close()

	rect := sourceRect(image.Width(), image.Height(), x, y, size, outSize)
	if rect.Empty() {
		return nil, fmt.Errorf("crop %d,%d+%d outside of %dx%d tile", x, y, size, image.Width(), image.Height())
	}

	// Step 1: cut the sub-square of the parent tile
	if err := image.ExtractArea(rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	// Step 2: blow it up to a full tile
	resizeOpts := vips.DefaultResizeOptions()
	resizeOpts.Kernel = vips.KernelLanczos3
	if err := image.Resize(float64(outSize)/float64(rect.Dx()), resizeOpts); err != nil {
		return nil, fmt.Errorf("failed to resize: %w", err)
	}

	// Step 3: edge tiles clipped by the source bounds are padded back to a square
	if w, h := image.Width(), image.Height(); w < outSize || h < outSize {
		embedOpts := vips.DefaultEmbedOptions()
		embedOpts.Extend = vips.ExtendBackground
		embedOpts.Background = []float64{221, 221, 221}
		if err := image.Embed(0, 0, outSize, outSize, embedOpts); err != nil {
			return nil, fmt.Errorf("failed to pad: %w", err)
		}
	}

	data, err := image.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	return data, nil
}

// NewCropper returns the cropper for a PATCH_BACKEND value.
func NewCropper(backend string) (Cropper, error) {
	switch backend {
	case "go", "":
		return GoCropper{}, nil
	case "vips":
		return VipsCropper{}, nil
	default:
		return nil, fmt.Errorf("unknown patch backend: %s (supported: go, vips)", backend)
	}
}
