package patch

import (
	"go.uber.org/zap"

	"slippyview/internal/metrics"
	"slippyview/internal/tile"
)

// MinSize is the smallest crop edge, in pixels, still worth scaling up.
const MinSize = 32

// Kinds of images the resolver hands out, used as the metrics label.
const (
	KindPatch       = "patch"
	KindPlaceholder = "placeholder"
)

// Source is the read side of the tile cache.
type Source interface {
	Has(addr tile.Address) bool
	Read(addr tile.Address) ([]byte, error)
}

// Resolver builds stand-ins for tiles that are not cached yet by cropping
// the matching sub-square out of the closest cached ancestor.
type Resolver struct {
	source       Source
	cropper      Cropper
	placeholders *Placeholders
	tileSize     int
	logger       *zap.Logger
}

func NewResolver(source Source, cropper Cropper, placeholders *Placeholders, tileSize int, logger *zap.Logger) *Resolver {
	return &Resolver{
		source:       source,
		cropper:      cropper,
		placeholders: placeholders,
		tileSize:     tileSize,
		logger:       logger,
	}
}

// Patch returns a stand-in for addr and whether it came from an ancestor
// tile rather than the loading placeholder.
func (r *Resolver) Patch(addr tile.Address) ([]byte, bool) {
	addr = addr.Normalize()
	data, kind := r.resolve(addr.Zoom, addr.X, addr.Y, 0, 0, r.tileSize)
	metrics.Patches.WithLabelValues(kind).Inc()
	return data, kind == KindPatch
}

// Resolve walks up the pyramid from tile (zoom, x, y). offX, offY and size
// describe the square of that tile still to be covered, in its own pixels.
// Every level halves size, so the walk ends at zoom 0 or below MinSize.
func (r *Resolver) Resolve(zoom, x, y, offX, offY, size int) []byte {
	data, _ := r.resolve(zoom, x, y, offX, offY, size)
	return data
}

func (r *Resolver) resolve(zoom, x, y, offX, offY, size int) ([]byte, string) {
	if zoom <= 0 || size < MinSize {
		return r.placeholders.Loading, KindPlaceholder
	}

	parent := tile.Address{Zoom: zoom - 1, X: x / 2, Y: y / 2}
	offX = offX/2 + (x%2)*r.tileSize/2
	offY = offY/2 + (y%2)*r.tileSize/2

	if !r.source.Has(parent) {
		return r.resolve(parent.Zoom, parent.X, parent.Y, offX, offY, size/2)
	}

	data, err := r.source.Read(parent)
	if err != nil {
		r.logger.Warn("Failed to read patch source", zap.String("tile", parent.String()), zap.Error(err))
		return r.placeholders.Loading, KindPlaceholder
	}

	out, err := r.cropper.Crop(data, offX, offY, size/2, r.tileSize)
	if err != nil {
		r.logger.Warn("Failed to crop patch",
			zap.String("tile", parent.String()),
			zap.Int("offset_x", offX),
			zap.Int("offset_y", offY),
			zap.Int("size", size/2),
			zap.Error(err),
		)
		return r.placeholders.Loading, KindPlaceholder
	}
	return out, KindPatch
}
