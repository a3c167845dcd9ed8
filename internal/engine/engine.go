package engine

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"slippyview/internal/cache"
	"slippyview/internal/download"
	"slippyview/internal/metrics"
	"slippyview/internal/patch"
	"slippyview/internal/tile"
)

// ErrOutOfRange is returned for addresses off the map or outside the
// configured zoom levels.
var ErrOutOfRange = errors.New("tile address out of range")

// State is what the engine can offer for one tile.
type State string

const (
	// StateCached: the real tile image.
	StateCached State = "cached"
	// StateUnavailable: the server does not have the tile.
	StateUnavailable State = "unavailable"
	// StatePending: a download is queued or running; a patch stands in.
	StatePending State = "pending"
	// StateMissing: no image and no download on the way; a patch stands in.
	StateMissing State = "missing"
)

// TileImage is the resolved image for one address.
type TileImage struct {
	Address tile.Address
	State   State
	Data    []byte
	// Patched is set when Data was cropped from a cached ancestor.
	Patched bool
}

// FrameTile is one slot of a rendered frame.
type FrameTile struct {
	tile.Slot
	State State `json:"state"`
}

// Frame is the result of a render pass.
type Frame struct {
	Center tile.GeoCoordinate `json:"center"`
	Zoom   int                `json:"zoom"`
	Range  tile.Range         `json:"range"`
	Tiles  []FrameTile        `json:"tiles"`
}

// View is the current map position.
type View struct {
	Center           tile.GeoCoordinate `json:"center"`
	Zoom             int                `json:"zoom"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	DownloadsEnabled bool               `json:"downloads_enabled"`
	Range            tile.Range         `json:"range"`
}

// Stats summarizes cache and download state.
type Stats struct {
	CacheTiles    int   `json:"cache_tiles"`
	CacheBytes    int64 `json:"cache_bytes"`
	CacheMaxBytes int64 `json:"cache_max_bytes"`
	QueueLength   int   `json:"queue_length"`
	InFlight      int   `json:"in_flight"`
	Unavailable   int   `json:"unavailable"`
	Workers       int   `json:"workers"`
}

type Options struct {
	TileSize         int
	MinZoom          int
	MaxZoom          int
	Zoom             int
	Center           tile.GeoCoordinate
	Width            int
	Height           int
	DownloadsEnabled bool
}

// Engine ties the projection, the tile store, the download queue and the
// patch resolver together for one map view. The range is only recomputed
// by methods that change the view.
type Engine struct {
	mu          sync.Mutex
	store       *cache.Store
	coordinator *download.Coordinator
	resolver    *patch.Resolver
	unavailable []byte
	logger      *zap.Logger

	tileSize, minZoom, maxZoom int

	center    tile.GeoCoordinate
	zoom      int
	width     int
	height    int
	downloads bool
	rng       tile.Range
	warned    bool
}

func New(opts Options, store *cache.Store, coordinator *download.Coordinator, resolver *patch.Resolver, placeholders *patch.Placeholders, logger *zap.Logger) *Engine {
	e := &Engine{
		store:       store,
		coordinator: coordinator,
		resolver:    resolver,
		unavailable: placeholders.Unavailable,
		logger:      logger,
		tileSize:    opts.TileSize,
		minZoom:     opts.MinZoom,
		maxZoom:     opts.MaxZoom,
		center:      opts.Center,
		zoom:        max(opts.MinZoom, min(opts.Zoom, opts.MaxZoom)),
		width:       opts.Width,
		height:      opts.Height,
		downloads:   opts.DownloadsEnabled,
	}
	e.updateRange()
	return e
}

func (e *Engine) updateRange() {
	e.rng = tile.ComputeRange(tile.Viewport{
		Width:    e.width,
		Height:   e.height,
		Center:   e.center,
		Zoom:     e.zoom,
		TileSize: e.tileSize,
	})
}

// SetViewport changes the viewport size in pixels.
func (e *Engine) SetViewport(width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.width, e.height = max(0, width), max(0, height)
	e.updateRange()
}

// SetCenter moves the view to c.
func (e *Engine) SetCenter(c tile.GeoCoordinate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.center = tile.GeoCoordinate{Lon: tile.NormalizeLongitude(c.Lon), Lat: tile.ClampLatitude(c.Lat)}
	e.updateRange()
}

// Pan applies a pointer drag of (dx, dy) pixels.
func (e *Engine) Pan(dx, dy int) tile.GeoCoordinate {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.center = tile.Pan(e.center, dx, dy, e.zoom, e.tileSize)
	e.updateRange()
	return e.center
}

// SetZoom switches to zoom level z. It fails outside [MinZoom, MaxZoom].
// A level change drops every queued download; running ones finish but their
// results are discarded.
func (e *Engine) SetZoom(z int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setZoomLocked(z)
}

func (e *Engine) setZoomLocked(z int) bool {
	if z < e.minZoom || z > e.maxZoom {
		return false
	}
	if z != e.zoom {
		e.zoom = z
		e.coordinator.Clear()
		e.updateRange()
	}
	return true
}

func (e *Engine) ZoomIn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setZoomLocked(e.zoom + 1)
}

func (e *Engine) ZoomOut() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setZoomLocked(e.zoom - 1)
}

// ZoomAt centers the view on the pointer position (px, py) and zooms in.
func (e *Engine) ZoomAt(px, py int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.zoom >= e.maxZoom {
		return false
	}
	e.center = tile.PointerToGeo(e.center, px, py, e.width, e.height, e.zoom, e.tileSize)
	return e.setZoomLocked(e.zoom + 1)
}

// SetDownloadsEnabled toggles network access. Disabling clears the queue.
func (e *Engine) SetDownloadsEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.downloads = enabled
	if !enabled {
		e.coordinator.Clear()
	}
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return View{
		Center:           e.center,
		Zoom:             e.zoom,
		Width:            e.width,
		Height:           e.height,
		DownloadsEnabled: e.downloads,
		Range:            e.rng,
	}
}

// Render classifies every tile of the current range and queues the missing
// ones, in paint order. Images are fetched separately with Tile.
func (e *Engine) Render() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()

	frame := Frame{
		Center: e.center,
		Zoom:   e.zoom,
		Range:  e.rng,
	}
	slots := e.rng.Slots()
	frame.Tiles = make([]FrameTile, 0, len(slots))
	for _, s := range slots {
		frame.Tiles = append(frame.Tiles, FrameTile{Slot: s, State: e.classify(s.Address, true)})
	}

	if !e.warned && e.store.OverBudget() {
		e.warned = true
		e.logger.Warn("Tile cache exceeds its nominal size",
			zap.Int64("size", e.store.Size()),
			zap.Int64("max_bytes", e.store.MaxBytes()),
		)
	}

	e.coordinator.Drain()
	return frame
}

// classify must be called with e.mu held. Missing tiles are only queued
// when fetch is set.
func (e *Engine) classify(addr tile.Address, fetch bool) State {
	switch {
	case e.store.Has(addr):
		return StateCached
	case e.coordinator.IsUnavailable(addr):
		return StateUnavailable
	case e.downloads && fetch:
		e.coordinator.Enqueue(addr)
		return StatePending
	default:
		return StateMissing
	}
}

// Tile resolves the image for addr. Missing tiles of the current zoom level
// are queued for download; every missing tile is answered with a patch.
// Other levels are never queued, so a zoom change stays a cancellation.
func (e *Engine) Tile(addr tile.Address) (TileImage, error) {
	addr = addr.Normalize()
	if !addr.Valid() || addr.Zoom < e.minZoom || addr.Zoom > e.maxZoom {
		return TileImage{}, fmt.Errorf("%w: %s", ErrOutOfRange, addr)
	}

	e.mu.Lock()
	state := e.classify(addr, addr.Zoom == e.zoom)
	e.mu.Unlock()

	img := TileImage{Address: addr, State: state}
	switch state {
	case StateCached:
		data, err := e.store.Read(addr)
		if err == nil {
			metrics.CacheHits.Inc()
			img.Data = data
			return img, nil
		}
		e.logger.Warn("Failed to read cached tile", zap.String("tile", addr.String()), zap.Error(err))
		img.State = StateMissing
	case StateUnavailable:
		img.Data = e.unavailable
		return img, nil
	default:
		metrics.CacheMisses.Inc()
		e.coordinator.Drain()
	}

	img.Data, img.Patched = e.resolver.Patch(addr)
	return img, nil
}

func (e *Engine) Stats() Stats {
	return Stats{
		CacheTiles:    e.store.Len(),
		CacheBytes:    e.store.Size(),
		CacheMaxBytes: e.store.MaxBytes(),
		QueueLength:   e.coordinator.QueueLen(),
		InFlight:      e.coordinator.InFlight(),
		Unavailable:   e.coordinator.UnavailableLen(),
		Workers:       e.coordinator.Workers(),
	}
}
