package tile

import "math"

// Viewport is the input of a range computation.
type Viewport struct {
	Width    int
	Height   int
	Center   GeoCoordinate
	Zoom     int
	TileSize int
}

// Range is the rectangle of tile indices that covers a viewport.
//
// Left and Right are column indices before wraparound and may be negative or
// exceed the grid. Top and Bottom are raw row indices; rows outside the grid
// are never yielded by Rows or Addresses. OffsetX and OffsetY are the number
// of pixels the top-left tile sticks out past the viewport origin, always in
// [0, TileSize).
type Range struct {
	Zoom     int `json:"zoom"`
	Left     int `json:"left"`
	Right    int `json:"right"`
	Top      int `json:"top"`
	Bottom   int `json:"bottom"`
	OffsetX  int `json:"offset_x"`
	OffsetY  int `json:"offset_y"`
	TileSize int `json:"tile_size"`
}

// ComputeRange works out which tiles are needed to fill v.
func ComputeRange(v Viewport) Range {
	ts := v.TileSize
	p := GeoToPixel(v.Center, v.Zoom, ts)

	// central tile and the center's offset inside it
	xTile := int(p.X) / ts
	yTile := int(p.Y) / ts
	offsetX := int(p.X) % ts
	offsetY := int(p.Y) % ts

	halfW := v.Width / 2
	halfH := v.Height / 2

	tilesLeft := float64(halfW-offsetX) / float64(ts)
	tilesUp := float64(halfH-offsetY) / float64(ts)
	tilesRight := float64(halfW+offsetX-ts) / float64(ts)
	tilesDown := float64(halfH+offsetY-ts) / float64(ts)

	return Range{
		Zoom:     v.Zoom,
		Left:     xTile - int(math.Ceil(tilesLeft)),
		Right:    xTile + int(math.Ceil(tilesRight)),
		Top:      yTile - int(math.Ceil(tilesUp)),
		Bottom:   yTile + int(math.Ceil(tilesDown)),
		OffsetX:  (ts - (halfW-offsetX)%ts) % ts,
		OffsetY:  (ts - (halfH-offsetY)%ts) % ts,
		TileSize: ts,
	}
}

// Slot is one renderable cell of a Range: the normalized tile address and
// the screen position of its top-left corner.
type Slot struct {
	Address Address `json:"address"`
	ScreenX int     `json:"screen_x"`
	ScreenY int     `json:"screen_y"`
}

// Rows returns the row indices of r that exist on the map.
func (r Range) Rows() []int {
	n := TileCount(r.Zoom)
	rows := make([]int, 0, r.Bottom-r.Top+1)
	for j := r.Top; j <= r.Bottom; j++ {
		if j < 0 || j >= n {
			continue
		}
		rows = append(rows, j)
	}
	return rows
}

// Slots lists every renderable tile of r, column-major like the paint loop
// that consumes it. Columns are wrapped, rows outside the grid are skipped.
func (r Range) Slots() []Slot {
	rows := r.Rows()
	slots := make([]Slot, 0, (r.Right-r.Left+1)*len(rows))
	for i := r.Left; i <= r.Right; i++ {
		x := WrapX(i, r.Zoom)
		for _, j := range rows {
			slots = append(slots, Slot{
				Address: Address{Zoom: r.Zoom, X: x, Y: j},
				ScreenX: (i-r.Left)*r.TileSize - r.OffsetX,
				ScreenY: (j-r.Top)*r.TileSize - r.OffsetY,
			})
		}
	}
	return slots
}

// Addresses returns the distinct addresses of r. A narrow zoom level can make
// wrapped columns repeat; each address appears once.
func (r Range) Addresses() []Address {
	seen := make(map[Address]struct{})
	var out []Address
	for _, s := range r.Slots() {
		if _, ok := seen[s.Address]; ok {
			continue
		}
		seen[s.Address] = struct{}{}
		out = append(out, s.Address)
	}
	return out
}

// Pan moves center by a pointer drag of (dx, dy) screen pixels. Dragging right
// moves the map right, so the center moves left.
func Pan(center GeoCoordinate, dx, dy, zoom, tileSize int) GeoCoordinate {
	p := GeoToPixel(center, zoom, tileSize)
	size := int64(MapSize(zoom, tileSize))

	x := (int64(p.X) - int64(dx)) % size
	if x < 0 {
		x += size
	}
	y := int64(p.Y) - int64(dy)
	y = max(0, min(y, size-1))

	return PixelToGeo(PixelCoordinate{X: uint32(x), Y: uint32(y)}, zoom, tileSize)
}

// PointerToGeo returns the geographic position under a pointer at (px, py)
// in a viewport of width x height centered on center.
func PointerToGeo(center GeoCoordinate, px, py, width, height, zoom, tileSize int) GeoCoordinate {
	return Pan(center, width/2-px, height/2-py, zoom, tileSize)
}
