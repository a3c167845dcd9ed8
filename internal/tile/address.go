package tile

import "fmt"

// Address identifies one tile of the quad-tree pyramid. It is the key of the
// availability index, the download queue and the unavailable set.
type Address struct {
	Zoom int `json:"z"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

// MaxZoom is the deepest zoom level an Address can carry.
const MaxZoom = 30

// WrapX maps any column index onto [0, 2^zoom). The map is cylindrical.
func WrapX(i, zoom int) int {
	n := TileCount(zoom)
	return ((i % n) + n) % n
}

// Normalize returns a with X wrapped horizontally. Addresses with an
// impossible zoom are returned unchanged.
func (a Address) Normalize() Address {
	if a.Zoom < 0 || a.Zoom > MaxZoom {
		return a
	}
	a.X = WrapX(a.X, a.Zoom)
	return a
}

// Valid reports whether a can be requested: zoom non-negative, X and Y
// inside the tile grid. Rows never wrap.
func (a Address) Valid() bool {
	if a.Zoom < 0 || a.Zoom > MaxZoom {
		return false
	}
	n := TileCount(a.Zoom)
	return a.X >= 0 && a.X < n && a.Y >= 0 && a.Y < n
}

// Parent returns the tile one zoom level up that covers a.
func (a Address) Parent() Address {
	return Address{Zoom: a.Zoom - 1, X: a.X / 2, Y: a.Y / 2}
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Zoom, a.X, a.Y)
}
