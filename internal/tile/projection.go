package tile

import "math"

// MaxLatitude is the Web-Mercator latitude limit. Beyond it the projection
// runs off the square map and diverges at the poles.
const MaxLatitude = 85.05112878

// GeoCoordinate is a longitude/latitude pair in degrees.
type GeoCoordinate struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// PixelCoordinate is a position in the whole-map pixel space of one zoom level.
type PixelCoordinate struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

// TileCount returns the number of tiles per axis at zoom.
func TileCount(zoom int) int {
	return 1 << zoom
}

// MapSize returns the edge length in pixels of the whole map at zoom.
func MapSize(zoom, tileSize int) uint32 {
	return uint32(TileCount(zoom) * tileSize)
}

// ClampLatitude keeps lat inside the projectable range.
func ClampLatitude(lat float64) float64 {
	if math.IsNaN(lat) {
		return 0
	}
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// NormalizeLongitude folds lon into [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return 0
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// GeoToPixel projects c with spherical Mercator onto the pixel grid of zoom.
func GeoToPixel(c GeoCoordinate, zoom, tileSize int) PixelCoordinate {
	mapSize := float64(MapSize(zoom, tileSize))
	lon := NormalizeLongitude(c.Lon)
	lat := ClampLatitude(c.Lat)

	latM := math.Atanh(math.Sin(lat*math.Pi/180)) * 180 / math.Pi

	x := mapSize * (lon + 180) / 360
	y := mapSize * (180 - latM) / 360

	return PixelCoordinate{
		X: truncate(x, mapSize),
		Y: truncate(y, mapSize),
	}
}

// PixelToGeo is the inverse of GeoToPixel.
func PixelToGeo(p PixelCoordinate, zoom, tileSize int) GeoCoordinate {
	mapSize := float64(MapSize(zoom, tileSize))

	lon := float64(p.X)*360/mapSize - 180
	latM := 180 - float64(p.Y)*360/mapSize
	lat := math.Asin(math.Tanh(latM*math.Pi/180)) * 180 / math.Pi

	return GeoCoordinate{Lon: lon, Lat: lat}
}

// truncate converts v to an unsigned pixel index inside [0, mapSize).
func truncate(v, mapSize float64) uint32 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v >= mapSize {
		return uint32(mapSize) - 1
	}
	return uint32(v)
}
