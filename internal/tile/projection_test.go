package tile

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

func TestGeoToPixel_KnownTiles(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		zoom     int
		wantX    int
		wantY    int
	}{
		{"origin z0", 0, 0, 0, 0, 0},
		{"london z10", -0.1278, 51.5074, 10, 511, 340},
		{"zurich z10", 8.5417, 47.3769, 10, 536, 358},
		{"nyc z10", -74.0060, 40.7128, 10, 301, 385},
		{"tokyo z10", 139.6917, 35.6895, 10, 909, 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := GeoToPixel(GeoCoordinate{Lon: tt.lon, Lat: tt.lat}, tt.zoom, 256)
			x, y := int(p.X)/256, int(p.Y)/256
			if x != tt.wantX || y != tt.wantY {
				t.Errorf("tile = (%d, %d), want (%d, %d)", x, y, tt.wantX, tt.wantY)
			}

			ref := maptile.At(orb.Point{tt.lon, tt.lat}, maptile.Zoom(tt.zoom))
			if uint32(x) != ref.X || uint32(y) != ref.Y {
				t.Errorf("tile = (%d, %d), maptile reference = (%d, %d)", x, y, ref.X, ref.Y)
			}
		})
	}
}

func TestGeoToPixel_PolesAreClamped(t *testing.T) {
	for _, lat := range []float64{90, -90, 89.999, -89.999, math.NaN()} {
		for zoom := 0; zoom <= 18; zoom++ {
			p := GeoToPixel(GeoCoordinate{Lon: 10, Lat: lat}, zoom, 256)
			size := MapSize(zoom, 256)
			if p.X >= size || p.Y >= size {
				t.Fatalf("lat %v zoom %d: pixel %+v outside map of size %d", lat, zoom, p, size)
			}
			g := PixelToGeo(p, zoom, 256)
			if math.IsNaN(g.Lat) || math.IsNaN(g.Lon) {
				t.Fatalf("lat %v zoom %d: NaN after round trip", lat, zoom)
			}
		}
	}

	north := GeoToPixel(GeoCoordinate{Lat: 90}, 3, 256)
	if north.Y != 0 {
		t.Errorf("north pole y = %d, want 0", north.Y)
	}
	south := GeoToPixel(GeoCoordinate{Lat: -90}, 3, 256)
	if want := MapSize(3, 256) - 1; south.Y != want {
		t.Errorf("south pole y = %d, want %d", south.Y, want)
	}
}

func TestRoundTrip(t *testing.T) {
	for zoom := 0; zoom <= 18; zoom++ {
		resolution := 360 / float64(MapSize(zoom, 256))
		for lon := -180.0; lon < 180; lon += 7.3 {
			for lat := -85.0; lat <= 85; lat += 5.1 {
				c := GeoCoordinate{Lon: lon, Lat: lat}
				got := PixelToGeo(GeoToPixel(c, zoom, 256), zoom, 256)
				if d := math.Abs(got.Lon - lon); d > resolution+1e-9 {
					t.Fatalf("zoom %d %+v: lon off by %v (resolution %v)", zoom, c, d, resolution)
				}
				if d := math.Abs(got.Lat - lat); d > resolution+1e-9 {
					t.Fatalf("zoom %d %+v: lat off by %v (resolution %v)", zoom, c, d, resolution)
				}
			}
		}
	}
}

func TestNormalizeLongitude(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{180, -180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{540, -180},
	}
	for _, tt := range tests {
		if got := NormalizeLongitude(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeLongitude(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
