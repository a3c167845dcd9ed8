package tile

import "testing"

func TestAddress_Valid(t *testing.T) {
	tests := []struct {
		addr Address
		want bool
	}{
		{Address{Zoom: 0, X: 0, Y: 0}, true},
		{Address{Zoom: 3, X: 7, Y: 7}, true},
		{Address{Zoom: 3, X: 8, Y: 0}, false},
		{Address{Zoom: 3, X: 0, Y: 8}, false},
		{Address{Zoom: 3, X: -1, Y: 0}, false},
		{Address{Zoom: 3, X: 0, Y: -1}, false},
		{Address{Zoom: -1, X: 0, Y: 0}, false},
		{Address{Zoom: MaxZoom + 1, X: 0, Y: 0}, false},
	}
	for _, tt := range tests {
		if got := tt.addr.Valid(); got != tt.want {
			t.Errorf("%v.Valid() = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestAddress_NormalizeImpossibleZoom(t *testing.T) {
	for _, a := range []Address{{Zoom: -2, X: 5, Y: 1}, {Zoom: MaxZoom + 3, X: -4, Y: 0}} {
		if got := a.Normalize(); got != a {
			t.Errorf("Normalize(%v) = %v, want unchanged", a, got)
		}
	}
}

func TestAddress_NormalizeKeepsRow(t *testing.T) {
	got := Address{Zoom: 2, X: 9, Y: -1}.Normalize()
	want := Address{Zoom: 2, X: 1, Y: -1}
	if got != want {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
	if got.Valid() {
		t.Error("row outside the grid became valid")
	}
}
