package geo

import "testing"

func TestHaversineKm(t *testing.T) {
	// Jakarta (-6.2, 106.816) to Bandung (-6.9175, 107.6191) ~ 115-120 km
	d := HaversineKm(-6.2, 106.816, -6.9175, 107.6191)
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestAroundContainsRadius(t *testing.T) {
	box := Around(25.0, 121.5, 2)
	if !box.Contains(25.0, 121.5) {
		t.Fatalf("box must contain its center")
	}
	// ~1.5 km north and east stay inside
	if !box.Contains(25.0135, 121.515) {
		t.Fatalf("expected nearby point inside box %+v", box)
	}
	if box.Contains(25.1, 121.5) {
		t.Fatalf("point ~11 km away should be outside box %+v", box)
	}
}

func TestAroundWidensNearAntimeridian(t *testing.T) {
	box := Around(0, 179.99, 10)
	if box.MinLng != -180 || box.MaxLng != 180 {
		t.Fatalf("expected full longitude range, got %+v", box)
	}
}
