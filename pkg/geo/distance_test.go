package geo

import (
	"math"
	"testing"
)

func TestHaversineKnownDistance(t *testing.T) {
	// One block in District 4, Ho Chi Minh City: roughly 152 meters.
	got := HaversineM(10.759, 106.705, 10.760, 106.706)
	if math.Abs(got-152) > 5 {
		t.Fatalf("expected ~152m, got %.2fm", got)
	}
}

func TestHaversineZero(t *testing.T) {
	if d := HaversineM(48.8566, 2.3522, 48.8566, 2.3522); d != 0 {
		t.Fatalf("identical points should be 0m apart, got %f", d)
	}
}

func TestHaversineSymmetry(t *testing.T) {
	a := HaversineM(59.3293, 18.0686, 59.3300, 18.0700)
	b := HaversineM(59.3300, 18.0700, 59.3293, 18.0686)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("distance not symmetric: %f vs %f", a, b)
	}
}

func TestBearingDueNorth(t *testing.T) {
	got := BearingDeg(10.759, 106.705, 10.760, 106.705)
	if math.Abs(got-0) > 0.5 && math.Abs(got-360) > 0.5 {
		t.Fatalf("expected bearing ~0 for due north, got %.2f", got)
	}
}
