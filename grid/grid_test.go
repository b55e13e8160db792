package grid

import (
	"math"
	"testing"
)

func TestComputeGridDimensions(t *testing.T) {
	testCases := []struct {
		name     string
		gridSize int
	}{
		{name: "5x5", gridSize: 5},
		{name: "7x7", gridSize: 7},
		{name: "9x9", gridSize: 9},
		{name: "13x13", gridSize: 13},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			points, err := Compute(40.7128, -74.0060, 10, tc.gridSize)
			if err != nil {
				t.Fatalf("Compute returned error: %v", err)
			}
			if len(points) != tc.gridSize*tc.gridSize {
				t.Errorf("Expected %d points, got %d", tc.gridSize*tc.gridSize, len(points))
			}

			// Middle point must equal the center exactly.
			half := tc.gridSize / 2
			center := points[half*tc.gridSize+half]
			if center.Row != half || center.Col != half {
				t.Errorf("Expected center at (%d,%d), got (%d,%d)", half, half, center.Row, center.Col)
			}
			if center.Lat != 40.7128 || center.Lng != -74.0060 {
				t.Errorf("Center point is (%v,%v), want exact input center", center.Lat, center.Lng)
			}

			// Row-major ordering.
			for i, p := range points {
				if p.Row != i/tc.gridSize || p.Col != i%tc.gridSize {
					t.Fatalf("Point %d has address (%d,%d), expected row-major order", i, p.Row, p.Col)
				}
			}
		})
	}
}

func TestComputeSinglePointGrid(t *testing.T) {
	for _, radius := range []float64{0.5, 5, 50} {
		points, err := Compute(30.2672, -97.7431, radius, 1)
		if err != nil {
			t.Fatalf("Compute returned error for radius %g: %v", radius, err)
		}
		if len(points) != 1 {
			t.Fatalf("Expected 1 point for grid size 1, got %d", len(points))
		}
		p := points[0]
		if p.Row != 0 || p.Col != 0 || p.Lat != 30.2672 || p.Lng != -97.7431 {
			t.Errorf("Expected single center point, got %+v", p)
		}
	}
}

func TestComputeAustinCorners(t *testing.T) {
	// 5 km radius, 5x5 grid over Austin: step = 2.5 km.
	centerLat, centerLng := 30.2672, -97.7431
	points, err := Compute(centerLat, centerLng, 5, 5)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	stepKm := 2.5
	wantLatDelta := stepKm / 111.32
	wantLngDelta := stepKm / (111.32 * math.Cos(centerLat*math.Pi/180))

	corners := []struct {
		idx     int
		rowSign float64
		colSign float64
	}{
		{idx: 0, rowSign: -2, colSign: -2},
		{idx: 4, rowSign: -2, colSign: 2},
		{idx: 20, rowSign: 2, colSign: -2},
		{idx: 24, rowSign: 2, colSign: 2},
	}

	for _, corner := range corners {
		p := points[corner.idx]
		wantLat := centerLat + corner.rowSign*wantLatDelta
		wantLng := centerLng + corner.colSign*wantLngDelta
		if relError(p.Lat-centerLat, wantLat-centerLat) > 0.001 {
			t.Errorf("Corner %d latitude delta %v, want %v", corner.idx, p.Lat-centerLat, wantLat-centerLat)
		}
		if relError(p.Lng-centerLng, wantLng-centerLng) > 0.001 {
			t.Errorf("Corner %d longitude delta %v, want %v", corner.idx, p.Lng-centerLng, wantLng-centerLng)
		}
	}

	// Sanity check the physical spacing along a row with the great-circle
	// distance: adjacent points should be ~2.5 km apart.
	d := DistanceKm(points[0].Lat, points[0].Lng, points[1].Lat, points[1].Lng)
	if math.Abs(d-stepKm) > 0.05 {
		t.Errorf("Adjacent point spacing %v km, want about %v km", d, stepKm)
	}
}

func TestComputeDeterministic(t *testing.T) {
	a, err := Compute(51.5074, -0.1278, 8, 7)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	b, _ := Compute(51.5074, -0.1278, 8, 7)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Point %d differs between identical invocations: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestComputeInvalidInputs(t *testing.T) {
	testCases := []struct {
		name     string
		lat      float64
		lng      float64
		radius   float64
		gridSize int
	}{
		{name: "north pole", lat: 90, lng: 0, radius: 5, gridSize: 5},
		{name: "south pole", lat: -90, lng: 0, radius: 5, gridSize: 5},
		{name: "latitude beyond pole", lat: 95, lng: 0, radius: 5, gridSize: 5},
		{name: "longitude out of range", lat: 10, lng: 181, radius: 5, gridSize: 5},
		{name: "zero radius", lat: 10, lng: 10, radius: 0, gridSize: 5},
		{name: "negative radius", lat: 10, lng: 10, radius: -1, gridSize: 5},
		{name: "even grid size", lat: 10, lng: 10, radius: 5, gridSize: 4},
		{name: "zero grid size", lat: 10, lng: 10, radius: 5, gridSize: 0},
		{name: "NaN latitude", lat: math.NaN(), lng: 10, radius: 5, gridSize: 5},
		{name: "infinite longitude", lat: 10, lng: math.Inf(1), radius: 5, gridSize: 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			points, err := Compute(tc.lat, tc.lng, tc.radius, tc.gridSize)
			if err == nil {
				t.Errorf("Expected validation error, got %d points", len(points))
			}
			for _, p := range points {
				if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
					t.Errorf("Produced non-finite point %+v instead of rejecting input", p)
				}
			}
		})
	}
}

func relError(got, want float64) float64 {
	if want == 0 {
		return math.Abs(got)
	}
	return math.Abs(got-want) / math.Abs(want)
}
