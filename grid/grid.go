package grid

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
)

// kmPerDegree is the flat-earth approximation of one degree of latitude.
// Adequate for the radii this service allows (<= 50 km); not a geodesic.
const kmPerDegree = 111.32

const earthRadiusKm = 6371.01

// Point is one sampled location in a grid, addressed row-major with the
// business location at row = col = gridSize/2.
type Point struct {
	Row int     `json:"row"`
	Col int     `json:"col"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Compute returns the gridSize x gridSize sample points spanning 2*radiusKm
// in both axes, centered on (centerLat, centerLng), in row-major order.
// Deterministic: the same inputs always produce the same sequence, and the
// middle point equals the center exactly.
func Compute(centerLat, centerLng, radiusKm float64, gridSize int) ([]Point, error) {
	if math.IsNaN(centerLat) || math.IsNaN(centerLng) || math.IsInf(centerLat, 0) || math.IsInf(centerLng, 0) {
		return nil, fmt.Errorf("center coordinates must be finite")
	}
	// The longitude step divides by cos(lat), which vanishes at the poles.
	if centerLat <= -90 || centerLat >= 90 {
		return nil, fmt.Errorf("center latitude must be strictly between -90 and 90, got %g", centerLat)
	}
	if centerLng < -180 || centerLng > 180 {
		return nil, fmt.Errorf("center longitude must be between -180 and 180, got %g", centerLng)
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %g", radiusKm)
	}
	if gridSize < 1 || gridSize%2 == 0 {
		return nil, fmt.Errorf("grid size must be a positive odd integer, got %d", gridSize)
	}

	if gridSize == 1 {
		return []Point{{Row: 0, Col: 0, Lat: centerLat, Lng: centerLng}}, nil
	}

	stepKm := (2 * radiusKm) / float64(gridSize-1)
	latStep := stepKm / kmPerDegree
	lngStep := stepKm / (kmPerDegree * math.Cos(centerLat*math.Pi/180))

	half := gridSize / 2
	points := make([]Point, 0, gridSize*gridSize)
	for row := 0; row < gridSize; row++ {
		for col := 0; col < gridSize; col++ {
			points = append(points, Point{
				Row: row,
				Col: col,
				Lat: centerLat + float64(row-half)*latStep,
				Lng: centerLng + float64(col-half)*lngStep,
			})
		}
	}
	return points, nil
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(aLat, aLng, bLat, bLng float64) float64 {
	a := s2.LatLngFromDegrees(aLat, aLng)
	b := s2.LatLngFromDegrees(bLat, bLng)
	return a.Distance(b).Radians() * earthRadiusKm
}
