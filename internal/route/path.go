package route

import (
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

// EvenSegmentIndex maps a sample onto an index of a dense road path by
// splitting the path into stopCount-1 equal slices. Real segments are rarely
// equal length, so the marker drifts ahead or behind on uneven routes.
func EvenSegmentIndex(pathLen, stopCount int, s ProgressSample) int {
	if pathLen <= 0 || stopCount < 2 {
		return 0
	}
	size := pathLen / (stopCount - 1)
	idx := s.CurrentStopIndex*size + int(math.Floor(ClampProgress(s.Progress)*float64(size)))
	if idx < 0 {
		return 0
	}
	if idx > pathLen-1 {
		return pathLen - 1
	}
	return idx
}

// SnapToPath places the sample on the route's road path, if it has one.
func (t *Tracker) SnapToPath(s ProgressSample) (Position, bool) {
	path := t.route.path
	if len(path) == 0 || math.IsNaN(s.Progress) {
		return Position{}, false
	}
	if _, _, err := t.segment(s); err != nil {
		return Position{}, false
	}
	return path[EvenSegmentIndex(len(path), len(t.route.stops), s)], true
}

// EncodePath encodes positions as a Google encoded polyline.
func EncodePath(path []Position) string {
	coords := make([][]float64, 0, len(path))
	for _, p := range path {
		coords = append(coords, []float64{p.Lat, p.Lng})
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePath decodes a Google encoded polyline.
func DecodePath(s string) ([]Position, error) {
	coords, _, err := polyline.DecodeCoords([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	out := make([]Position, 0, len(coords))
	for _, c := range coords {
		out = append(out, Position{Lat: c[0], Lng: c[1]})
	}
	return out, nil
}
