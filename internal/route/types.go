package route

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidRoute    = errors.New("invalid route")
	ErrIndexOutOfRange = errors.New("stop index out of range")
	ErrInvalidSpeed    = errors.New("invalid speed")
	ErrInvalidProgress = errors.New("invalid progress")
)

type Stop struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func (s Stop) Position() Position { return Position{Lat: s.Lat, Lng: s.Lng} }

type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ProgressSample is one reading of the progress feed. Speed is in km/h.
type ProgressSample struct {
	CurrentStopIndex int     `json:"currentStopIndex"`
	NextStopIndex    int     `json:"nextStopIndex"`
	Progress         float64 `json:"progress"`
	Speed            float64 `json:"speed"`
}

// Route is an ordered list of stops. It is read-only once built.
type Route struct {
	id    string
	name  string
	stops []Stop
	path  []Position // optional road geometry
}

// New builds a route from at least two stops with valid coordinates.
func New(id, name string, stops []Stop) (*Route, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("%w: route %q has %d stops, need at least 2", ErrInvalidRoute, id, len(stops))
	}
	for i, s := range stops {
		if !validCoord(s.Lat, 90) || !validCoord(s.Lng, 180) {
			return nil, fmt.Errorf("%w: route %q stop %d (%s) has bad coordinates %v,%v", ErrInvalidRoute, id, i, s.Name, s.Lat, s.Lng)
		}
	}
	cp := make([]Stop, len(stops))
	copy(cp, stops)
	return &Route{id: id, name: name, stops: cp}, nil
}

// WithPath returns a copy of r carrying a dense road path used for display.
func (r *Route) WithPath(path []Position) *Route {
	cp := make([]Position, len(path))
	copy(cp, path)
	return &Route{id: r.id, name: r.name, stops: r.stops, path: cp}
}

func (r *Route) ID() string   { return r.id }
func (r *Route) Name() string { return r.name }
func (r *Route) Len() int     { return len(r.stops) }

// Stop returns the stop at index i.
func (r *Route) Stop(i int) (Stop, error) {
	if i < 0 || i >= len(r.stops) {
		return Stop{}, fmt.Errorf("%w: index %d, route %q has %d stops", ErrIndexOutOfRange, i, r.id, len(r.stops))
	}
	return r.stops[i], nil
}

func (r *Route) Stops() []Stop {
	cp := make([]Stop, len(r.stops))
	copy(cp, r.stops)
	return cp
}

func (r *Route) Path() []Position {
	if len(r.path) == 0 {
		return nil
	}
	cp := make([]Position, len(r.path))
	copy(cp, r.path)
	return cp
}

// Positions returns the stop coordinates in route order, or the road path when one is set.
func (r *Route) Positions() []Position {
	if len(r.path) > 0 {
		return r.Path()
	}
	out := make([]Position, len(r.stops))
	for i, s := range r.stops {
		out[i] = s.Position()
	}
	return out
}

func validCoord(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}
