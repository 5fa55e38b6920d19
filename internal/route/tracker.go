package route

import (
	"fmt"
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// maxETASeconds is the largest whole-second count a time.Duration can hold.
var maxETASeconds = float64(math.MaxInt64 / int64(time.Second))

// Tracker projects progress samples onto a fixed route. It holds no state
// besides the route, so one Tracker can serve every tick.
type Tracker struct {
	route *Route
}

// Update is the result of projecting one sample.
type Update struct {
	Position   Position `json:"position"`
	ETASeconds int      `json:"etaSeconds"`
	From       Stop     `json:"from"`
	To         Stop     `json:"to"`
	Progress   float64  `json:"progress"` // clamped
	Speed      float64  `json:"speed"`

	// Set when the route carries a road path.
	PathPosition Position `json:"pathPosition"`
	OnPath       bool     `json:"onPath"`
}

// NewTracker returns a tracker for r, which must have at least two stops.
func NewTracker(r *Route) (*Tracker, error) {
	if r == nil || len(r.stops) < 2 {
		return nil, fmt.Errorf("%w: tracker needs a route with at least 2 stops", ErrInvalidRoute)
	}
	return &Tracker{route: r}, nil
}

func (t *Tracker) Route() *Route { return t.route }

func (t *Tracker) segment(s ProgressSample) (Stop, Stop, error) {
	start, err := t.route.Stop(s.CurrentStopIndex)
	if err != nil {
		return Stop{}, Stop{}, fmt.Errorf("current stop: %w", err)
	}
	end, err := t.route.Stop(s.NextStopIndex)
	if err != nil {
		return Stop{}, Stop{}, fmt.Errorf("next stop: %w", err)
	}
	return start, end, nil
}

// ComputePosition interpolates linearly in degree space between the current
// and next stop. This is only accurate for segments of a few kilometers.
func (t *Tracker) ComputePosition(s ProgressSample) (Position, error) {
	start, end, err := t.segment(s)
	if err != nil {
		return Position{}, err
	}
	if math.IsNaN(s.Progress) {
		return Position{}, fmt.Errorf("%w: NaN", ErrInvalidProgress)
	}
	return Interpolate(start.Position(), end.Position(), ClampProgress(s.Progress)), nil
}

// EstimateETA returns the time to reach end at the sample's speed, floored to
// whole seconds and never negative.
func (t *Tracker) EstimateETA(s ProgressSample, start, end Stop) (time.Duration, error) {
	if math.IsNaN(s.Speed) || math.IsInf(s.Speed, 0) || s.Speed <= 0 {
		return 0, fmt.Errorf("%w: %v km/h", ErrInvalidSpeed, s.Speed)
	}
	if math.IsNaN(s.Progress) {
		return 0, fmt.Errorf("%w: NaN", ErrInvalidProgress)
	}
	total := DistanceKm(start.Position(), end.Position())
	remaining := total * (1 - ClampProgress(s.Progress))
	secs := math.Floor(remaining / s.Speed * 3600)
	if math.IsInf(secs, 0) || secs > maxETASeconds {
		return 0, fmt.Errorf("%w: %v km/h is too slow to estimate an arrival", ErrInvalidSpeed, s.Speed)
	}
	if secs < 0 {
		secs = 0
	}
	return time.Duration(secs) * time.Second, nil
}

// Update is the per-poll entry point: position plus ETA for one sample.
func (t *Tracker) Update(s ProgressSample) (Update, error) {
	start, end, err := t.segment(s)
	if err != nil {
		return Update{}, err
	}
	pos, err := t.ComputePosition(s)
	if err != nil {
		return Update{}, err
	}
	eta, err := t.EstimateETA(s, start, end)
	if err != nil {
		return Update{}, err
	}
	u := Update{
		Position:   pos,
		ETASeconds: int(eta / time.Second),
		From:       start,
		To:         end,
		Progress:   ClampProgress(s.Progress),
		Speed:      s.Speed,
	}
	u.PathPosition, u.OnPath = t.SnapToPath(s)
	return u, nil
}

// Interpolate returns the point frac of the way from a to b in degree space.
func Interpolate(a, b Position, frac float64) Position {
	return Position{
		Lat: a.Lat + (b.Lat-a.Lat)*frac,
		Lng: a.Lng + (b.Lng-a.Lng)*frac,
	}
}

// ClampProgress limits p to [0,1].
func ClampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// DistanceKm is the haversine distance between a and b.
func DistanceKm(a, b Position) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair outside [0,1] for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// FormatETA renders d as "<M> min <S> sec".
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d min %d sec", secs/60, secs%60)
}
