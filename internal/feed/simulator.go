package feed

import (
	"math"
	"sync"
	"time"

	"bus-tracker/internal/route"
)

// Sample is the payload served for one bus.
type Sample struct {
	Route            string    `json:"route"`
	BusID            string    `json:"busId"`
	CurrentStopIndex int       `json:"currentStopIndex"`
	NextStopIndex    int       `json:"nextStopIndex"`
	Progress         float64   `json:"progress"`
	Speed            float64   `json:"speed"`
	Timestamp        time.Time `json:"timestamp"`
}

// Simulator advances a single bus along a route at constant speed. Every
// request moves the bus by the wall time elapsed since the previous one.
type Simulator struct {
	busID string
	route *route.Route
	speed float64 // km/h

	mu          sync.Mutex
	currentStop int
	progress    float64
	lastUpdate  time.Time
}

func NewSimulator(busID string, r *route.Route, speedKmph float64, now time.Time) *Simulator {
	return &Simulator{busID: busID, route: r, speed: speedKmph, lastUpdate: now}
}

// Advance moves the bus forward to now and returns its state. After the last
// segment the bus starts over from the first stop.
func (s *Simulator) Advance(now time.Time) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	dt := now.Sub(s.lastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}
	s.lastUpdate = now

	covered := s.speed / 3600 * dt // km
	segments := s.route.Len() - 1
	// whole laps bring the bus back to where it is now
	if lap := s.lapKm(); lap > 0 {
		covered = math.Mod(covered, lap)
	}
	// a bus can cross several short segments between two slow requests;
	// the bound keeps a zero-length loop from spinning.
	for i := 0; i <= segments && covered > 0; i++ {
		segKm := s.segmentKm()
		if segKm == 0 {
			s.nextSegment()
			continue
		}
		left := (1 - s.progress) * segKm
		if covered < left {
			s.progress += covered / segKm
			break
		}
		covered -= left
		s.nextSegment()
	}
	return s.sampleLocked(now)
}

// Peek returns the current state without moving the bus.
func (s *Simulator) Peek() Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleLocked(s.lastUpdate)
}

func (s *Simulator) segmentKm() float64 {
	a, _ := s.route.Stop(s.currentStop)
	b, _ := s.route.Stop(s.currentStop + 1)
	return route.DistanceKm(a.Position(), b.Position())
}

func (s *Simulator) lapKm() float64 {
	stops := s.route.Stops()
	total := 0.0
	for i := 1; i < len(stops); i++ {
		total += route.DistanceKm(stops[i-1].Position(), stops[i].Position())
	}
	return total
}

func (s *Simulator) nextSegment() {
	s.progress = 0
	s.currentStop++
	if s.currentStop >= s.route.Len()-1 {
		s.currentStop = 0
	}
}

func (s *Simulator) sampleLocked(now time.Time) Sample {
	return Sample{
		Route:            s.route.ID(),
		BusID:            s.busID,
		CurrentStopIndex: s.currentStop,
		NextStopIndex:    s.currentStop + 1,
		Progress:         math.Round(s.progress*1e4) / 1e4,
		Speed:            s.speed,
		Timestamp:        now.UTC(),
	}
}
