package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"bus-tracker/internal/route"
)

// NATSPublisher is the rendering side of the tracker: map clients subscribe
// to route.* for geometry and bus.> for live positions.
type NATSPublisher struct {
	nc          *nats.Conn
	trackerID   string
	logSubjects bool
	metrics     PublisherMetrics
	now         func() time.Time
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, trackerID: uuid.NewString(), logSubjects: logSubjects, metrics: m, now: time.Now}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) TrackerID() string { return p.trackerID }

type RouteMessage struct {
	RouteID  string       `json:"routeId"`
	Name     string       `json:"name"`
	Stops    []route.Stop `json:"stops"`
	Polyline string       `json:"polyline"`
}

type PositionMessage struct {
	TrackerID  string    `json:"trackerId"`
	BusID      string    `json:"busId"`
	RouteID    string    `json:"routeId"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Progress   float64   `json:"progress"`
	SpeedKmph  float64   `json:"speedKmph"`
	ETASeconds int       `json:"etaSeconds"`
	ETA        string    `json:"eta"`
	FromStop   string    `json:"fromStop"`
	ToStop     string    `json:"toStop"`
	Popup      string    `json:"popup"`

	// Marker position on the road path, when the route has one.
	Path *route.Position `json:"path,omitempty"`
}

// RenderRoute publishes the static route geometry once.
func (p *NATSPublisher) RenderRoute(r *route.Route) error {
	msg := RouteMessage{
		RouteID:  r.ID(),
		Name:     r.Name(),
		Stops:    r.Stops(),
		Polyline: route.EncodePath(r.Positions()),
	}
	return p.publish("route."+subjectToken(r.ID()), msg)
}

// RenderPosition publishes one tracker update for busID.
func (p *NATSPublisher) RenderPosition(r *route.Route, busID string, u route.Update) error {
	msg := NewPositionMessage(p.trackerID, r.ID(), busID, u, p.now())
	subject := fmt.Sprintf("bus.%s.%s", subjectToken(r.ID()), subjectToken(busID))
	return p.publish(subject, msg)
}

// NewPositionMessage builds the wire message for u.
func NewPositionMessage(trackerID, routeID, busID string, u route.Update, now time.Time) PositionMessage {
	eta := route.FormatETA(time.Duration(u.ETASeconds) * time.Second)
	msg := PositionMessage{
		TrackerID:  trackerID,
		BusID:      busID,
		RouteID:    routeID,
		Timestamp:  now.UTC(),
		Lat:        u.Position.Lat,
		Lng:        u.Position.Lng,
		Progress:   u.Progress,
		SpeedKmph:  u.Speed,
		ETASeconds: u.ETASeconds,
		ETA:        eta,
		FromStop:   u.From.Name,
		ToStop:     u.To.Name,
		Popup:      PopupText(u),
	}
	if u.OnPath {
		p := u.PathPosition
		msg.Path = &p
	}
	return msg
}

// PopupText is the marker popup shown by map clients.
func PopupText(u route.Update) string {
	eta := route.FormatETA(time.Duration(u.ETASeconds) * time.Second)
	return fmt.Sprintf("%s → %s · %.0f km/h · ETA %s", u.From.Name, u.To.Name, u.Speed, eta)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
