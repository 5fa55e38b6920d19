package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bus-tracker/internal/route"
)

var (
	errBadStatus = errors.New("unexpected feed status")
	errDecode    = errors.New("bad feed payload")
)

// Renderer draws what the tracker computes.
type Renderer interface {
	RenderRoute(r *route.Route) error
	RenderPosition(r *route.Route, busID string, u route.Update) error
}

type Metrics interface {
	PollStarted()
	PollFailed(reason string)
	TickSkipped()
	Rendered(busID string, u route.Update)
	FetchObserve(d time.Duration)
	TickObserve(d time.Duration)
}

type Options struct {
	FeedURL      string
	BusID        string
	Interval     time.Duration
	FetchTimeout time.Duration
	Tracker      *route.Tracker
	Renderer     Renderer
	Metrics      Metrics      // optional
	Client       *http.Client // optional
}

// Poller fetches progress samples on a fixed period and renders the projected
// position. At most one request is in flight; ticks that find one running are
// dropped rather than queued.
type Poller struct {
	feedURL      string
	busID        string
	interval     time.Duration
	fetchTimeout time.Duration
	tracker      *route.Tracker
	renderer     Renderer
	metrics      Metrics
	client       *http.Client

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu       sync.Mutex
	last     route.Update
	haveLast bool
}

func New(o Options) (*Poller, error) {
	if o.FeedURL == "" {
		return nil, errors.New("poller: feed URL is required")
	}
	if o.Tracker == nil || o.Renderer == nil {
		return nil, errors.New("poller: tracker and renderer are required")
	}
	if o.Interval <= 0 {
		return nil, fmt.Errorf("poller: invalid interval %v", o.Interval)
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = time.Second
	}
	if o.Client == nil {
		o.Client = &http.Client{}
	}
	return &Poller{
		feedURL:      o.FeedURL,
		busID:        o.BusID,
		interval:     o.Interval,
		fetchTimeout: o.FetchTimeout,
		tracker:      o.Tracker,
		renderer:     o.Renderer,
		metrics:      o.Metrics,
		client:       o.Client,
	}, nil
}

// Last returns the most recently rendered update.
func (p *Poller) Last() (route.Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.haveLast
}

// Run renders the route once, then polls until ctx is cancelled. It waits for
// an in-flight poll before returning.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.renderer.RenderRoute(p.tracker.Route()); err != nil {
		log.Printf("render route %s error: %v", p.tracker.Route().ID(), err)
	}

	tick := time.NewTicker(p.interval)
	defer tick.Stop()
	defer p.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				if p.metrics != nil {
					p.metrics.TickSkipped()
				}
				continue
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer p.inFlight.Store(false)
				p.Poll(ctx)
			}()
		}
	}
}

// Poll runs one fetch-project-render cycle. Failures are logged and leave the
// last rendered update in place.
func (p *Poller) Poll(ctx context.Context) {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.PollStarted()
		defer func() { p.metrics.TickObserve(time.Since(start)) }()
	}

	sample, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.fail(reason(err), err)
		return
	}

	u, err := p.tracker.Update(sample)
	if err != nil {
		p.fail(reason(err), fmt.Errorf("sample %+v: %w", sample, err))
		return
	}

	if err := p.renderer.RenderPosition(p.tracker.Route(), p.busID, u); err != nil {
		p.fail("render", err)
		return
	}

	p.mu.Lock()
	p.last, p.haveLast = u, true
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.Rendered(p.busID, u)
	}
}

func (p *Poller) fetch(ctx context.Context) (route.ProgressSample, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	start := time.Now()
	if p.metrics != nil {
		defer func() { p.metrics.FetchObserve(time.Since(start)) }()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return route.ProgressSample{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return route.ProgressSample{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return route.ProgressSample{}, fmt.Errorf("%w: %s", errBadStatus, resp.Status)
	}
	return decodeSample(resp.Body)
}

// payload uses pointers so that a missing field is an error rather than a zero.
type payload struct {
	CurrentStopIndex *int     `json:"currentStopIndex"`
	NextStopIndex    *int     `json:"nextStopIndex"`
	Progress         *float64 `json:"progress"`
	Speed            *float64 `json:"speed"`
}

func decodeSample(r io.Reader) (route.ProgressSample, error) {
	var pl payload
	if err := json.NewDecoder(r).Decode(&pl); err != nil {
		return route.ProgressSample{}, fmt.Errorf("%w: %v", errDecode, err)
	}
	if pl.CurrentStopIndex == nil || pl.NextStopIndex == nil || pl.Progress == nil || pl.Speed == nil {
		return route.ProgressSample{}, fmt.Errorf("%w: payload missing currentStopIndex, nextStopIndex, progress or speed", errDecode)
	}
	return route.ProgressSample{
		CurrentStopIndex: *pl.CurrentStopIndex,
		NextStopIndex:    *pl.NextStopIndex,
		Progress:         *pl.Progress,
		Speed:            *pl.Speed,
	}, nil
}

func (p *Poller) fail(reason string, err error) {
	log.Printf("poll %s (%s) skipped: %v", p.busID, reason, err)
	if p.metrics != nil {
		p.metrics.PollFailed(reason)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, route.ErrIndexOutOfRange):
		return "index"
	case errors.Is(err, route.ErrInvalidSpeed):
		return "speed"
	case errors.Is(err, route.ErrInvalidProgress):
		return "progress"
	case errors.Is(err, errBadStatus):
		return "status"
	case errors.Is(err, errDecode):
		return "decode"
	default:
		return "fetch"
	}
}
