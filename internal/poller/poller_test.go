package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bus-tracker/internal/route"
)

type fakeRenderer struct {
	mu        sync.Mutex
	routes    int
	positions []route.Update
	err       error
}

func (f *fakeRenderer) RenderRoute(*route.Route) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes++
	return nil
}

func (f *fakeRenderer) RenderPosition(_ *route.Route, _ string, u route.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.positions = append(f.positions, u)
	return nil
}

func (f *fakeRenderer) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.routes, len(f.positions)
}

type fakeMetrics struct {
	mu       sync.Mutex
	polls    int
	failures map[string]int
	skipped  int
	rendered int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{failures: map[string]int{}} }

func (m *fakeMetrics) PollStarted()                  { m.mu.Lock(); m.polls++; m.mu.Unlock() }
func (m *fakeMetrics) PollFailed(r string)           { m.mu.Lock(); m.failures[r]++; m.mu.Unlock() }
func (m *fakeMetrics) TickSkipped()                  { m.mu.Lock(); m.skipped++; m.mu.Unlock() }
func (m *fakeMetrics) Rendered(string, route.Update) { m.mu.Lock(); m.rendered++; m.mu.Unlock() }
func (m *fakeMetrics) FetchObserve(time.Duration)    {}
func (m *fakeMetrics) TickObserve(time.Duration)     {}

func (m *fakeMetrics) skips() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipped
}

func (m *fakeMetrics) failed(r string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[r]
}

func testTracker(t *testing.T) *route.Tracker {
	t.Helper()
	r, err := route.New("1", "Route 1", []route.Stop{
		{Name: "Pickup 1", Lat: 13.0827, Lng: 80.2707},
		{Name: "Pickup 2", Lat: 13.0658, Lng: 80.2497},
		{Name: "Pickup 3", Lat: 13.0475, Lng: 80.2824},
		{Name: "Pickup 4", Lat: 13.0350, Lng: 80.2650},
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := route.NewTracker(r)
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

// scriptedFeed serves the given responses in order, repeating the last one.
func scriptedFeed(t *testing.T, responses ...func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	var i atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(i.Add(1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		responses[n](w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func body(s string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(s))
	}
}

func status(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) { w.WriteHeader(code) }
}

const goodPayload = `{"route":1,"currentStopIndex":0,"nextStopIndex":1,"progress":0.5,"speed":20,"timestamp":"2026-10-19T09:00:00Z"}`

func newPoller(t *testing.T, url string, r Renderer, m Metrics) *Poller {
	t.Helper()
	p, err := New(Options{
		FeedURL:      url,
		BusID:        "1",
		Interval:     5 * time.Millisecond,
		FetchTimeout: 2 * time.Second,
		Tracker:      testTracker(t),
		Renderer:     r,
		Metrics:      m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	tr := testTracker(t)
	cases := map[string]Options{
		"no url":      {Interval: time.Second, Tracker: tr, Renderer: &fakeRenderer{}},
		"no tracker":  {FeedURL: "http://x", Interval: time.Second, Renderer: &fakeRenderer{}},
		"no renderer": {FeedURL: "http://x", Interval: time.Second, Tracker: tr},
		"bad period":  {FeedURL: "http://x", Tracker: tr, Renderer: &fakeRenderer{}},
	}
	for name, o := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := New(o); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPoll_RendersUpdate(t *testing.T) {
	srv := scriptedFeed(t, body(goodPayload))
	rend := &fakeRenderer{}
	m := newFakeMetrics()
	p := newPoller(t, srv.URL, rend, m)

	p.Poll(context.Background())

	u, ok := p.Last()
	if !ok {
		t.Fatal("expected a rendered update")
	}
	if u.From.Name != "Pickup 1" || u.To.Name != "Pickup 2" || u.Progress != 0.5 {
		t.Errorf("unexpected update %+v", u)
	}
	if _, n := rend.count(); n != 1 {
		t.Errorf("renderer got %d positions, want 1", n)
	}
	if m.rendered != 1 || m.polls != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestPoll_FailuresKeepLastUpdate(t *testing.T) {
	tests := []struct {
		name   string
		resp   func(w http.ResponseWriter)
		reason string
	}{
		{"server error", status(http.StatusInternalServerError), "status"},
		{"bad json", body(`{"progress":`), "decode"},
		{"missing field", body(`{"progress":0.3,"speed":20}`), "decode"},
		{"index out of range", body(`{"currentStopIndex":5,"nextStopIndex":6,"progress":0.5,"speed":20}`), "index"},
		{"zero speed", body(`{"currentStopIndex":0,"nextStopIndex":1,"progress":0.5,"speed":0}`), "speed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := scriptedFeed(t, body(goodPayload), tc.resp)
			rend := &fakeRenderer{}
			m := newFakeMetrics()
			p := newPoller(t, srv.URL, rend, m)

			p.Poll(context.Background())
			before, ok := p.Last()
			if !ok {
				t.Fatal("first poll should render")
			}

			p.Poll(context.Background())
			after, _ := p.Last()
			if after != before {
				t.Errorf("last update changed after failure: %+v -> %+v", before, after)
			}
			if _, n := rend.count(); n != 1 {
				t.Errorf("renderer got %d positions, want 1", n)
			}
			if got := m.failed(tc.reason); got != 1 {
				t.Errorf("failures[%q] = %d, want 1 (all: %v)", tc.reason, got, m.failures)
			}
		})
	}
}

func TestPoll_UnreachableFeed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := newFakeMetrics()
	p := newPoller(t, url, &fakeRenderer{}, m)
	p.Poll(context.Background())

	if _, ok := p.Last(); ok {
		t.Error("nothing should be rendered")
	}
	if m.failed("fetch") != 1 {
		t.Errorf("failures = %v", m.failures)
	}
}

func TestPoll_RenderError(t *testing.T) {
	srv := scriptedFeed(t, body(goodPayload))
	m := newFakeMetrics()
	p := newPoller(t, srv.URL, &fakeRenderer{err: errors.New("nats down")}, m)
	p.Poll(context.Background())

	if _, ok := p.Last(); ok {
		t.Error("failed render must not become the last update")
	}
	if m.failed("render") != 1 {
		t.Errorf("failures = %v", m.failures)
	}
}

func TestRun_SkipsOverlappingPolls(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Write([]byte(goodPayload))
	}))
	defer srv.Close()

	rend := &fakeRenderer{}
	m := newFakeMetrics()
	p := newPoller(t, srv.URL, rend, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for m.skips() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("no ticks were skipped")
		}
		time.Sleep(time.Millisecond)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("feed saw %d concurrent requests, want 1", got)
	}

	close(release)
	deadline = time.Now().Add(3 * time.Second)
	for {
		if _, n := rend.count(); n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poll never completed after release")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if routes, _ := rend.count(); routes != 1 {
		t.Errorf("route rendered %d times, want 1", routes)
	}
}

func TestDecodeSample_IgnoresExtraFields(t *testing.T) {
	s, err := decodeSample(strings.NewReader(goodPayload))
	if err != nil {
		t.Fatal(err)
	}
	want := route.ProgressSample{CurrentStopIndex: 0, NextStopIndex: 1, Progress: 0.5, Speed: 20}
	if s != want {
		t.Errorf("decodeSample = %+v, want %+v", s, want)
	}
}
