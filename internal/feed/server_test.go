package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type countingMetrics struct{ byStatus map[int]int }

func (c *countingMetrics) FeedRequestInc(status int) { c.byStatus[status]++ }

func TestServer_GetLocation(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	now := t0
	sim := NewSimulator("1", equatorRoute(t), 36, t0)
	m := &countingMetrics{byStatus: map[int]int{}}
	h := NewServer(map[string]*Simulator{"1": sim}, []string{"*"}, func() time.Time { return now }, m)

	now = t0.Add(after(segKm() / 4))
	req := httptest.NewRequest(http.MethodGet, "/api/bus/1/location", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var s Sample
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.CurrentStopIndex != 0 || s.NextStopIndex != 1 || s.Progress != 0.25 || s.Speed != 36 {
		t.Errorf("unexpected sample %+v", s)
	}
	if m.byStatus[http.StatusOK] != 1 {
		t.Errorf("metrics = %v", m.byStatus)
	}
}

func TestServer_UnknownBus(t *testing.T) {
	sim := NewSimulator("1", equatorRoute(t), 36, time.Now())
	h := NewServer(map[string]*Simulator{"1": sim}, []string{"*"}, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bus/9/location", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var e ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil || e.Error == "" {
		t.Errorf("expected error body, got %q (%v)", rec.Body.String(), err)
	}
}

func TestServer_Healthz(t *testing.T) {
	h := NewServer(map[string]*Simulator{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServer_CORS(t *testing.T) {
	sim := NewSimulator("1", equatorRoute(t), 36, time.Now())
	h := NewServer(map[string]*Simulator{"1": sim}, []string{"http://localhost:5173"}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/bus/1/location", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
