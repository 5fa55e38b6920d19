package feed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// RequestMetrics is optional instrumentation for the feed server.
type RequestMetrics interface {
	FeedRequestInc(status int)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	buses   map[string]*Simulator
	now     func() time.Time
	metrics RequestMetrics
}

// NewServer builds the feed HTTP handler. now may be nil to use time.Now.
func NewServer(buses map[string]*Simulator, allowedOrigins []string, now func() time.Time, m RequestMetrics) http.Handler {
	if now == nil {
		now = time.Now
	}
	s := &Server{buses: buses, now: now, metrics: m}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/bus/{busID}/location", s.GetLocation)
	return r
}

// GetLocation handles GET /api/bus/{busID}/location
func (s *Server) GetLocation(w http.ResponseWriter, r *http.Request) {
	busID := chi.URLParam(r, "busID")
	sim, ok := s.buses[busID]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown bus " + busID})
		return
	}
	s.writeJSON(w, http.StatusOK, sim.Advance(s.now()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if s.metrics != nil {
		s.metrics.FeedRequestInc(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
