package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bus-tracker/internal/config"
	"bus-tracker/internal/feed"
	"bus-tracker/internal/metrics"
)

// busfeed serves simulated progress for one bus so the tracker has something to poll.
func main() {
	config.InitLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r, err := cfg.LoadRoute(ctx)
	if err != nil {
		log.Fatalf("load route %q: %v", cfg.RouteID, err)
	}

	var reqMetrics feed.RequestMetrics
	if cfg.MetricsAddr != "" {
		mcol := metrics.NewFeedCollector()
		msrv := mcol.Serve(cfg.MetricsAddr)
		defer msrv.Close()
		reqMetrics = mcol
	}

	buses := map[string]*feed.Simulator{
		cfg.BusID: feed.NewSimulator(cfg.BusID, r, cfg.SpeedKmph, time.Now()),
	}
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: feed.NewServer(buses, cfg.AllowedOrigins, nil, reqMetrics),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("feed for bus %s on route %s at %.0f km/h listening on %s", cfg.BusID, r.ID(), cfg.SpeedKmph, cfg.ListenAddr)
	log.Printf("  GET /api/bus/%s/location", cfg.BusID)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("feed server failed: %v", err)
	}
	log.Println("shutdown complete")
}
