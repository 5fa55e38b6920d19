package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"bus-tracker/internal/config"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/poller"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/route"
)

func main() {
	config.InitLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r, err := cfg.LoadRoute(ctx)
	if err != nil {
		log.Fatalf("load route %q: %v", cfg.RouteID, err)
	}
	tracker, err := route.NewTracker(r)
	if err != nil {
		log.Fatalf("tracker: %v", err)
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.PollInterval)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	p, err := poller.New(poller.Options{
		FeedURL:      cfg.FeedURL,
		BusID:        cfg.BusID,
		Interval:     cfg.PollInterval,
		FetchTimeout: cfg.FetchTimeout,
		Tracker:      tracker,
		Renderer:     pub,
		Metrics:      wrapPollerMetrics(mcol),
	})
	if err != nil {
		log.Fatalf("poller: %v", err)
	}

	log.Printf("tracking bus %s on route %s (tracker %s): polling %s every %s", cfg.BusID, r.ID(), pub.TrackerID(), cfg.FeedURL, cfg.PollInterval)
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("poller stopped: %v", err)
	}
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapPollerMetrics(c *metrics.Collector) poller.Metrics {
	if c == nil {
		return nil
	}
	return &pollMetrics{c: c}
}

type pollMetrics struct{ c *metrics.Collector }

func (p *pollMetrics) PollStarted()                 { p.c.Polls.Inc() }
func (p *pollMetrics) PollFailed(reason string)     { p.c.PollErrors.WithLabelValues(reason).Inc() }
func (p *pollMetrics) TickSkipped()                 { p.c.SkippedTicks.Inc() }
func (p *pollMetrics) FetchObserve(d time.Duration) { p.c.FetchDuration.Observe(d.Seconds()) }
func (p *pollMetrics) TickObserve(d time.Duration)  { p.c.TickDuration.Observe(d.Seconds()) }
func (p *pollMetrics) Rendered(busID string, u route.Update) {
	p.c.Rendered.Inc()
	p.c.ETASeconds.WithLabelValues(busID).Set(float64(u.ETASeconds))
	p.c.Progress.WithLabelValues(busID).Set(u.Progress)
}
