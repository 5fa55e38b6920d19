package metrics

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Polls        prometheus.Counter
	PollErrors   *prometheus.CounterVec // reason label: fetch|status|decode|index|speed|progress|render
	SkippedTicks prometheus.Counter
	Rendered     prometheus.Counter

	ETASeconds *prometheus.GaugeVec // bus label
	Progress   *prometheus.GaugeVec // bus label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	FetchDuration   prometheus.Histogram
	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
}

func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_polls_total",
			Help: "Total feed polls started.",
		}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_poll_errors_total",
			Help: "Polls that did not update the rendered position, by reason.",
		}, []string{"reason"}),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_skipped_ticks_total",
			Help: "Ticks skipped because the previous poll was still in flight.",
		}),
		Rendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_rendered_total",
			Help: "Positions handed to the renderer.",
		}),
		ETASeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bustracker_eta_seconds",
			Help: "Last estimated time to the next stop.",
		}, []string{"bus"}),
		Progress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bustracker_segment_progress",
			Help: "Last progress (0..1) along the current segment.",
		}, []string{"bus"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_fetch_duration_seconds",
			Help:    "Duration of the feed HTTP request.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_tick_duration_seconds",
			Help:    "Duration of a full poll: fetch, project and render.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_poll_interval_seconds",
			Help: "Poll interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Polls, c.PollErrors, c.SkippedTicks, c.Rendered,
		c.ETASeconds, c.Progress,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.FetchDuration, c.TickDuration, c.PublishDuration,
		c.PollInterval,
	)

	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server { return serve(addr, c.Handler()) }

// FeedCollector holds the feed simulator's metrics, kept apart from the
// tracker's so each process only exports series it updates.
type FeedCollector struct {
	reg *prometheus.Registry

	Requests *prometheus.CounterVec // code label
}

func NewFeedCollector() *FeedCollector {
	reg := prometheus.NewRegistry()
	c := &FeedCollector{
		reg: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busfeed_requests_total",
			Help: "Feed location requests served, by status code.",
		}, []string{"code"}),
	}
	reg.MustRegister(c.Requests)
	return c
}

// FeedRequestInc satisfies feed.RequestMetrics.
func (c *FeedCollector) FeedRequestInc(status int) {
	c.Requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (c *FeedCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func (c *FeedCollector) Serve(addr string) *http.Server { return serve(addr, c.Handler()) }

func serve(addr string, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
