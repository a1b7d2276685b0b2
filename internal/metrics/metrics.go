// Package metrics exposes Prometheus metrics derived from the event stream.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grabbit/grabbit/internal/events"
)

// Collector turns published events into Prometheus metrics. It subscribes to
// the bus like any other observer; the pipeline never touches it directly.
type Collector struct {
	registry        *prometheus.Registry
	eventsTotal     *prometheus.CounterVec
	downloadsTotal  *prometheus.CounterVec
	retriesTotal    prometheus.Counter
	bytesDownloaded prometheus.Counter
	stageDuration   *prometheus.HistogramVec
}

// NewCollector constructs a collector backed by its own registry.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grabbit",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total number of published events by kind.",
	}, []string{"kind"})

	downloadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grabbit",
		Subsystem: "downloads",
		Name:      "completed_total",
		Help:      "Completed downloads by outcome.",
	}, []string{"outcome"})

	retriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grabbit",
		Subsystem: "recovery",
		Name:      "retries_total",
		Help:      "Total number of retry decisions.",
	})

	bytesDownloaded := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grabbit",
		Subsystem: "downloads",
		Name:      "bytes_total",
		Help:      "Total bytes downloaded.",
	})

	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grabbit",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of completed pipeline stages.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	for _, c := range []prometheus.Collector{eventsTotal, downloadsTotal, retriesTotal, bytesDownloaded, stageDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:        registry,
		eventsTotal:     eventsTotal,
		downloadsTotal:  downloadsTotal,
		retriesTotal:    retriesTotal,
		bytesDownloaded: bytesDownloaded,
		stageDuration:   stageDuration,
	}, nil
}

// Handle implements an event-bus observer.
func (c *Collector) Handle(ev events.Event) {
	c.eventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	switch p := ev.Payload.(type) {
	case events.DownloadCompleted:
		outcome := "failure"
		if p.Success {
			outcome = "success"
		}
		c.downloadsTotal.WithLabelValues(outcome).Inc()
		if p.Success {
			c.bytesDownloaded.Add(float64(p.FileSize))
		}
	case events.Error:
		if p.Strategy == "retry" {
			c.retriesTotal.Inc()
		}
	case events.StageLifecycle:
		if p.Status == events.StageCompleted || p.Status == events.StageFailed {
			c.stageDuration.WithLabelValues(p.Stage).Observe(p.Duration.Seconds())
		}
	}
}

// Handler returns an HTTP handler for exposing the metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
