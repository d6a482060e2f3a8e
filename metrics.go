/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultWaitDurationBuckets is default buckets into which observations
// of waiting for a body chunk are counted.
var DefaultWaitDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// MetricsCollectorOpts represents an options for MetricsCollector.
type MetricsCollectorOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// WaitDurationBuckets is a list of buckets into which observations
	// of waiting for a body chunk are counted.
	WaitDurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// MetricsCollector represents collector of metrics for request body reading.
type MetricsCollector struct {
	ChunksReceived prometheus.Counter
	BytesReceived  prometheus.Counter
	ReadTimeouts   prometheus.Counter
	TooLargeTotal  prometheus.Counter
	WaitDurations  prometheus.Histogram
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithOpts(MetricsCollectorOpts{})
}

// NewMetricsCollectorWithOpts is a more configurable version of creating MetricsCollector.
func NewMetricsCollectorWithOpts(opts MetricsCollectorOpts) *MetricsCollector {
	waitBuckets := opts.WaitDurationBuckets
	if waitBuckets == nil {
		waitBuckets = DefaultWaitDurationBuckets
	}
	return &MetricsCollector{
		ChunksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "request_body_chunks_received_total",
			Help:        "Total number of request body chunks received from the transport.",
			ConstLabels: opts.ConstLabels,
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "request_body_bytes_received_total",
			Help:        "Total number of request body bytes received from the transport.",
			ConstLabels: opts.ConstLabels,
		}),
		ReadTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "request_body_read_timeouts_total",
			Help:        "Total number of body reads that exceeded the read timeout.",
			ConstLabels: opts.ConstLabels,
		}),
		TooLargeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "request_body_too_large_total",
			Help:        "Total number of request bodies rejected for exceeding the size limit.",
			ConstLabels: opts.ConstLabels,
		}),
		WaitDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "request_body_wait_duration_seconds",
			Help:        "A histogram of durations of blocking waits for the next body chunk.",
			Buckets:     waitBuckets,
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (c *MetricsCollector) MustRegister() {
	prometheus.MustRegister(c.allMetrics()...)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (c *MetricsCollector) Unregister() {
	for _, m := range c.allMetrics() {
		prometheus.Unregister(m)
	}
}

func (c *MetricsCollector) allMetrics() []prometheus.Collector {
	return []prometheus.Collector{
		c.ChunksReceived,
		c.BytesReceived,
		c.ReadTimeouts,
		c.TooLargeTotal,
		c.WaitDurations,
	}
}
