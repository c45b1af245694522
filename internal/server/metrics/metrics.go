// Package metrics exports script host measurements in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/host"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nitr"

const (
	MetricCalls        = "handler_calls_total"
	MetricCallDuration = "handler_call_duration_seconds"
	MetricGateWait     = "gate_wait_duration_seconds"
	MetricReloads      = "handler_reloads_total"
)

var _ host.Observer = (*Collector)(nil)

// Collector records host observations into a private registry.
type Collector struct {
	registry     *prometheus.Registry
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	gateWait     prometheus.Histogram
	reloads      *prometheus.CounterVec
}

// New creates a Collector. The registry also carries the Go runtime and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricCalls,
			Help:      "Handler invocations by outcome.",
		}, []string{"outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricCallDuration,
			Help:      "Time spent running the handler, including reload and marshaling.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		gateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricGateWait,
			Help:      "Time a request waited for the script engine.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricReloads,
			Help:      "Handler reload attempts by result.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.calls,
		c.callDuration,
		c.gateWait,
		c.reloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveCall(outcome string, d time.Duration) {
	c.calls.WithLabelValues(outcome).Inc()
	c.callDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (c *Collector) ObserveGateWait(d time.Duration) {
	c.gateWait.Observe(d.Seconds())
}

func (c *Collector) ObserveReload(result string) {
	c.reloads.WithLabelValues(result).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
