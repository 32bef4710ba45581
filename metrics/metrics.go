// Package metrics exposes linewatch's Prometheus instrumentation on
// a private registry, keeping the default registry's Go runtime noise
// out of the scrape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	APIRequests   prometheus.Counter
	APIErrors     prometheus.Counter
	APIRetries    prometheus.Counter
	KeyRotations  prometheus.Counter
	QuotaPauses   prometheus.Counter
	QuotaRequests prometheus.Gauge

	Polls            *prometheus.CounterVec // outcome label: success|error
	DeparturesStored prometheus.Counter
	MonitoredStops   prometheus.Gauge

	TickDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		APIRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linewatch_api_requests_total",
			Help: "Total transit API requests attempted (counted against quota).",
		}),
		APIErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linewatch_api_errors_total",
			Help: "Total transit API requests that failed after all retries.",
		}),
		APIRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linewatch_api_retries_total",
			Help: "Total transit API retry attempts.",
		}),
		KeyRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linewatch_key_rotations_total",
			Help: "Total API credential rotations.",
		}),
		QuotaPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linewatch_quota_pauses_total",
			Help: "Times polling paused on a provider quota error.",
		}),
		QuotaRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linewatch_quota_requests",
			Help: "Requests counted against the active credential this hour.",
		}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linewatch_polls_total",
			Help: "Stop polls by outcome.",
		}, []string{"outcome"}),
		DeparturesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linewatch_departures_stored_total",
			Help: "Departure records written to storage by the poller.",
		}),
		MonitoredStops: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linewatch_monitored_stops",
			Help: "Stops currently in the poll registry.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "linewatch_tick_duration_seconds",
			Help:    "Duration of scheduler ticks.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	reg.MustRegister(
		c.APIRequests, c.APIErrors, c.APIRetries,
		c.KeyRotations, c.QuotaPauses, c.QuotaRequests,
		c.Polls, c.DeparturesStored, c.MonitoredStops,
		c.TickDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// The collector doubles as the metrics sink for the client and the
// poller, so neither package imports prometheus directly.

func (c *Collector) RequestInc()    { c.APIRequests.Inc() }
func (c *Collector) RequestErrInc() { c.APIErrors.Inc() }
func (c *Collector) RetryInc()      { c.APIRetries.Inc() }

func (c *Collector) PollInc(outcome string)      { c.Polls.WithLabelValues(outcome).Inc() }
func (c *Collector) DeparturesStoredAdd(n int)   { c.DeparturesStored.Add(float64(n)) }
func (c *Collector) QuotaPauseInc()              { c.QuotaPauses.Inc() }
func (c *Collector) TickObserve(seconds float64) { c.TickDuration.Observe(seconds) }
