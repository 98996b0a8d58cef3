/*
Package metrics exposes the resolver's operational counters as Prometheus metrics, grounded on the
prometheus.Collector pattern used by the pack's go-tcpinfo family
(runZeroInc-conniver/runZeroInc-sockstats pkg/exporter.TCPInfoCollector).

rdns.New always constructs a *Collector and the resolver updates it as it works; a host exposes it
by calling Resolver.Collector() and registering it with their own prometheus.Registry. A nil
*Collector is also valid, and every method on it is a no-op.
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every counter/gauge the resolver populates. It implements
// prometheus.Collector so it can be registered directly with a registry.
type Collector struct {
	requestsStarted   prometheus.Counter
	retransmits       prometheus.Counter
	timeouts          prometheus.Counter
	netErrors         prometheus.Counter
	truncReschedules  prometheus.Counter
	channelRefreshes  prometheus.Counter
	inFlightByChannel prometheus.Gauge
}

// New constructs a Collector with all metrics registered under the "rdns" namespace.
func New() *Collector {
	return &Collector{
		requestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdns", Name: "requests_started_total",
			Help: "Total number of requests dispatched by make_request.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdns", Name: "retransmits_total",
			Help: "Total number of retransmit attempts issued by the request state machine.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdns", Name: "timeouts_total",
			Help: "Total number of requests that exhausted their retransmit budget.",
		}),
		netErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdns", Name: "net_errors_total",
			Help: "Total number of send/receive failures delivered to callers as NETERR.",
		}),
		truncReschedules: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdns", Name: "truncation_reschedules_total",
			Help: "Total number of UDP replies rescheduled over TCP after truncation.",
		}),
		channelRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rdns", Name: "channel_refreshes_total",
			Help: "Total number of UDP channels recycled after exceeding max_ioc_uses.",
		}),
		inFlightByChannel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rdns", Name: "in_flight_requests",
			Help: "Current number of requests awaiting a reply across all channels.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c == nil {
		return
	}
	for _, m := range c.collectors() {
		ch <- m.Desc()
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}
	for _, m := range c.collectors() {
		ch <- m
	}
}

func (c *Collector) collectors() []prometheus.Metric {
	return []prometheus.Metric{
		c.requestsStarted, c.retransmits, c.timeouts,
		c.netErrors, c.truncReschedules, c.channelRefreshes, c.inFlightByChannel,
	}
}

func (c *Collector) RequestStarted() {
	if c == nil {
		return
	}
	c.requestsStarted.Inc()
	c.inFlightByChannel.Inc()
}

func (c *Collector) RequestFinished() {
	if c == nil {
		return
	}
	c.inFlightByChannel.Dec()
}

func (c *Collector) Retransmit() {
	if c == nil {
		return
	}
	c.retransmits.Inc()
}

func (c *Collector) Timeout() {
	if c == nil {
		return
	}
	c.timeouts.Inc()
}

func (c *Collector) NetError() {
	if c == nil {
		return
	}
	c.netErrors.Inc()
}

func (c *Collector) TruncationReschedule() {
	if c == nil {
		return
	}
	c.truncReschedules.Inc()
}

func (c *Collector) ChannelRefresh() {
	if c == nil {
		return
	}
	c.channelRefreshes.Inc()
}
