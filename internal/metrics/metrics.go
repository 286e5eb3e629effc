// Package metrics defines the Prometheus collectors raknetd exposes for its
// transport layer: bandwidth counters, active session gauge, ping RTT
// histogram, and blocked-IP counter.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every metric the server and session layers report
// into. A nil *Collectors is safe to call methods on (all become no-ops),
// so metrics can be disabled without branching at every call site.
type Collectors struct {
	bandwidthSent     prometheus.Counter
	bandwidthReceived prometheus.Counter
	sessionsActive    prometheus.Gauge
	pingRTT           prometheus.Histogram
	blockedIPs        prometheus.Counter
}

// New constructs and registers the collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		bandwidthSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raknet_bandwidth_sent_bytes_total",
			Help: "Total bytes written to the UDP socket.",
		}),
		bandwidthReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raknet_bandwidth_received_bytes_total",
			Help: "Total bytes read from the UDP socket.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raknet_sessions_active",
			Help: "Number of sessions that are not yet disconnected.",
		}),
		pingRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "raknet_ping_rtt_ms",
			Help:    "Measured connected-ping round-trip time, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		blockedIPs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raknet_blocked_ips_total",
			Help: "Total number of times an IP was rate-limit blocked.",
		}),
	}
	reg.MustRegister(c.bandwidthSent, c.bandwidthReceived, c.sessionsActive, c.pingRTT, c.blockedIPs)
	return c
}

func (c *Collectors) AddBandwidthSent(n int) {
	if c == nil {
		return
	}
	c.bandwidthSent.Add(float64(n))
}

func (c *Collectors) AddBandwidthReceived(n int) {
	if c == nil {
		return
	}
	c.bandwidthReceived.Add(float64(n))
}

func (c *Collectors) SetSessionsActive(n int) {
	if c == nil {
		return
	}
	c.sessionsActive.Set(float64(n))
}

func (c *Collectors) ObservePingRTT(d time.Duration) {
	if c == nil {
		return
	}
	c.pingRTT.Observe(float64(d.Milliseconds()))
}

func (c *Collectors) IncBlockedIPs() {
	if c == nil {
		return
	}
	c.blockedIPs.Inc()
}
