// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed connection status and uptime
//   - Message, match, and publish-error rates
//   - Reconnect and connection-error counters
//   - Token refresh outcomes
//   - Active subscription counts by identity
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and exposes the watcher's Prometheus metrics.
type Collector struct {
	connectionUp     prometheus.Gauge
	connectionUptime prometheus.Gauge
	messages         prometheus.Counter
	matches          prometheus.Counter
	publishErrors    prometheus.Counter
	reconnects       prometheus.Counter
	connectionErrors prometheus.Counter
	tokenRefreshes   *prometheus.CounterVec
	subscriptions    *prometheus.GaugeVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connectionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floatfeed_connection_up",
			Help: "1 when the feed transport is connected.",
		}),
		connectionUptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floatfeed_connection_uptime_seconds",
			Help: "Seconds the current feed connection has been up.",
		}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floatfeed_messages_total",
			Help: "Total feed publications received.",
		}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floatfeed_matches_total",
			Help: "Total subscription matches produced.",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floatfeed_publish_errors_total",
			Help: "Total failed match publishes to the sink.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floatfeed_reconnects_total",
			Help: "Total feed reconnect attempts.",
		}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floatfeed_connection_errors_total",
			Help: "Total feed connection errors.",
		}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floatfeed_token_refreshes_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "floatfeed_active_subscriptions",
			Help: "Active subscriptions by identity.",
		}, []string{"identity_id"}),
	}

	reg.MustRegister(
		c.connectionUp,
		c.connectionUptime,
		c.messages,
		c.matches,
		c.publishErrors,
		c.reconnects,
		c.connectionErrors,
		c.tokenRefreshes,
		c.subscriptions,
	)
	return c
}

// SetConnected records the connection status.
func (c *Collector) SetConnected(up bool) {
	if up {
		c.connectionUp.Set(1)
		return
	}
	c.connectionUp.Set(0)
}

// SetUptime records the current connection uptime.
func (c *Collector) SetUptime(seconds float64) {
	c.connectionUptime.Set(seconds)
}

// RecordMessage counts one received publication.
func (c *Collector) RecordMessage() {
	c.messages.Inc()
}

// RecordMatches counts produced matches.
func (c *Collector) RecordMatches(n int) {
	c.matches.Add(float64(n))
}

// RecordPublishError counts one failed sink publish.
func (c *Collector) RecordPublishError() {
	c.publishErrors.Inc()
}

// RecordReconnect counts one reconnect attempt.
func (c *Collector) RecordReconnect() {
	c.reconnects.Inc()
}

// RecordError counts one connection error.
func (c *Collector) RecordError() {
	c.connectionErrors.Inc()
}

// RecordTokenRefresh counts a token refresh by outcome.
func (c *Collector) RecordTokenRefresh(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// SetSubscriptions records the active subscription count for one identity.
func (c *Collector) SetSubscriptions(identityID int64, count int) {
	c.subscriptions.WithLabelValues(strconv.FormatInt(identityID, 10)).Set(float64(count))
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
