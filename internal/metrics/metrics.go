// Package metrics registers the server's Prometheus instrumentation.
//
// Exposed series:
//   - sim_orders_executed_total{kind}   – filled orders by trade kind
//   - sim_orders_rejected_total{reason} – rejected orders by taxonomy tag
//   - sim_sessions_active               – live sessions (human + bot)
//   - sim_ticks_total                   – clock ticks across all sessions
//   - broadcast_frames_dropped          – frames evicted from full queues
//   - http_requests_total{method,code}  – API requests by method and status
//
// All series live on the default registry and are served at /metrics in
// Prometheus text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_orders_executed_total",
			Help: "Filled orders by trade kind",
		},
		[]string{"kind"}, // BUY|SELL|SHORT_OPEN|SHORT_CLOSE
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sim_orders_rejected_total",
			Help: "Rejected orders by error tag",
		},
		[]string{"reason"},
	)

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sim_sessions_active",
			Help: "Live simulation sessions, human and bot",
		},
	)

	ticksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sim_ticks_total",
			Help: "Simulated days advanced across all sessions",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by method and status code",
		},
		[]string{"method", "code"},
	)
)

func init() {
	prometheus.MustRegister(ordersExecuted, ordersRejected, sessionsActive, ticksTotal, httpRequests)
}

func IncOrderExecuted(kind string)   { ordersExecuted.WithLabelValues(kind).Inc() }
func IncOrderRejected(reason string) { ordersRejected.WithLabelValues(reason).Inc() }
func SetSessionsActive(n int)        { sessionsActive.Set(float64(n)) }
func IncTicks(n int)                 { ticksTotal.Add(float64(n)) }

func IncHTTPRequest(method, code string) { httpRequests.WithLabelValues(method, code).Inc() }

// RegisterBroadcastDropped exposes the hub's eviction counter as a gauge
// read at scrape time.
func RegisterBroadcastDropped(read func() float64) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "broadcast_frames_dropped",
			Help: "Frames evicted from full subscriber queues",
		},
		read,
	))
}
