// Package metrics provides Prometheus instrumentation for the dashboard services.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dashboard_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SessionsActive tracks operator sessions with a live websocket or REST reference.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dashboard_sessions_active",
			Help: "Number of active dashboard sessions",
		},
	)

	// ChangeEventsTotal counts change-feed events applied by reconcilers.
	ChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_change_events_total",
			Help: "Change-feed events applied, by table and outcome",
		},
		[]string{"table", "outcome"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_transfers_total",
			Help: "Department transfers, by path and result",
		},
		[]string{"path", "result"},
	)

	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_messages_sent_total",
			Help: "Outbound messages written by operators",
		},
		[]string{"company_id"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_webhook_deliveries_total",
			Help: "Automation webhook deliveries, by result",
		},
		[]string{"result"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dashboard_poll_duration_seconds",
			Help:    "Duration of one safety-net poll over all open conversations",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// Middleware records request metrics labelled by the matched route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

func RecordChangeEvent(table, outcome string) {
	ChangeEventsTotal.WithLabelValues(table, outcome).Inc()
}

func RecordTransfer(path, result string) {
	TransfersTotal.WithLabelValues(path, result).Inc()
}

func RecordWebhook(result string) {
	WebhookDeliveriesTotal.WithLabelValues(result).Inc()
}
