package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_http_requests_total",
			Help: "Total number of HTTP requests processed by the room chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roomchat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_sends_total",
			Help: "Comment sends by outcome (created, replayed, or the error code).",
		},
		[]string{"outcome"},
	)
	sendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roomchat_send_duration_seconds",
			Help:    "Send pipeline latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	sendConflictRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_send_conflict_retries_total",
			Help: "Appends retried after a transaction conflict.",
		},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_uploads_total",
			Help: "Attachment uploads by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	tokensPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_send_tokens_purged_total",
			Help: "Expired send tokens removed by the purge job.",
		},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	publishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_event_publish_errors_total",
			Help: "Total number of event bus publish errors.",
		},
		[]string{"backend"},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_rate_limited_total",
			Help: "Requests rejected by the send rate limiter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		sendsTotal,
		sendDuration,
		sendConflictRetries,
		uploadsTotal,
		tokensPurgedTotal,
		wsActiveConnections,
		wsEventsTotal,
		publishErrorsTotal,
		rateLimitedTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// ObserveSend records one pipeline call.
func ObserveSend(outcome string, elapsed time.Duration) {
	sendsTotal.WithLabelValues(outcome).Inc()
	sendDuration.Observe(elapsed.Seconds())
}

func IncSendConflictRetry() {
	sendConflictRetries.Inc()
}

func IncUpload(kind, outcome string) {
	uploadsTotal.WithLabelValues(kind, outcome).Inc()
}

func AddTokensPurged(n int64) {
	tokensPurgedTotal.Add(float64(n))
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncPublishError(backend string) {
	publishErrorsTotal.WithLabelValues(backend).Inc()
}

func IncRateLimited() {
	rateLimitedTotal.Inc()
}
