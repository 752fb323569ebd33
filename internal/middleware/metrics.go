package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobportal/identity/internal/guard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "jobportal_identity"

var (
	requestsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Requests served, by route template and status code.",
	}, []string{"method", "route", "status"})

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Request latency by route template.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method", "route"})

	// outcome: success, expired, invalid_signature
	tokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "token",
		Name:      "verifications_total",
		Help:      "Access token verifications by outcome.",
	}, []string{"outcome"})

	// decision: allow, not_authenticated, role_mismatch
	guardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "guard",
		Name:      "decisions_total",
		Help:      "Authorization decisions on protected routes.",
	}, []string{"decision"})
)

// Metrics creates a Prometheus metrics middleware
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsServed.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		requestLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordJWTValidation records an access token verification outcome
func RecordJWTValidation(status string) {
	tokenVerifications.WithLabelValues(status).Inc()
}

// RecordAuthorization records a guard decision
func RecordAuthorization(d guard.Decision) {
	label := "allow"
	if !d.Allowed() {
		label = d.Reason.String()
	}
	guardDecisions.WithLabelValues(label).Inc()
}
