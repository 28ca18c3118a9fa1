package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	echoRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	echoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "echo_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	echoVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_verifications_total",
		Help: "Total proof verifications by result.",
	}, []string{"result"})

	echoRetrievalAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_retrieval_attempts_total",
		Help: "Total blob retrieval attempts by outcome.",
	}, []string{"outcome"})

	echoDependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "echo_dependency_up",
		Help: "1 when the last probe of a dependency succeeded.",
	}, []string{"dependency"})

	echoUploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_uploads_total",
		Help: "Total recordings uploaded.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		echoRequestsTotal.WithLabelValues(method, path, status).Inc()
		echoRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordVerification records a verification result.
func RecordVerification(valid bool) {
	if valid {
		echoVerificationsTotal.WithLabelValues("valid").Inc()
	} else {
		echoVerificationsTotal.WithLabelValues("invalid").Inc()
	}
}

// RecordRetrievalAttempt records one blob retrieval attempt.
func RecordRetrievalAttempt(outcome string) {
	echoRetrievalAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordDependency records a dependency probe result.
func RecordDependency(dependency string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	echoDependencyUp.WithLabelValues(dependency).Set(v)
}

func recordUpload() {
	echoUploadsTotal.Inc()
}
