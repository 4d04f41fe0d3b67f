package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eureka",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eureka",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	jobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Subsystem: "etl",
			Name:      "jobs_submitted_total",
			Help:      "Total number of ETL jobs queued.",
		},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Subsystem: "etl",
			Name:      "jobs_finished_total",
			Help:      "Total number of ETL jobs that reached a terminal state.",
		},
		[]string{"status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eureka",
			Subsystem: "etl",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of ETL jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		},
		[]string{"status"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eureka",
			Subsystem: "etl",
			Name:      "queue_depth",
			Help:      "Number of ETL tasks waiting for a worker.",
		},
	)

	validationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Subsystem: "etl",
			Name:      "validation_events_total",
			Help:      "Data validation events raised while checking uploaded data.",
		},
		[]string{"severity"},
	)

	accessEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eureka",
			Subsystem: "audit",
			Name:      "access_total",
			Help:      "Audited API accesses by resource, action and outcome.",
		},
		[]string{"resource", "action", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		jobsSubmitted,
		jobsFinished,
		jobDuration,
		queueDepth,
		validationEvents,
		accessEvents,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies labelled by the matched
// route template, so /protected/jobs/1 and /protected/jobs/2 share a series.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().URL.Path == "/metrics" {
				return next(c)
			}

			start := time.Now()
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method

			httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordJobSubmitted counts a job handed to the task queue.
func RecordJobSubmitted() {
	jobsSubmitted.Inc()
}

// RecordJobFinished records a job's terminal status and run time.
func RecordJobFinished(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	jobsFinished.WithLabelValues(status).Inc()
	jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetQueueDepth publishes the number of queued ETL tasks.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordValidationEvent counts one data validation event.
func RecordValidationEvent(fatal bool) {
	severity := "warning"
	if fatal {
		severity = "fatal"
	}
	validationEvents.WithLabelValues(severity).Inc()
}

// RecordAccess counts one audited API access. Outcome is "ok", "denied"
// for 401/403, or "failed" for any other status of 400 and above.
func RecordAccess(resource, action string, status int) {
	outcome := "ok"
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		outcome = "denied"
	case status >= http.StatusBadRequest:
		outcome = "failed"
	}
	accessEvents.WithLabelValues(resource, action, outcome).Inc()
}
