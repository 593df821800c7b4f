package metricsvc

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/benhuang0857/mclass/core/reminder"
)

// Metrics owns a dedicated registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	jobRuns       *prometheus.CounterVec
	jobRecipients *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	ordersExpired prometheus.Counter
}

var _ reminder.Recorder = (*Metrics)(nil)

func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_runs_total",
			Help:      "Reminder job runs by job.",
		}, []string{"job"}),
		jobRecipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_notifications_total",
			Help:      "Reminder notifications by job and outcome (sent, duplicate, failed).",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reminder_duration_seconds",
			Help:      "Reminder job durations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		ordersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_expired_total",
			Help:      "Pending orders cancelled by the expiry job.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.jobRuns, m.jobRecipients, m.jobDuration, m.ordersExpired,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records every request under its route pattern, not its raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler write the response so its status is known
				c.Error(err)
			}

			code := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unknown"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			m.duration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Record(res reminder.Result) {
	m.jobRuns.WithLabelValues(res.Job).Inc()
	m.jobRecipients.WithLabelValues(res.Job, "sent").Add(float64(res.Sent))
	m.jobRecipients.WithLabelValues(res.Job, "duplicate").Add(float64(res.Duplicates))
	m.jobRecipients.WithLabelValues(res.Job, "failed").Add(float64(res.Failed))
	m.jobDuration.WithLabelValues(res.Job).Observe(res.Duration.Seconds())
	m.ordersExpired.Add(float64(res.Expired))
}
