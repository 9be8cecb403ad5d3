package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Bulk jobs

	JobDuration  *prometheus.HistogramVec
	JobResults   *prometheus.CounterVec
	JobTargets   *prometheus.CounterVec
	JobsInFlight prometheus.Gauge

	RateLimitRejections *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventops",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventops",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				// Sane initial defaults
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "eventops",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventops",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventops",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventops",
				Subsystem: "jobs",
				Name:      "duration_seconds",
				Help:      "Bulk job run duration by type and terminal status",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"job_type", "status"}, // status=completed|failed|cancelled
		),
		JobResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventops",
				Subsystem: "jobs",
				Name:      "results_total",
				Help:      "Job terminal statuses by type.",
			},
			[]string{"job_type", "status"},
		),
		JobTargets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventops",
				Subsystem: "jobs",
				Name:      "targets_total",
				Help:      "Per-target outcomes by job type.",
			},
			[]string{"job_type", "outcome"}, // outcome=ok|failed|skipped
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "eventops",
				Subsystem: "jobs",
				Name:      "in_flight",
				Help:      "Current number of running bulk jobs in this process.",
			},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventops",
				Name:      "ratelimit_rejections_total",
				Help:      "Admin actions rejected by the rate limiter.",
			},
			[]string{"action"},
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.JobDuration, p.JobResults, p.JobTargets, p.JobsInFlight,
		p.RateLimitRejections,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing; best effort:
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}

// ObserveJob records a finished bulk job. Safe on a nil receiver.
func (p *Prom) ObserveJob(jobType, status string, d time.Duration) {
	if p == nil {
		return
	}

	p.JobResults.WithLabelValues(jobType, status).Inc()
	p.JobDuration.WithLabelValues(jobType, status).Observe(d.Seconds())
}

func (p *Prom) ObserveTarget(jobType, outcome string) {
	if p == nil {
		return
	}

	p.JobTargets.WithLabelValues(jobType, outcome).Inc()
}

func (p *Prom) JobStarted() {
	if p != nil {
		p.JobsInFlight.Inc()
	}
}

func (p *Prom) JobStopped() {
	if p != nil {
		p.JobsInFlight.Dec()
	}
}

func (p *Prom) RateLimited(action string) {
	if p != nil {
		p.RateLimitRejections.WithLabelValues(action).Inc()
	}
}
