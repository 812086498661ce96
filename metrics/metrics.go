// Package metrics exposes Prometheus collectors for the vote path and HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"student-polling-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polling"

type Metrics struct {
	registry *prometheus.Registry

	votes         *prometheus.CounterVec
	voteAttempts  prometheus.Histogram
	voteDuration  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec
	sweptPolls    prometheus.Counter
	queueFailures prometheus.Counter
}

// New registers every collector on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote attempts by outcome.",
		}, []string{"outcome"}),
		voteAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_store_attempts",
			Help:      "Store attempts needed per vote, retries included.",
			Buckets:   []float64{1, 2, 3, 4, 6},
		}),
		voteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_duration_seconds",
			Help:      "Time spent recording a vote.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
		sweptPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_closed_by_sweeper_total",
			Help:      "Polls closed because their end date passed.",
		}),
		queueFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_event_failures_total",
			Help:      "Vote events whose consumer returned an error.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.votes, m.voteAttempts, m.voteDuration,
		m.httpRequests, m.httpDuration,
		m.rateLimited, m.sweptPolls, m.queueFailures,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveVote records the outcome of one VoteRecorder.Record call.
func (m *Metrics) ObserveVote(kind service.ErrorKind, attempts int, elapsed time.Duration) {
	outcome := "recorded"
	if kind != service.KindNone {
		outcome = kind.String()
	}
	m.votes.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.voteAttempts.Observe(float64(attempts))
	}
	m.voteDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) PollsClosed(n int) {
	m.sweptPolls.Add(float64(n))
}

func (m *Metrics) VoteEventFailed() {
	m.queueFailures.Inc()
}

// Middleware records request counts and latency labelled by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
