package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Business metrics
	WebhooksReceived    *prometheus.CounterVec
	Fulfillments        *prometheus.CounterVec
	CommissionsCredited prometheus.Counter
	ReconciledUsers     *prometheus.CounterVec
	WalletCorrections   prometheus.Counter
	OrphanConversions   *prometheus.CounterVec
	LastReconcileRun    prometheus.Gauge

	// Queue metrics
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		WebhooksReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhooks_total",
				Help: "Payment gateway callbacks by outcome",
			},
			[]string{"outcome"}, // accepted, duplicate, rejected, failed
		),
		Fulfillments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_fulfillments_total",
				Help: "Fulfillment runs by transaction type and result",
			},
			[]string{"type", "result"}, // applied, unchanged, failed
		),
		CommissionsCredited: factory.NewCounter(prometheus.CounterOpts{
			Name: "affiliate_commissions_credited_total",
			Help: "Number of affiliate commissions credited to wallets",
		}),
		ReconciledUsers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_users_total",
				Help: "Users processed by reconciliation runs by outcome",
			},
			[]string{"outcome"}, // clean, corrected, flagged, failed
		),
		WalletCorrections: factory.NewCounter(prometheus.CounterOpts{
			Name: "wallet_corrections_total",
			Help: "Audited wallet corrections applied",
		}),
		OrphanConversions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orphan_conversions_total",
				Help: "Orphan affiliate conversions handled by action",
			},
			[]string{"action"}, // repaired, pruned
		),
		LastReconcileRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reconcile_last_run_timestamp_seconds",
			Help: "Unix time of the last finished reconciliation run",
		}),

		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_jobs_processed_total",
				Help: "Queue jobs processed by type and result",
			},
			[]string{"type", "result"}, // completed, retried, failed
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "queue_job_duration_seconds",
				Help:    "Queue job processing time in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"type"},
		),
	}
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware creates a gin middleware for Prometheus metrics
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// Route pattern, not the raw path, keeps label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
	}
}

// RecordWebhook counts one gateway callback
func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhooksReceived.WithLabelValues(outcome).Inc()
}

// RecordFulfillment counts one fulfillment run
func (m *Metrics) RecordFulfillment(txType, result string, credited bool) {
	if m == nil {
		return
	}
	m.Fulfillments.WithLabelValues(txType, result).Inc()
	if credited {
		m.CommissionsCredited.Inc()
	}
}

// RecordReconciledUser counts one user processed by a reconciliation run
func (m *Metrics) RecordReconciledUser(outcome string) {
	if m == nil {
		return
	}
	m.ReconciledUsers.WithLabelValues(outcome).Inc()
	if outcome == "corrected" {
		m.WalletCorrections.Inc()
	}
}

// RecordOrphans counts repaired or pruned orphan conversions
func (m *Metrics) RecordOrphans(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OrphanConversions.WithLabelValues(action).Add(float64(n))
}

// MarkReconcileRun records when a reconciliation run finished
func (m *Metrics) MarkReconcileRun(at time.Time) {
	if m == nil {
		return
	}
	m.LastReconcileRun.Set(float64(at.Unix()))
}

// RecordJob counts one processed queue job
func (m *Metrics) RecordJob(jobType, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.JobsProcessed.WithLabelValues(jobType, result).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(took.Seconds())
}
