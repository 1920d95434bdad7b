package metrics

/*
bitsquat — bit-flip domain name auditing tool in Go
Copyright (C) 2025  Pepijn van der Stap <bitsquat@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application.
// The "source" label is the input source an audit came from (a file path
// or "stdin"), "worker_id" the scheduler worker that processed it.
type Metrics struct {
	// Domain audit metrics
	AuditDuration        *prometheus.HistogramVec
	DomainsProcessed     *prometheus.CounterVec
	DomainsSkipped       *prometheus.CounterVec
	VariantsGenerated    *prometheus.CounterVec
	RegistrableHitsTotal *prometheus.CounterVec

	// Queue metrics
	QueueSize            *prometheus.GaugeVec
	QueueLatency         *prometheus.HistogramVec
	QueuePressure        *prometheus.GaugeVec
	QueueCapacity        *prometheus.GaugeVec
	QueueBackpressureHit *prometheus.CounterVec

	// Worker metrics
	WorkerBusy         *prometheus.GaugeVec
	WorkerProcessed    *prometheus.CounterVec
	WorkerErrors       *prometheus.CounterVec
	WorkerPanics       *prometheus.CounterVec
	WorkerIdleDuration *prometheus.HistogramVec
	WorkerRateLimit    *prometheus.GaugeVec

	// Disk I/O metrics
	DiskWriteDuration *prometheus.HistogramVec
	DiskWriteBytes    *prometheus.HistogramVec
	DiskWriteOps      *prometheus.CounterVec
	DiskErrors        *prometheus.CounterVec

	// Scheduler metrics
	SchedulerWorkSubmitted  *prometheus.CounterVec
	SchedulerWorkCompleted  *prometheus.CounterVec
	SchedulerWorkFailed     *prometheus.CounterVec
	SchedulerRateLimitDelay *prometheus.HistogramVec
	SchedulerRetriesRate    *prometheus.GaugeVec
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled = true
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.000001, .00001, .0001, .001, .005, .01, .05, .1, .5, 1}
	byteBuckets := []float64{64, 256, 1024, 4 * 1024, 16 * 1024, 64 * 1024, 256 * 1024, 1024 * 1024}

	m := &Metrics{
		// Domain audit metrics
		AuditDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitsquat_audit_duration_seconds",
				Help:    "Time spent enumerating and classifying one domain",
				Buckets: buckets,
			},
			[]string{"source"},
		),
		DomainsProcessed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_domains_processed_total",
				Help: "Total number of domains audited",
			},
			[]string{"source", "status"},
		),
		DomainsSkipped: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_domains_skipped_total",
				Help: "Total number of input lines skipped before auditing",
			},
			[]string{"source", "reason"},
		),
		VariantsGenerated: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_variants_generated_total",
				Help: "Total number of bit-flip variants generated, by label kind",
			},
			[]string{"kind"},
		),
		RegistrableHitsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_registrable_hits_total",
				Help: "Total number of TLD variants classified registrable",
			},
			[]string{"source"},
		),

		// Queue metrics
		QueueSize: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitsquat_queue_size",
				Help: "Current size of work queues",
			},
			[]string{"worker_id"},
		),
		QueueLatency: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitsquat_queue_latency_seconds",
				Help:    "Time items spend in queue before processing",
				Buckets: buckets,
			},
			[]string{"worker_id"},
		),
		QueuePressure: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitsquat_queue_pressure",
				Help: "Queue pressure as a ratio of current size to capacity (0-1)",
			},
			[]string{"worker_id"},
		),
		QueueCapacity: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitsquat_queue_capacity",
				Help: "Maximum capacity of work queues",
			},
			[]string{"worker_id"},
		),
		QueueBackpressureHit: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_queue_backpressure_hits_total",
				Help: "Number of times backpressure was applied due to full queue",
			},
			[]string{"worker_id"},
		),

		// Worker metrics
		WorkerBusy: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitsquat_worker_busy",
				Help: "Whether a worker is currently busy (1) or idle (0)",
			},
			[]string{"worker_id"},
		),
		WorkerProcessed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_worker_processed_total",
				Help: "Total number of items processed by a worker",
			},
			[]string{"worker_id"},
		),
		WorkerErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_worker_errors_total",
				Help: "Total number of errors encountered by a worker",
			},
			[]string{"worker_id", "error_type"},
		),
		WorkerPanics: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),
		WorkerIdleDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitsquat_worker_idle_duration_seconds",
				Help:    "Time workers spend idle waiting for work",
				Buckets: buckets,
			},
			[]string{"worker_id"},
		),
		WorkerRateLimit: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitsquat_worker_rate_limit",
				Help: "Current rate limit for each worker",
			},
			[]string{"worker_id"},
		),

		// Disk I/O metrics
		DiskWriteDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitsquat_disk_write_duration_seconds",
				Help:    "Time spent writing report lines",
				Buckets: buckets,
			},
			[]string{"source"},
		),
		DiskWriteBytes: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitsquat_disk_write_bytes",
				Help:    "Size of report writes",
				Buckets: byteBuckets,
			},
			[]string{"source"},
		),
		DiskWriteOps: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_disk_write_ops_total",
				Help: "Total number of report write operations",
			},
			[]string{"source"},
		),
		DiskErrors: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_disk_errors_total",
				Help: "Total number of disk errors",
			},
			[]string{"source", "error_type"},
		),

		// Scheduler metrics
		SchedulerWorkSubmitted: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_scheduler_work_submitted_total",
				Help: "Total number of work items submitted to the scheduler",
			},
			[]string{"source"},
		),
		SchedulerWorkCompleted: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_scheduler_work_completed_total",
				Help: "Total number of work items completed by the scheduler",
			},
			[]string{"source"},
		),
		SchedulerWorkFailed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bitsquat_scheduler_work_failed_total",
				Help: "Total number of work items that failed processing",
			},
			[]string{"source", "error_type"},
		),
		SchedulerRateLimitDelay: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bitsquat_scheduler_rate_limit_delay_seconds",
				Help:    "Time spent waiting due to rate limiting",
				Buckets: buckets,
			},
			[]string{"source"},
		),
		SchedulerRetriesRate: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bitsquat_scheduler_retries_rate",
				Help: "Rate of retries per second",
			},
			[]string{"source"},
		),
	}

	return m
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !metricsEnabled {
		return nil
	}

	// Only start once
	var startErr error
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:    addr,
			Handler: mux,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return startErr
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration is a helper to measure the duration of a function.
// Call the returned func when the measured section ends, typically via defer.
func MeasureDuration(histogram *prometheus.HistogramVec, labelValues ...string) func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		histogram.WithLabelValues(labelValues...).Observe(duration.Seconds())
	}
}

// WorkerLabel formats a worker ID for the worker_id label.
func WorkerLabel(workerID int) string {
	return strconv.Itoa(workerID)
}

// UpdateQueueMetrics updates queue metrics for a worker
func (m *Metrics) UpdateQueueMetrics(workerID int, queueSize, queueCapacity int) {
	if !metricsEnabled {
		return
	}

	id := WorkerLabel(workerID)
	m.QueueSize.WithLabelValues(id).Set(float64(queueSize))
	m.QueueCapacity.WithLabelValues(id).Set(float64(queueCapacity))

	if queueCapacity > 0 {
		pressure := float64(queueSize) / float64(queueCapacity)
		m.QueuePressure.WithLabelValues(id).Set(pressure)
	}
}

// UpdateWorkerRateLimit updates the rate limit metric for a worker
func (m *Metrics) UpdateWorkerRateLimit(workerID int, rateLimit float64) {
	if !metricsEnabled {
		return
	}

	m.WorkerRateLimit.WithLabelValues(WorkerLabel(workerID)).Set(rateLimit)
}

// UpdateRetriesRate updates the retries rate metric
func (m *Metrics) UpdateRetriesRate(source string, retriesPerSecond float64) {
	if !metricsEnabled {
		return
	}

	m.SchedulerRetriesRate.WithLabelValues(source).Set(retriesPerSecond)
}
