// Package metrics exposes the fleet's Prometheus collectors and the
// /metrics handler shared by all four services.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RetryAttempts counts every attempt made by the error-recovery driver,
	// tagged by strategy and outcome reason.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytarchive_retry_attempts_total",
		Help: "Retry attempts made by the error-recovery driver.",
	}, []string{"strategy", "reason", "outcome"})

	// CircuitBreakerState reports 0=closed, 1=half_open, 2=open per breaker.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytarchive_circuit_breaker_state",
		Help: "Circuit breaker state per named breaker (0=closed,1=half_open,2=open).",
	}, []string{"breaker"})

	// DownloadTasks tracks the live count of tasks per status.
	DownloadTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytarchive_download_tasks",
		Help: "Download tasks by status.",
	}, []string{"status"})

	// JobsTotal counts jobs by terminal status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytarchive_jobs_total",
		Help: "Jobs processed, by job_type and terminal status.",
	}, []string{"job_type", "status"})

	// QuotaUnitsUsed tracks YouTube Data API quota consumption.
	QuotaUnitsUsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ytarchive_metadata_quota_units_total",
		Help: "YouTube Data API quota units consumed.",
	})
)

// Handler returns the gin handler serving the Prometheus exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// BreakerState constants for CircuitBreakerState.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)
