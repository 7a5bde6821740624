package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// ModuleMetrics returns the lazily-initialised metrics registry used to
// record JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewardnet",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewardnet",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by method and status code.",
			}, []string{"method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rewardnet",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// EngineMetrics wraps collectors tracking reward engine activity.
type EngineMetrics struct {
	accruals *prometheus.CounterVec
	grants   *prometheus.CounterVec
	plans    prometheus.Counter
}

// Engine exposes the metrics registry for the rewards engine.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewardnet",
				Subsystem: "engine",
				Name:      "accruals_total",
				Help:      "Count of reward calls that minted accrual units, segmented by asset.",
			}, []string{"asset"}),
			grants: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rewardnet",
				Subsystem: "engine",
				Name:      "grants_total",
				Help:      "Count of reward calls that crossed the plan threshold, segmented by asset.",
			}, []string{"asset"}),
			plans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rewardnet",
				Subsystem: "engine",
				Name:      "plans_created_total",
				Help:      "Count of reward plans created.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.accruals,
			engineRegistry.grants,
			engineRegistry.plans,
		)
	})
	return engineRegistry
}

// RecordAccrual counts one reward call and, when the threshold was crossed,
// one grant.
func (m *EngineMetrics) RecordAccrual(asset string, granted bool) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.accruals.WithLabelValues(label).Inc()
	if granted {
		m.grants.WithLabelValues(label).Inc()
	}
}

// RecordPlanCreated counts one plan creation.
func (m *EngineMetrics) RecordPlanCreated() {
	if m == nil {
		return
	}
	m.plans.Inc()
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}
