package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsup",
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Health probes by result (healthy, unhealthy, error).",
		}, []string{"service", "result"},
	)
	probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "healthsup",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Latency of health probes.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"service"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "healthsup",
			Subsystem: "health",
			Name:      "consecutive_failures",
			Help:      "Current run of failed probes.",
		}, []string{"service"},
	)
	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"service"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of health-triggered restarts.",
		}, []string{"service"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"service"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "launch_failures_total",
			Help:      "Number of failed launch attempts.",
		}, []string{"service"},
	)
	restartDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "restart_delay_seconds",
			Help:      "Cool-down and backoff applied before a start.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthsup",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"service", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "healthsup",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		probes, probeDuration, consecutiveFailures,
		processStarts, processRestarts, processStops, launchFailures, restartDelay,
		stateTransitions, currentStates,
		processCPUPercent, processRSS, processThreads,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveProbe(service, result string, seconds float64) {
	if regOK.Load() {
		probes.WithLabelValues(service, result).Inc()
		probeDuration.WithLabelValues(service).Observe(seconds)
	}
}

func SetConsecutiveFailures(service string, n int) {
	if regOK.Load() {
		consecutiveFailures.WithLabelValues(service).Set(float64(n))
	}
}

func IncStart(service string) {
	if regOK.Load() {
		processStarts.WithLabelValues(service).Inc()
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(service).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		processStops.WithLabelValues(service).Inc()
	}
}

func IncLaunchFailure(service string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(service).Inc()
	}
}

func ObserveRestartDelay(service string, seconds float64) {
	if regOK.Load() {
		restartDelay.WithLabelValues(service).Observe(seconds)
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

func SetCurrentState(service, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(service, state).Set(value)
	}
}
