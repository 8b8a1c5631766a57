// Package metrics exposes Prometheus collectors over the worker/pool
// domain (heartbeats, restarts, timeouts, pool size) — grounded on
// provisr's internal/metrics package (the CounterVec
// + GaugeVec + idempotent Register pattern), with the collector set
// replaced end-to-end for preforge's domain: there is no equivalent to
// provisr's per-name process start/stop metrics, since a Worker has no
// name, only a capability set and a position in one Pool.
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

	heartbeatsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preforge",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Number of HEARTBEAT rounds completed by a worker's supervisor.",
		}, []string{"capabilities"},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preforge",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of times a worker was restarted after a child-requested replacement.",
		}, []string{"capabilities"},
	)
	workerTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preforge",
			Subsystem: "worker",
			Name:      "timeouts_total",
			Help:      "Number of heartbeat rounds that timed out waiting for a reply.",
		}, []string{"capabilities"},
	)
	workerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "preforge",
			Subsystem: "worker",
			Name:      "errors_total",
			Help:      "Number of errors a worker's child raised back to its supervisor.",
		}, []string{"capabilities"},
	)
	poolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "preforge",
			Subsystem: "pool",
			Name:      "size",
			Help:      "Current number of workers tracked by a pool.",
		}, []string{"capabilities"},
	)
	poolAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "preforge",
			Subsystem: "pool",
			Name:      "alive",
			Help:      "Current number of live workers tracked by a pool.",
		}, []string{"capabilities"},
	)
)

// Register registers all metrics with the provided registerer. It is safe
// to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{heartbeatsSent, workerRestarts, workerTimeouts, workerErrors, poolSize, poolAlive}
	for _, c := range cs {
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

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller is responsible for wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight recorders used by internal/worker and
// internal/pool. They no-op if Register hasn't been called.

func IncHeartbeat(capabilities string) {
	if regOK.Load() {
		heartbeatsSent.WithLabelValues(capabilities).Inc()
	}
}

func IncRestart(capabilities string) {
	if regOK.Load() {
		workerRestarts.WithLabelValues(capabilities).Inc()
	}
}

func IncTimeout(capabilities string) {
	if regOK.Load() {
		workerTimeouts.WithLabelValues(capabilities).Inc()
	}
}

func IncError(capabilities string) {
	if regOK.Load() {
		workerErrors.WithLabelValues(capabilities).Inc()
	}
}

func SetPoolSize(capabilities string, size, alive int) {
	if regOK.Load() {
		poolSize.WithLabelValues(capabilities).Set(float64(size))
		poolAlive.WithLabelValues(capabilities).Set(float64(alive))
	}
}
