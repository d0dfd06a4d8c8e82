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

	flips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencer",
			Subsystem: "agent",
			Name:      "flips_total",
			Help:      "Number of successful presence flips per agent.",
		}, []string{"agent"},
	)
	flipErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencer",
			Subsystem: "agent",
			Name:      "flip_errors_total",
			Help:      "Number of failed flip attempts (write errors) per agent.",
		}, []string{"agent"},
	)
	agentActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "presencer",
			Subsystem: "agent",
			Name:      "active",
			Help:      "Last written presence value per agent (1 = active).",
		}, []string{"agent"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencer",
			Subsystem: "watcher",
			Name:      "transitions_observed_total",
			Help:      "Number of modified events observed per watching agent.",
		}, []string{"observer"},
	)
	stateEchoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencer",
			Subsystem: "watcher",
			Name:      "state_echoes_total",
			Help:      "Number of full-state observations emitted per watching agent.",
		}, []string{"observer"},
	)
	watcherErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presencer",
			Subsystem: "watcher",
			Name:      "errors_total",
			Help:      "Number of subscription errors that ended a watcher.",
		}, []string{"observer"},
	)
	activeWatchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "presencer",
			Subsystem: "watcher",
			Name:      "subscribed",
			Help:      "Current number of subscribed watchers.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{flips, flipErrors, agentActive, transitions, stateEchoes, watcherErrors, activeWatchers}
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

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route and server.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncFlip(agent string) {
	if regOK.Load() {
		flips.WithLabelValues(agent).Inc()
	}
}

func IncFlipError(agent string) {
	if regOK.Load() {
		flipErrors.WithLabelValues(agent).Inc()
	}
}

func SetAgentActive(agent string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1.0
		}
		agentActive.WithLabelValues(agent).Set(v)
	}
}

func IncTransitionObserved(observer string) {
	if regOK.Load() {
		transitions.WithLabelValues(observer).Inc()
	}
}

func IncStateEcho(observer string) {
	if regOK.Load() {
		stateEchoes.WithLabelValues(observer).Inc()
	}
}

func IncWatcherError(observer string) {
	if regOK.Load() {
		watcherErrors.WithLabelValues(observer).Inc()
	}
}

func WatcherSubscribed() {
	if regOK.Load() {
		activeWatchers.Inc()
	}
}

func WatcherUnsubscribed() {
	if regOK.Load() {
		activeWatchers.Dec()
	}
}
