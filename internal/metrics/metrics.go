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

	profileStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "starts_total",
			Help:      "Number of server processes spawned.",
		}, []string{"profile"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "launch_failures_total",
			Help:      "Number of start attempts rejected before or during spawn.",
		}, []string{"profile"},
	)
	profileStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "stops_total",
			Help:      "Number of cooperative stop requests.",
		}, []string{"profile"},
	)
	profileKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "kills_total",
			Help:      "Number of forced terminations (operator or stop timeout).",
		}, []string{"profile"},
	)
	profileExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "exits_total",
			Help:      "Number of process exits, labelled by whether a stop was requested.",
		}, []string{"profile", "expected"},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "commands_total",
			Help:      "Number of console commands written to server stdin.",
		}, []string{"profile"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between profile states.",
		}, []string{"profile", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "craftvisor",
			Subsystem: "profile",
			Name:      "current_state",
			Help:      "Current state of profiles (1 = active state, 0 = inactive).",
		}, []string{"profile", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

func collectors() []prometheus.Collector {
	return []prometheus.Collector{profileStarts, launchFailures, profileStops, profileKills, profileExits, commandsSent, stateTransitions, currentStates}
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(profile string) {
	if regOK.Load() {
		profileStarts.WithLabelValues(profile).Inc()
	}
}

func IncLaunchFailure(profile string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(profile).Inc()
	}
}

func IncStop(profile string) {
	if regOK.Load() {
		profileStops.WithLabelValues(profile).Inc()
	}
}

func IncKill(profile string) {
	if regOK.Load() {
		profileKills.WithLabelValues(profile).Inc()
	}
}

func IncExit(profile string, expected bool) {
	if regOK.Load() {
		e := "false"
		if expected {
			e = "true"
		}
		profileExits.WithLabelValues(profile, e).Inc()
	}
}

func IncCommand(profile string) {
	if regOK.Load() {
		commandsSent.WithLabelValues(profile).Inc()
	}
}

func RecordStateTransition(profile, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(profile, from, to).Inc()
	}
}

// SetCurrentState marks state as the active one for profile and clears the others.
func SetCurrentState(profile, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		var value float64
		if s == state {
			value = 1
		}
		currentStates.WithLabelValues(profile, s).Set(value)
	}
}
