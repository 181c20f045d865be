package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "svcman"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stop requests that signalled a live service.",
		}, []string{"name"},
	)
	serviceExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "exits_total",
			Help:      "Observed service process exits by exit code.",
		}, []string{"name", "code"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "spawn_failures_total",
			Help:      "Number of spawn attempts that failed.",
		}, []string{"name"},
	)
	portConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "port_conflicts_total",
			Help:      "Start requests refused because the service port was already bound.",
		}, []string{"name"},
	)
	serviceRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "running",
			Help:      "1 while the supervisor holds a live entry for the service.",
		}, []string{"name"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events published on the bus by SSE event name.",
		}, []string{"event"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because a channel subscriber was full.",
		}, []string{"event"},
	)
	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Current number of event subscribers.",
		},
	)
	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Rejected requests on the authenticated control surface.",
		}, []string{"reason"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceStops, serviceExits, spawnFailures, portConflicts,
		serviceRunning, eventsPublished, eventsDropped, subscribers, authFailures,
	}
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer, e.g. a private registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register succeeds.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncExit(name string, code int) {
	if regOK.Load() {
		serviceExits.WithLabelValues(name, strconv.Itoa(code)).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncPortConflict(name string) {
	if regOK.Load() {
		portConflicts.WithLabelValues(name).Inc()
	}
}

func SetRunning(name string, running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		serviceRunning.WithLabelValues(name).Set(v)
	}
}

func IncEventPublished(event string) {
	if regOK.Load() {
		eventsPublished.WithLabelValues(event).Inc()
	}
}

func IncEventDropped(event string) {
	if regOK.Load() {
		eventsDropped.WithLabelValues(event).Inc()
	}
}

func SetSubscribers(n int) {
	if regOK.Load() {
		subscribers.Set(float64(n))
	}
}

func IncAuthFailure(reason string) {
	if regOK.Load() {
		authFailures.WithLabelValues(reason).Inc()
	}
}
