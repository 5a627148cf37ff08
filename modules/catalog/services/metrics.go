package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var patchTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "catalog",
	Subsystem: "patches",
	Name:      "transitions_total",
	Help:      "Total number of patch lifecycle transitions broken down by target kind and action.",
}, []string{"kind", "action"})

func recordTransition(kind, action string) {
	patchTransitions.WithLabelValues(kind, action).Inc()
}
