// Package metrics holds the prometheus instruments shared across
// components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitions counts accepted host state changes by target state.
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_state_transitions_total",
		Help: "Host state transitions by target state.",
	}, []string{"to"})

	// InstallAttemptsClosed counts closed install attempts by outcome.
	InstallAttemptsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_install_attempts_total",
		Help: "Closed install attempts by outcome.",
	}, []string{"outcome"})

	// LeaseAllocations counts successful address allocations.
	LeaseAllocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_lease_allocations_total",
		Help: "Successful address lease allocations.",
	})

	// PoolExhaustions counts allocation attempts that found no free address.
	PoolExhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forge_pool_exhaustions_total",
		Help: "Allocation attempts rejected because the pool was full.",
	})

	// RouteApplies counts route policy applications by result.
	RouteApplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_route_applies_total",
		Help: "Route policy applications by result.",
	}, []string{"result"})
)
