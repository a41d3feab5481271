package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Deployments counts deployment attempts by result code.
	Deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deathchest_deployments_total",
		Help: "Total number of death chest deployment attempts by result code",
	}, []string{"code"})

	// AccessDecisions counts open/break/quick-loot decisions by outcome.
	AccessDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deathchest_access_decisions_total",
		Help: "Total number of chest access decisions by outcome",
	}, []string{"outcome"})

	Expirations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deathchest_expirations_total",
		Help: "Total number of chests removed by their expiration timer",
	})

	// Destroyed counts chest removals by cause.
	Destroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deathchest_destroyed_total",
		Help: "Total number of chests destroyed by cause",
	}, []string{"cause"})

	ActiveChests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deathchest_active_chests",
		Help: "Number of chests currently tracked",
	})

	// ProviderErrors counts protection provider failures that were treated as allow votes.
	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deathchest_protection_provider_errors_total",
		Help: "Total number of protection provider errors (fail-open)",
	}, []string{"provider"})
)
