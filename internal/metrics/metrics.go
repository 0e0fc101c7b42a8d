// Package metrics exposes the service's Prometheus instruments. Counters
// are registered at init via promauto and scraped from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts login outcomes by result
	// (success, invalid_credentials, locked, tenant_inaccessible, error).
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "school",
			Subsystem: "access",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by outcome",
		},
		[]string{"result"},
	)

	// AccountLockouts counts accounts entering the lockout window.
	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "school",
			Subsystem: "access",
			Name:      "account_lockouts_total",
			Help:      "Total number of accounts locked after repeated failures",
		},
	)

	// TokenRefreshes counts refresh-token exchanges by outcome.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "school",
			Subsystem: "access",
			Name:      "token_refreshes_total",
			Help:      "Total number of refresh token exchanges by outcome",
		},
		[]string{"result"},
	)

	// PipelineRejections counts requests rejected by the request pipeline,
	// labelled with the stage that rejected them
	// (token, identity, tenant, entitlement, role).
	PipelineRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "school",
			Subsystem: "access",
			Name:      "pipeline_rejections_total",
			Help:      "Total number of requests rejected by the access pipeline, by stage",
		},
		[]string{"stage"},
	)

	// EntitlementDenials counts feature-gate denials by feature.
	EntitlementDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "school",
			Subsystem: "access",
			Name:      "entitlement_denials_total",
			Help:      "Total number of entitlement denials by feature",
		},
		[]string{"feature"},
	)
)
