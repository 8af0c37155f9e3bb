// Package metrics provides Prometheus metrics for trainconf.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eugenenazirov/trainconf/internal/hparams"
)

var (
	// ValidationsTotal counts validated documents by source and outcome.
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainconf_validations_total",
		Help: "Total number of validated training configs, by source (api, watch) and outcome (valid, invalid).",
	}, []string{"source", "outcome"})

	// ValidationIssuesTotal counts reported issues by severity.
	ValidationIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainconf_validation_issues_total",
		Help: "Total number of validation issues reported, by severity.",
	}, []string{"severity"})

	// ReloadsTotal counts watcher reloads by outcome.
	ReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trainconf_reloads_total",
		Help: "Total number of config directory reloads, by outcome (stored, unchanged, rejected, removed, error).",
	}, []string{"outcome"})

	// RateLimitedTotal counts API requests rejected by the rate limiter.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainconf_rate_limited_requests_total",
		Help: "Total number of API requests rejected with 429 by the rate limiter.",
	})

	// StoredConfigs tracks the number of configs currently stored.
	StoredConfigs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trainconf_stored_configs",
		Help: "Number of training configs currently stored.",
	})
)

// ObserveReport records the outcome of one validation.
func ObserveReport(source string, report hparams.Report) {
	outcome := "valid"
	if !report.Valid() {
		outcome = "invalid"
	}
	ValidationsTotal.WithLabelValues(source, outcome).Inc()
	for _, issue := range report.Issues {
		ValidationIssuesTotal.WithLabelValues(string(issue.Severity)).Inc()
	}
}
