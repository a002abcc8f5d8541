package metrics

import (
	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/osfs"
)

// NewMigrationMetrics returns a Prometheus-backed engine.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called) or no
// implementation has been registered. A nil engine.Metrics can be passed
// straight to engine.Options.
func NewMigrationMetrics() engine.Metrics {
	if !IsEnabled() || newPrometheusMigrationMetrics == nil {
		return nil
	}
	return newPrometheusMigrationMetrics()
}

// newPrometheusMigrationMetrics is set by pkg/metrics/prometheus/migration.go.
// The indirection keeps this package free of an import of its implementation.
var newPrometheusMigrationMetrics func() engine.Metrics

// RegisterMigrationMetricsConstructor registers the Prometheus migration
// metrics constructor. Called from the prometheus package init.
func RegisterMigrationMetricsConstructor(constructor func() engine.Metrics) {
	newPrometheusMigrationMetrics = constructor
}

// NewIndexMetrics returns Prometheus-backed identity index metrics, or nil
// when metrics are disabled.
func NewIndexMetrics() osfs.IndexMetrics {
	if !IsEnabled() || newPrometheusIndexMetrics == nil {
		return nil
	}
	return newPrometheusIndexMetrics()
}

var newPrometheusIndexMetrics func() osfs.IndexMetrics

// RegisterIndexMetricsConstructor registers the Prometheus index metrics
// constructor.
func RegisterIndexMetricsConstructor(constructor func() osfs.IndexMetrics) {
	newPrometheusIndexMetrics = constructor
}
