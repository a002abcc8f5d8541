// Package metrics owns the Prometheus registry shared by the process.
//
// Collection is opt-in: until InitRegistry is called every constructor in
// this package returns nil, and nil metrics are accepted everywhere with
// zero overhead. Implementations live in pkg/metrics/prometheus and register
// themselves on import:
//
//	import _ "github.com/marmos91/shadowfs/pkg/metrics/prometheus"
//
//	metrics.InitRegistry()
//	m := metrics.NewMigrationMetrics()
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection. The registry carries the Go
// runtime and process collectors. Calling it again is a no-op.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler serves the registry in the Prometheus exposition format. It
// responds 404 when metrics are disabled.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// reset drops the registry. Tests only.
func reset() {
	mu.Lock()
	registry = nil
	mu.Unlock()
}
