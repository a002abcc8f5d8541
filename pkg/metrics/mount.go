package metrics

import (
	"github.com/marmos91/shadowfs/pkg/shadow"
)

// StatsSource returns a point-in-time snapshot of a mount.
type StatsSource func() shadow.Stats

// RegisterMountStats exports the gauges of a mount (pending records,
// object states, scheduler state) read from source on every scrape.
// It is a no-op when metrics are disabled.
func RegisterMountStats(id string, source StatsSource) error {
	if !IsEnabled() || registerMountCollector == nil {
		return nil
	}
	return registerMountCollector(id, source)
}

var registerMountCollector func(id string, source StatsSource) error

// RegisterMountCollectorConstructor registers the Prometheus mount
// collector. Called from the prometheus package init.
func RegisterMountCollectorConstructor(constructor func(id string, source StatsSource) error) {
	registerMountCollector = constructor
}
