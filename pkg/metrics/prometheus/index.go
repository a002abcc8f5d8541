package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/shadowfs/pkg/metrics"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/osfs"
)

// indexMetrics is the Prometheus implementation of osfs.IndexMetrics.
type indexMetrics struct {
	lookups *prometheus.CounterVec
}

var (
	indexMu    sync.Mutex
	indexCache = map[*prometheus.Registry]*indexMetrics{}
)

// NewIndexMetrics creates the identity index collectors.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewIndexMetrics() *indexMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	indexMu.Lock()
	defer indexMu.Unlock()
	if m, ok := indexCache[reg]; ok {
		return m
	}
	m := &indexMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_index_lookups_total",
				Help: "Total number of handle index lookups by result",
			},
			[]string{"result"}, // "hit", "stale", "miss"
		),
	}
	indexCache[reg] = m
	return m
}

func newIndexMetricsIface() osfs.IndexMetrics {
	m := NewIndexMetrics()
	if m == nil {
		return nil
	}
	return m
}

// RecordIndexLookup records one verified index lookup.
func (m *indexMetrics) RecordIndexLookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}
