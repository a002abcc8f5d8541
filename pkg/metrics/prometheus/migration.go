package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/shadowfs/pkg/metrics"
	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

func init() {
	metrics.RegisterMigrationMetricsConstructor(func() engine.Metrics {
		return NewMigrationMetrics()
	})
	metrics.RegisterIndexMetricsConstructor(newIndexMetricsIface)
}

// migrationMetrics is the Prometheus implementation of engine.Metrics.
type migrationMetrics struct {
	resolves        *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	bytesCopied     prometheus.Counter
	holeBytes       prometheus.Counter
	objects         *prometheus.CounterVec
	errors          *prometheus.CounterVec
	pending         *prometheus.CounterVec
}

var (
	migrationMu    sync.Mutex
	migrationCache = map[*prometheus.Registry]*migrationMetrics{}
)

// NewMigrationMetrics creates the migration collectors on the shared
// registry. Mounts share one instance per registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewMigrationMetrics() *migrationMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	migrationMu.Lock()
	defer migrationMu.Unlock()
	if m, ok := migrationCache[reg]; ok {
		return m
	}

	m := &migrationMetrics{
		resolves: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_resolve_total",
				Help: "Total number of resolves of unmigrated objects by type and status",
			},
			[]string{"type", "status"},
		),
		resolveDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "shadowfs_resolve_duration_milliseconds",
				Help: "Duration of resolves of unmigrated objects in milliseconds",
				Buckets: []float64{
					0.1,   // cached attribute hit
					1,     // small directory
					10,    //
					100,   // large chunk
					1000,  // 1s
					10000, // whole-file walk over a slow remote
				},
			},
			[]string{"type"},
		),
		bytesCopied: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "shadowfs_bytes_copied_total",
				Help: "Total file bytes copied from the remote filesystem",
			},
		),
		holeBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "shadowfs_hole_bytes_total",
				Help: "Total file bytes retired as remote holes without copying",
			},
		),
		objects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_objects_migrated_total",
				Help: "Total number of objects fully migrated by type",
			},
			[]string{"type"},
		),
		errors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_migration_errors_total",
				Help: "Total number of migration failures by error code",
			},
			[]string{"code"},
		),
		pending: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shadowfs_pending_processed_total",
				Help: "Total number of pending log drain attempts by outcome",
			},
			[]string{"outcome"}, // "processed", "empty"
		),
	}
	migrationCache[reg] = m
	return m
}

func (m *migrationMetrics) ObserveResolve(t vfs.ObjectType, duration time.Duration, code string) {
	if m == nil {
		return
	}
	status := "ok"
	if code != "" {
		status = code
	}
	m.resolves.WithLabelValues(t.String(), status).Inc()
	m.resolveDuration.WithLabelValues(t.String()).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *migrationMetrics) RecordBytesCopied(bytes int64) {
	if m == nil {
		return
	}
	m.bytesCopied.Add(float64(bytes))
}

func (m *migrationMetrics) RecordHoleBytes(bytes int64) {
	if m == nil {
		return
	}
	m.holeBytes.Add(float64(bytes))
}

func (m *migrationMetrics) RecordObjectMigrated(t vfs.ObjectType) {
	if m == nil {
		return
	}
	m.objects.WithLabelValues(t.String()).Inc()
}

func (m *migrationMetrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}

func (m *migrationMetrics) RecordPendingProcessed(processed bool) {
	if m == nil {
		return
	}
	outcome := "empty"
	if processed {
		outcome = "processed"
	}
	m.pending.WithLabelValues(outcome).Inc()
}
