package prometheus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/shadowfs/pkg/metrics"
	"github.com/marmos91/shadowfs/pkg/shadow/state"
)

func init() {
	metrics.RegisterMountCollectorConstructor(registerMount)
}

var mountsMu sync.Mutex

var mountsByReg = map[*prometheus.Registry]*mountCollector{}

// registerMount adds a mount to the collector of the current registry,
// creating and registering the collector on first use. Registering an id
// again replaces its source.
func registerMount(id string, source metrics.StatsSource) error {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}
	mountsMu.Lock()
	defer mountsMu.Unlock()
	c, ok := mountsByReg[reg]
	if !ok {
		c = newMountCollector()
		if err := reg.Register(c); err != nil {
			return err
		}
		mountsByReg[reg] = c
	}
	c.add(id, source)
	return nil
}

var (
	pendingRecordsDesc = prometheus.NewDesc(
		"shadowfs_pending_records",
		"Records in the active pending buffer, including removed ones",
		[]string{"mount"}, nil,
	)
	pendingRemovedDesc = prometheus.NewDesc(
		"shadowfs_pending_removed",
		"Handles removed from the pending log since the last collapse",
		[]string{"mount"}, nil,
	)
	objectsDesc = prometheus.NewDesc(
		"shadowfs_objects",
		"Objects tracked in memory by migration status",
		[]string{"mount", "status"}, nil,
	)
	linkIndexesDesc = prometheus.NewDesc(
		"shadowfs_link_indexes",
		"Hard-link index files held open",
		[]string{"mount"}, nil,
	)
	standbyDesc = prometheus.NewDesc(
		"shadowfs_standby",
		"1 while migration is paused",
		[]string{"mount"}, nil,
	)
	configuredDesc = prometheus.NewDesc(
		"shadowfs_configured",
		"1 while the mount carries shadow state",
		[]string{"mount"}, nil,
	)
)

// mountCollector reads a snapshot of every registered mount on each scrape.
type mountCollector struct {
	mu      sync.RWMutex
	sources map[string]metrics.StatsSource
}

func newMountCollector() *mountCollector {
	return &mountCollector{sources: make(map[string]metrics.StatsSource)}
}

func (c *mountCollector) add(id string, source metrics.StatsSource) {
	c.mu.Lock()
	c.sources[id] = source
	c.mu.Unlock()
}

func (c *mountCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pendingRecordsDesc
	ch <- pendingRemovedDesc
	ch <- objectsDesc
	ch <- linkIndexesDesc
	ch <- standbyDesc
	ch <- configuredDesc
}

func (c *mountCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, source := range c.sources {
		s := source()
		ch <- prometheus.MustNewConstMetric(configuredDesc, prometheus.GaugeValue, boolValue(s.Configured), id)
		ch <- prometheus.MustNewConstMetric(standbyDesc, prometheus.GaugeValue, boolValue(s.Standby), id)
		ch <- prometheus.MustNewConstMetric(pendingRecordsDesc, prometheus.GaugeValue, float64(s.Engine.Pending.Records), id)
		ch <- prometheus.MustNewConstMetric(pendingRemovedDesc, prometheus.GaugeValue, float64(s.Engine.Pending.Removed), id)
		ch <- prometheus.MustNewConstMetric(linkIndexesDesc, prometheus.GaugeValue, float64(s.Engine.Links.Indexes), id)
		for _, st := range objectStatuses {
			ch <- prometheus.MustNewConstMetric(objectsDesc, prometheus.GaugeValue, float64(s.Engine.Objects[st]), id, st.String())
		}
	}
}

var objectStatuses = []state.Status{
	state.Unknown, state.MigratingSelf, state.MigratingData, state.Migrated,
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
