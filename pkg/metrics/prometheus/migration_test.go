package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/metrics"
	"github.com/marmos91/shadowfs/pkg/shadow"
	"github.com/marmos91/shadowfs/pkg/shadow/state"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/osfs"
)

func TestMigrationMetrics(t *testing.T) {
	metrics.InitRegistry()

	m := NewMigrationMetrics()
	require.NotNil(t, m)
	assert.Same(t, m, NewMigrationMetrics())
	assert.NotNil(t, metrics.NewMigrationMetrics())

	before := testutil.ToFloat64(m.bytesCopied)
	m.RecordBytesCopied(4096)
	assert.Equal(t, before+4096, testutil.ToFloat64(m.bytesCopied))

	ok := m.resolves.WithLabelValues("file", "ok")
	failed := m.resolves.WithLabelValues("file", "RemoteIO")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)
	m.ObserveResolve(vfs.TypeRegular, time.Millisecond, "")
	m.ObserveResolve(vfs.TypeRegular, time.Millisecond, "RemoteIO")
	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+1, testutil.ToFloat64(failed))

	processed := m.pending.WithLabelValues("processed")
	pBefore := testutil.ToFloat64(processed)
	m.RecordPendingProcessed(true)
	m.RecordPendingProcessed(false)
	assert.Equal(t, pBefore+1, testutil.ToFloat64(processed))
}

func TestMigrationMetrics_NilSafe(t *testing.T) {
	var m *migrationMetrics
	m.ObserveResolve(vfs.TypeDirectory, time.Second, "")
	m.RecordBytesCopied(1)
	m.RecordHoleBytes(1)
	m.RecordObjectMigrated(vfs.TypeSymlink)
	m.RecordError("LocalIO")
	m.RecordPendingProcessed(true)

	var i *indexMetrics
	i.RecordIndexLookup(osfs.IndexHit)
}

func TestIndexMetrics(t *testing.T) {
	metrics.InitRegistry()

	m := NewIndexMetrics()
	require.NotNil(t, m)
	stale := m.lookups.WithLabelValues(osfs.IndexStale)
	before := testutil.ToFloat64(stale)
	m.RecordIndexLookup(osfs.IndexStale)
	assert.Equal(t, before+1, testutil.ToFloat64(stale))
}

func TestMountCollector(t *testing.T) {
	metrics.InitRegistry()

	stats := shadow.Stats{ID: "m", Configured: true, Standby: true}
	stats.Engine.Pending.Records = 7
	stats.Engine.Objects = map[state.Status]int{state.Migrated: 3}
	require.NoError(t, metrics.RegisterMountStats("collector-test", func() shadow.Stats { return stats }))
	require.NoError(t, metrics.RegisterMountStats("collector-test-2", func() shadow.Stats { return shadow.Stats{} }))

	c := mountsByReg[metrics.GetRegistry()]
	require.NotNil(t, c)
	assert.Equal(t, 2*(5+len(objectStatuses)), testutil.CollectAndCount(c))
	assert.Equal(t, 2*(5+len(objectStatuses)), testutil.CollectAndCount(c, "shadowfs_pending_records", "shadowfs_standby",
		"shadowfs_configured", "shadowfs_pending_removed", "shadowfs_link_indexes", "shadowfs_objects"))
	assert.Equal(t, 2, testutil.CollectAndCount(c, "shadowfs_pending_records"))
}
