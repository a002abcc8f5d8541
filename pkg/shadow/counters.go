package shadow

import (
	"sync/atomic"
	"time"

	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// Counters are cumulative migration totals of one mount.
type Counters struct {
	BytesCopied     int64
	HoleBytes       int64
	ObjectsMigrated int64
	Errors          int64
	PendingHandled  int64
}

// counters keeps the totals reported by Stats and forwards every event to
// the configured engine.Metrics.
type counters struct {
	next engine.Metrics

	bytesCopied     atomic.Int64
	holeBytes       atomic.Int64
	objectsMigrated atomic.Int64
	errors          atomic.Int64
	pendingHandled  atomic.Int64
}

func newCounters(next engine.Metrics) *counters {
	return &counters{next: next}
}

func (c *counters) ObserveResolve(t vfs.ObjectType, d time.Duration, code string) {
	if c.next != nil {
		c.next.ObserveResolve(t, d, code)
	}
}

func (c *counters) RecordBytesCopied(n int64) {
	c.bytesCopied.Add(n)
	if c.next != nil {
		c.next.RecordBytesCopied(n)
	}
}

func (c *counters) RecordHoleBytes(n int64) {
	c.holeBytes.Add(n)
	if c.next != nil {
		c.next.RecordHoleBytes(n)
	}
}

func (c *counters) RecordObjectMigrated(t vfs.ObjectType) {
	c.objectsMigrated.Add(1)
	if c.next != nil {
		c.next.RecordObjectMigrated(t)
	}
}

func (c *counters) RecordError(code string) {
	c.errors.Add(1)
	if c.next != nil {
		c.next.RecordError(code)
	}
}

func (c *counters) RecordPendingProcessed(processed bool) {
	if processed {
		c.pendingHandled.Add(1)
	}
	if c.next != nil {
		c.next.RecordPendingProcessed(processed)
	}
}

func (c *counters) snapshot() Counters {
	return Counters{
		BytesCopied:     c.bytesCopied.Load(),
		HoleBytes:       c.holeBytes.Load(),
		ObjectsMigrated: c.objectsMigrated.Load(),
		Errors:          c.errors.Load(),
		PendingHandled:  c.pendingHandled.Load(),
	}
}
