package engine

import (
	"time"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// Metrics provides observability for the migration engine.
//
// Implementations must be safe for concurrent use. A nil Metrics in Options
// disables collection with zero overhead.
type Metrics interface {
	// ObserveResolve records one Resolve call on an object that was not yet
	// migrated. code is empty on success.
	ObserveResolve(t vfs.ObjectType, duration time.Duration, code string)

	// RecordBytesCopied records file bytes copied from the remote filesystem
	RecordBytesCopied(bytes int64)

	// RecordHoleBytes records bytes retired as remote holes without copying
	RecordHoleBytes(bytes int64)

	// RecordObjectMigrated records an object reaching the migrated status
	RecordObjectMigrated(t vfs.ObjectType)

	// RecordError records a migration failure by error code name
	RecordError(code string)

	// RecordPendingProcessed records one ProcessOnePending call
	RecordPendingProcessed(processed bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveResolve(vfs.ObjectType, time.Duration, string) {}
func (noopMetrics) RecordBytesCopied(int64)                              {}
func (noopMetrics) RecordHoleBytes(int64)                                {}
func (noopMetrics) RecordObjectMigrated(vfs.ObjectType)                  {}
func (noopMetrics) RecordError(string)                                   {}
func (noopMetrics) RecordPendingProcessed(bool)                          {}
