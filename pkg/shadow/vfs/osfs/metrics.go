package osfs

// Index lookup results reported to IndexMetrics.
const (
	IndexHit   = "hit"
	IndexStale = "stale"
	IndexMiss  = "miss"
)

// IndexMetrics observes identity index lookups. A nil IndexMetrics disables
// collection.
type IndexMetrics interface {
	RecordIndexLookup(result string)
}
