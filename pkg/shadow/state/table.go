package state

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/marmos91/shadowfs/pkg/shadow/fid"
)

const shardCount = 64

type shard struct {
	mu      sync.Mutex
	objects map[fid.FID]*Object
}

// Table holds the Object of every live local object, created lazily on
// first touch. It is sharded by a hash of the handle so that unrelated
// objects do not contend on one lock.
type Table struct {
	shards [shardCount]shard
}

// NewTable returns an empty table.
func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].objects = make(map[fid.FID]*Object)
	}
	return t
}

func (t *Table) shard(id fid.FID) *shard {
	return &t.shards[xxhash.Sum64(id.Bytes())%shardCount]
}

// Get returns the object for id, creating it in the Unknown status.
func (t *Table) Get(id fid.FID) *Object {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		o = NewObject(id)
		s.objects[id] = o
	}
	return o
}

// Lookup returns the object for id if it is live.
func (t *Table) Lookup(id fid.FID) (*Object, bool) {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	return o, ok
}

// Forget drops the object for id, as when its in-memory handle is released.
func (t *Table) Forget(id fid.FID) {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, id)
}

// Len returns the number of live objects.
func (t *Table) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.objects)
		s.mu.Unlock()
	}
	return n
}

// Counts returns the number of live objects per status.
func (t *Table) Counts() map[Status]int {
	out := make(map[Status]int)
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, o := range s.objects {
			out[o.Status()]++
		}
		s.mu.Unlock()
	}
	return out
}
