// Package spacemap tracks the byte ranges of a file that have not yet been
// copied from the remote filesystem.
//
// The in-memory Set is backed by an append-only log:
//
//	Header: wal.HeaderSize bytes, magic "SHSM"
//	Record (24 bytes):
//	  - Kind: uint32 (1=Remote, 2=Local)
//	  - Pad: uint32
//	  - Start: uint64
//	  - End: uint64
//
// A Remote record adds a range (written when the map is created); a Local
// record retires one after its bytes were copied. Once enough Local records
// accumulate the log is compacted to Remote records only.
package spacemap

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/wal"
)

// Kind is the type of a log record.
type Kind uint32

const (
	KindRemote Kind = 1
	KindLocal  Kind = 2
)

// RecordSize is the encoded size of one log record.
const RecordSize = 24

// DefaultCompactThreshold is the number of Local records after which the log
// is compacted.
const DefaultCompactThreshold = 128

const compactSuffix = ".compact"

// Format is the on-disk format of space map logs.
var Format = wal.Format{
	Magic:      [4]byte{'S', 'H', 'S', 'M'},
	Version:    1,
	RecordSize: RecordSize,
}

func encode(k Kind, r Range) []byte {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(k))
	binary.LittleEndian.PutUint64(b[8:16], uint64(r.Start))
	binary.LittleEndian.PutUint64(b[16:24], uint64(r.End))
	return b
}

func decode(b []byte) (Kind, Range, error) {
	k := Kind(binary.LittleEndian.Uint32(b[0:4]))
	r := Range{
		Start: int64(binary.LittleEndian.Uint64(b[8:16])),
		End:   int64(binary.LittleEndian.Uint64(b[16:24])),
	}
	if k != KindRemote && k != KindLocal {
		return 0, Range{}, fmt.Errorf("%w: unknown record kind %d", wal.ErrCorrupted, k)
	}
	if r.Start < 0 || r.End < r.Start {
		return 0, Range{}, fmt.Errorf("%w: invalid range %v", wal.ErrCorrupted, r)
	}
	return k, r, nil
}

// Map is a persistent space map for one file.
//
// Thread Safety:
// Map is not safe for concurrent use. It is owned by the holder of the
// file's content lock.
type Map struct {
	set       *Set
	log       *wal.Log
	dir       *vfs.Dir
	name      string
	local     int
	threshold int
}

// Create starts a new map for a file of the given size: the whole span
// [0, size) is un-migrated. Any previous log of the same name is replaced.
func Create(ctx context.Context, dir *vfs.Dir, name string, size int64, threshold int) (*Map, error) {
	m := newMap(dir, name, threshold)
	tmp := name + compactSuffix
	log, err := wal.Create(ctx, dir, tmp, Format)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		m.set.Insert(0, size)
		if err := log.Append(ctx, encode(KindRemote, Range{Start: 0, End: size})); err != nil {
			return nil, err
		}
	}
	if err := log.Sync(ctx); err != nil {
		return nil, err
	}
	if err := log.Rename(ctx, name); err != nil {
		return nil, err
	}
	m.log = log
	return m, nil
}

// Load replays an existing map. A missing log is reported with
// vfs.ErrNotExist; a malformed one with wal.ErrCorrupted.
func Load(ctx context.Context, dir *vfs.Dir, name string, threshold int) (*Map, error) {
	log, err := wal.Open(ctx, dir, name, Format)
	if err != nil {
		return nil, err
	}
	m := newMap(dir, name, threshold)
	m.log = log
	err = log.Replay(ctx, func(b []byte) error {
		k, r, err := decode(b)
		if err != nil {
			return err
		}
		switch k {
		case KindRemote:
			m.set.Insert(r.Start, r.End)
		case KindLocal:
			m.set.Remove(r.Start, r.End)
			m.local++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Remove deletes the log of a map that is no longer needed.
func Remove(ctx context.Context, dir *vfs.Dir, name string) error {
	if err := dir.Remove(ctx, name+compactSuffix); err != nil {
		return err
	}
	return dir.Remove(ctx, name)
}

func newMap(dir *vfs.Dir, name string, threshold int) *Map {
	if threshold <= 0 {
		threshold = DefaultCompactThreshold
	}
	return &Map{set: NewSet(), dir: dir, name: name, threshold: threshold}
}

// Empty reports whether every byte has been migrated.
func (m *Map) Empty() bool { return m.set.Empty() }

// Ranges returns the un-migrated ranges in ascending order.
func (m *Map) Ranges() []Range { return m.set.Ranges() }

// Remaining returns the number of un-migrated bytes.
func (m *Map) Remaining() int64 { return m.set.Bytes() }

// LocalRecords returns the number of Local records since the last compaction.
func (m *Map) LocalRecords() int { return m.local }

// LookupOverlap returns the lowest un-migrated range overlapping
// [start, end), or false if that span is fully migrated.
func (m *Map) LookupOverlap(start, end int64) (Range, bool) {
	return m.set.LookupOverlap(start, end)
}

// RemoveRange retires [start, end) and durably records it. The log is
// compacted once the threshold of Local records is reached.
func (m *Map) RemoveRange(ctx context.Context, start, end int64) error {
	if !m.set.Remove(start, end) {
		return nil
	}
	if err := m.log.AppendSync(ctx, encode(KindLocal, Range{Start: start, End: end})); err != nil {
		return err
	}
	m.local++
	if m.local >= m.threshold && !m.set.Empty() {
		return m.Compact(ctx)
	}
	return nil
}

// Compact rewrites the log so that it holds only Remote records for the
// current set. The new log is written aside, synced, and renamed into place.
func (m *Map) Compact(ctx context.Context) error {
	tmp := m.name + compactSuffix
	log, err := wal.Create(ctx, m.dir, tmp, Format)
	if err != nil {
		return err
	}
	recs := make([][]byte, 0, m.set.Len())
	for _, r := range m.set.Ranges() {
		recs = append(recs, encode(KindRemote, r))
	}
	if err := log.AppendSync(ctx, recs...); err != nil {
		return errors.Join(err, log.Remove(ctx))
	}
	if err := log.Rename(ctx, m.name); err != nil {
		return errors.Join(err, log.Remove(ctx))
	}
	_ = m.log.Close()
	m.log = log
	m.local = 0
	return nil
}

// Destroy removes the log. The map must not be used afterwards.
func (m *Map) Destroy(ctx context.Context) error {
	return m.log.Remove(ctx)
}

// Close releases the log without removing it.
func (m *Map) Close() error {
	return m.log.Close()
}
