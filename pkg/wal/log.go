// log.go provides the append-only fixed-record log used for shadow
// bookkeeping (pending queue, per-file space maps).
//
// File Format:
//
//	Header (HeaderSize bytes, see Format.Header)
//	Records: Format.RecordSize bytes each, appended in order.
//
// Recovery:
// Replay streams the records back in order. A trailing partial record left
// by a torn write is ignored.

package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// replayBatch is the number of records read per I/O during Replay.
const replayBatch = 256

// Log is an append-only log of fixed-size records stored in one file of a
// bookkeeping directory.
type Log struct {
	mu     sync.Mutex
	dir    *vfs.Dir
	name   string
	node   vfs.Node
	format Format
	size   int64 // next write offset
	closed bool
}

// Create creates (or truncates) the log file name in dir and writes its
// header durably.
func Create(ctx context.Context, dir *vfs.Dir, name string, format Format) (*Log, error) {
	n, err := dir.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	l := &Log{dir: dir, name: name, node: n, format: format}
	if err := l.writeHeader(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Open opens an existing log and validates its header. A missing file is
// reported with vfs.ErrNotExist; a bad header with ErrCorrupted or
// ErrVersionMismatch.
func Open(ctx context.Context, dir *vfs.Dir, name string, format Format) (*Log, error) {
	n, err := dir.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	fs := dir.FS()
	attr, err := fs.GetAttr(ctx, n, vfs.Kernel)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	hdr := make([]byte, HeaderSize)
	m, err := fs.ReadAt(ctx, n, hdr, 0, vfs.Kernel)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header %s: %w", name, err)
	}
	if err := format.Check(hdr[:m]); err != nil {
		return nil, err
	}
	return &Log{dir: dir, name: name, node: n, format: format, size: attr.Size}, nil
}

// OpenOrCreate opens name, creating a fresh log if it does not exist.
func OpenOrCreate(ctx context.Context, dir *vfs.Dir, name string, format Format) (*Log, error) {
	l, err := Open(ctx, dir, name, format)
	if errors.Is(err, vfs.ErrNotExist) {
		return Create(ctx, dir, name, format)
	}
	return l, err
}

func (l *Log) writeHeader(ctx context.Context) error {
	fs := l.dir.FS()
	if _, err := fs.WriteAt(ctx, l.node, l.format.Header(), 0, vfs.Kernel); err != nil {
		return fmt.Errorf("write header %s: %w", l.name, err)
	}
	if err := fs.Fsync(ctx, l.node, vfs.Kernel); err != nil {
		return fmt.Errorf("sync %s: %w", l.name, err)
	}
	l.size = HeaderSize
	return nil
}

// Name returns the file name of the log within its directory.
func (l *Log) Name() string { return l.name }

// Count returns the number of complete records in the log.
func (l *Log) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count()
}

func (l *Log) count() int64 {
	return (l.size - HeaderSize) / int64(l.format.RecordSize)
}

// Append writes records at the end of the log. It does not sync.
func (l *Log) Append(ctx context.Context, recs ...[]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if len(recs) == 0 {
		return nil
	}
	// Drop any torn tail so records stay aligned.
	off := HeaderSize + l.count()*int64(l.format.RecordSize)
	buf := make([]byte, 0, len(recs)*l.format.RecordSize)
	for _, r := range recs {
		if len(r) != l.format.RecordSize {
			return fmt.Errorf("append %s: record is %d bytes, want %d", l.name, len(r), l.format.RecordSize)
		}
		buf = append(buf, r...)
	}
	if _, err := l.dir.FS().WriteAt(ctx, l.node, buf, off, vfs.Kernel); err != nil {
		return fmt.Errorf("append %s: %w", l.name, err)
	}
	l.size = off + int64(len(buf))
	return nil
}

// Sync forces appended records to durable storage.
func (l *Log) Sync(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.dir.FS().Fsync(ctx, l.node, vfs.Kernel); err != nil {
		return fmt.Errorf("sync %s: %w", l.name, err)
	}
	return nil
}

// AppendSync appends records and syncs them.
func (l *Log) AppendSync(ctx context.Context, recs ...[]byte) error {
	if err := l.Append(ctx, recs...); err != nil {
		return err
	}
	return l.Sync(ctx)
}

// Replay calls fn for every complete record in order. The slice passed to fn
// is only valid for the duration of the call. Replay stops at the first
// error returned by fn.
func (l *Log) Replay(ctx context.Context, fn func(rec []byte) error) error {
	l.mu.Lock()
	end := HeaderSize + l.count()*int64(l.format.RecordSize)
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}

	rs := int64(l.format.RecordSize)
	buf := make([]byte, replayBatch*rs)
	for off := int64(HeaderSize); off < end; {
		want := end - off
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		m, err := l.dir.FS().ReadAt(ctx, l.node, buf[:want], off, vfs.Kernel)
		if err != nil && !(errors.Is(err, io.EOF) && int64(m) == want) {
			if errors.Is(err, io.EOF) {
				// File shrank underneath us; replay what we have.
				want = int64(m) - int64(m)%rs
			} else {
				return fmt.Errorf("replay %s: %w", l.name, err)
			}
		}
		for i := int64(0); i+rs <= want; i += rs {
			if err := fn(buf[i : i+rs]); err != nil {
				return err
			}
		}
		if want < rs {
			return nil
		}
		off += want
	}
	return nil
}

// Rename atomically moves the log file to newName within its directory,
// replacing any existing file of that name.
func (l *Log) Rename(ctx context.Context, newName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.dir.Rename(ctx, l.name, newName); err != nil {
		return fmt.Errorf("rename %s to %s: %w", l.name, newName, err)
	}
	l.name = newName
	return nil
}

// Remove closes the log and deletes its file.
func (l *Log) Remove(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return l.dir.Remove(ctx, l.name)
}

// Close marks the log closed. Subsequent operations fail with ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
