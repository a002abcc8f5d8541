// Package pending implements the crash-recoverable queue of objects that
// still need migration.
//
// The queue is double-buffered: two files (pending.0 and pending.1), one of
// which is active and receives appends. Removal is lazy: a removed handle is
// recorded in the current in-memory generation of removed sets and only
// dropped from disk when Collapse rewrites the active file's records into the
// other buffer, which then becomes active. Three generations of removed sets
// are kept so that rotation can proceed while appends and removals race
// with it.
//
// Record format: fid.EncodedSize bytes (uint16 length + 64-byte handle),
// after a wal header with magic "SHPL".
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/shadowfs/internal/logger"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/wal"
)

// Format is the on-disk format of both pending files.
var Format = wal.Format{
	Magic:      [4]byte{'S', 'H', 'P', 'L'},
	Version:    1,
	RecordSize: fid.EncodedSize,
}

const (
	generations = 3
	tmpName     = "pending.tmp"
)

func fileName(i int) string { return fmt.Sprintf("pending.%d", i) }

// Stats is a point-in-time view of the queue.
type Stats struct {
	Active      int   // index of the active buffer
	Records     int64 // records in the active buffer, including removed ones
	Removed     int   // handles in the removed sets
	Collapses   int64 // completed collapses
	Corruptions int64 // buffers found corrupted and recreated
	Processing  bool  // a process-one-pending call is in flight
}

// Log is the pending queue of one shadow mount.
//
// Thread Safety:
// Log is safe for concurrent use. All state is guarded by one mutex that is
// disjoint from any per-object lock.
type Log struct {
	mu   sync.Mutex
	idle chan struct{} // closed when processing ends

	dir     *vfs.Dir
	files   [2]*wal.Log
	active  int
	removed [generations]map[fid.FID]struct{}
	gen     int

	last    fid.FID
	hasLast bool

	processing  bool
	collapses   int64
	corruptions int64
}

// Open opens both buffers in dir, creating missing ones. A buffer that fails
// its header check is reported, logged, and recreated empty.
func Open(ctx context.Context, dir *vfs.Dir) (*Log, error) {
	l := &Log{dir: dir}
	for i := range l.removed {
		l.removed[i] = make(map[fid.FID]struct{})
	}
	// A crash mid-collapse can leave the temporary file behind.
	if err := dir.Remove(ctx, tmpName); err != nil {
		return nil, fmt.Errorf("remove stale %s: %w", tmpName, err)
	}
	for i := range l.files {
		f, err := wal.OpenOrCreate(ctx, dir, fileName(i), Format)
		if errors.Is(err, wal.ErrCorrupted) || errors.Is(err, wal.ErrVersionMismatch) {
			l.corruptions++
			logger.WarnCtx(ctx, "Pending log buffer corrupted, recreating empty",
				logger.Buffer(i), logger.Err(err))
			f, err = wal.Create(ctx, dir, fileName(i), Format)
		}
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fileName(i), err)
		}
		l.files[i] = f
	}
	if err := l.consolidate(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// consolidate merges both buffers into pending.0 and empties pending.1.
// Which buffer was active before a restart is not recorded, so neither may
// be discarded. Duplicate handles are merged.
func (l *Log) consolidate(ctx context.Context) error {
	if l.files[1].Count() == 0 {
		l.active = 0
		return nil
	}
	tmp, err := wal.Create(ctx, l.dir, tmpName, Format)
	if err != nil {
		return err
	}
	seen := make(map[fid.FID]struct{})
	for _, i := range [2]int{0, 1} {
		err := l.files[i].Replay(ctx, func(b []byte) error {
			h, err := fid.Decode(b)
			if err != nil {
				return fmt.Errorf("%w: %v", wal.ErrCorrupted, err)
			}
			if _, ok := seen[h]; ok || h.IsZero() {
				return nil
			}
			seen[h] = struct{}{}
			return tmp.Append(ctx, encode(h))
		})
		if errors.Is(err, wal.ErrCorrupted) {
			l.corruptions++
			logger.WarnCtx(ctx, "Pending log buffer corrupted, keeping records read so far",
				logger.Buffer(i), logger.Err(err))
			err = nil
		}
		if err != nil {
			_ = tmp.Remove(ctx)
			return err
		}
	}
	if err := tmp.Sync(ctx); err != nil {
		_ = tmp.Remove(ctx)
		return err
	}
	if err := tmp.Rename(ctx, fileName(0)); err != nil {
		_ = tmp.Remove(ctx)
		return err
	}
	_ = l.files[0].Close()
	l.files[0] = tmp
	f, err := wal.Create(ctx, l.dir, fileName(1), Format)
	if err != nil {
		return err
	}
	_ = l.files[1].Close()
	l.files[1] = f
	l.active = 0
	logger.InfoCtx(ctx, "Pending log recovered", logger.Entries(len(seen)))
	return nil
}

// Close closes both buffers.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func encode(h fid.FID) []byte {
	b := make([]byte, fid.EncodedSize)
	h.Encode(b)
	return b
}

// Append durably adds h to the active buffer. An error means h was not
// recorded and the caller must not clear the corresponding marker.
//
// Appending a handle cancels any earlier removal still held in the removed
// sets, so a re-queued handle is never dropped by a later collapse.
func (l *Log) Append(ctx context.Context, h fid.FID) error {
	return l.AppendAll(ctx, []fid.FID{h})
}

// AppendAll durably adds several handles with a single sync.
func (l *Log) AppendAll(ctx context.Context, hs []fid.FID) error {
	if len(hs) == 0 {
		return nil
	}
	recs := make([][]byte, len(hs))
	for i, h := range hs {
		if h.IsZero() {
			return fmt.Errorf("pending: append empty handle")
		}
		recs[i] = encode(h)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.files[l.active].AppendSync(ctx, recs...); err != nil {
		return err
	}
	for _, h := range hs {
		for _, set := range l.removed {
			delete(set, h)
		}
	}
	return nil
}

// Remove lazily removes h: it is recorded in the current removed generation
// and skipped by readers until a collapse drops it from disk.
func (l *Log) Remove(h fid.FID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed[l.gen][h] = struct{}{}
}

// isRemoved reports whether h is in any removed generation. Caller holds mu.
func (l *Log) isRemoved(h fid.FID) bool {
	for _, set := range l.removed {
		if _, ok := set[h]; ok {
			return true
		}
	}
	return false
}

// errFound stops a replay once a live record is found.
var errFound = errors.New("found")

// ReadFirst returns the first live handle of buffer i, skipping removed ones.
// A buffer holding a malformed record is treated as empty and recreated.
func (l *Log) ReadFirst(ctx context.Context, i int) (fid.FID, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readFirst(ctx, i)
}

func (l *Log) readFirst(ctx context.Context, i int) (fid.FID, bool, error) {
	var found fid.FID
	err := l.files[i].Replay(ctx, func(b []byte) error {
		h, err := fid.Decode(b)
		if err != nil {
			return fmt.Errorf("%w: %v", wal.ErrCorrupted, err)
		}
		if h.IsZero() || l.isRemoved(h) {
			return nil
		}
		found = h
		return errFound
	})
	switch {
	case errors.Is(err, errFound):
		return found, true, nil
	case errors.Is(err, wal.ErrCorrupted):
		return fid.FID{}, false, l.recreate(ctx, i, err)
	case err != nil:
		return fid.FID{}, false, err
	}
	return fid.FID{}, false, nil
}

// recreate replaces buffer i with an empty one. Caller holds mu.
func (l *Log) recreate(ctx context.Context, i int, cause error) error {
	l.corruptions++
	logger.WarnCtx(ctx, "Pending log buffer corrupted, recreating empty",
		logger.Buffer(i), logger.Err(cause))
	_ = l.files[i].Close()
	f, err := wal.Create(ctx, l.dir, fileName(i), Format)
	if err != nil {
		return err
	}
	l.files[i] = f
	return nil
}

// Claim marks a process-one-pending call in flight and returns the first
// live handle of the active buffer. Every successful Claim must be paired
// with Release. When the queue is empty Claim returns false and nothing
// needs releasing.
//
// While another call is in flight, Claim fails with WouldBlock when blocking
// is false, and otherwise waits for Release or for ctx to be done
// (Interrupted).
func (l *Log) Claim(ctx context.Context, blocking bool) (fid.FID, bool, error) {
	const op = "claim pending"
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.waitIdle(ctx, op, blocking); err != nil {
		return fid.FID{}, false, err
	}
	h, ok, err := l.readFirst(ctx, l.active)
	if err != nil || !ok {
		return fid.FID{}, false, err
	}
	l.processing = true
	l.idle = make(chan struct{})
	l.last, l.hasLast = h, true
	return h, true, nil
}

// waitIdle returns once no process-one-pending call is in flight. Caller
// holds l.mu, which is released while waiting.
func (l *Log) waitIdle(ctx context.Context, op string, blocking bool) error {
	for l.processing {
		if !blocking {
			return shadowerrors.NewWouldBlockError(op, "")
		}
		ch := l.idle
		l.mu.Unlock()
		select {
		case <-ch:
			l.mu.Lock()
		case <-ctx.Done():
			l.mu.Lock()
			return shadowerrors.NewInterruptedError(op, ctx.Err())
		}
	}
	return nil
}

// Release ends the process-one-pending call started by Claim.
func (l *Log) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.processing {
		return
	}
	l.processing = false
	close(l.idle)
}

// Collapse rewrites the records of the active buffer into the other buffer,
// without the handles recorded in the oldest and newest removed generations,
// makes the other buffer active, and rotates the removed generations. The
// last claimed handle, if still present, is moved to the end so that a
// handle that keeps failing does not block the queue.
//
// Without force, Collapse returns false immediately when a process-one-pending
// call is in flight; with force it waits for that call to finish or for ctx
// to be done.
func (l *Log) Collapse(ctx context.Context, force bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.processing && !force {
		return false, nil
	}
	if err := l.waitIdle(ctx, "collapse", true); err != nil {
		return false, err
	}

	target := 1 - l.active
	primary := l.removed[(l.gen+1)%generations]
	secondary := l.removed[l.gen]

	tmp, err := wal.Create(ctx, l.dir, tmpName, Format)
	if err != nil {
		return false, err
	}
	var (
		kept, dropped int
		sawLast       bool
		batch         [][]byte
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := tmp.Append(ctx, batch...)
		batch = batch[:0]
		return err
	}
	err = l.files[l.active].Replay(ctx, func(b []byte) error {
		h, err := fid.Decode(b)
		if err != nil {
			return fmt.Errorf("%w: %v", wal.ErrCorrupted, err)
		}
		if h.IsZero() {
			return nil
		}
		if _, ok := primary[h]; ok {
			dropped++
			return nil
		}
		if _, ok := secondary[h]; ok {
			dropped++
			return nil
		}
		if l.hasLast && h == l.last {
			sawLast = true
			return nil
		}
		kept++
		batch = append(batch, append([]byte(nil), b...))
		if len(batch) >= 256 {
			return flush()
		}
		return nil
	})
	if errors.Is(err, wal.ErrCorrupted) {
		// Whatever was read before the bad record is still carried over.
		l.corruptions++
		logger.WarnCtx(ctx, "Pending log buffer corrupted during collapse, truncating",
			logger.Buffer(l.active), logger.Err(err))
		err = nil
	}
	if err == nil {
		err = flush()
	}
	if err == nil && sawLast && !l.isRemoved(l.last) {
		err = tmp.Append(ctx, encode(l.last))
		kept++
	}
	if err == nil {
		err = tmp.Sync(ctx)
	}
	if err == nil {
		err = tmp.Rename(ctx, fileName(target))
	}
	if err != nil {
		_ = tmp.Remove(ctx)
		return false, fmt.Errorf("collapse %s: %w", fileName(target), err)
	}

	_ = l.files[target].Close()
	l.files[target] = tmp
	l.active = target
	if sawLast {
		l.hasLast = false
	}
	l.gen = (l.gen + 1) % generations
	clear(l.removed[l.gen])
	l.collapses++

	logger.DebugCtx(ctx, "Pending log collapsed",
		logger.Buffer(target), logger.Entries(kept), "dropped", dropped)
	return true, nil
}

// List returns every live handle in queue order. A handle queued more than
// once is listed once.
func (l *Log) List(ctx context.Context) ([]fid.FID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[fid.FID]struct{})
	var out []fid.FID
	err := l.files[l.active].Replay(ctx, func(b []byte) error {
		h, err := fid.Decode(b)
		if err != nil {
			return fmt.Errorf("%w: %v", wal.ErrCorrupted, err)
		}
		if h.IsZero() || l.isRemoved(h) {
			return nil
		}
		if _, ok := seen[h]; ok {
			return nil
		}
		seen[h] = struct{}{}
		out = append(out, h)
		return nil
	})
	return out, err
}

// Stats returns a snapshot of the queue.
func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for _, set := range l.removed {
		removed += len(set)
	}
	return Stats{
		Active:      l.active,
		Records:     l.files[l.active].Count(),
		Removed:     removed,
		Collapses:   l.collapses,
		Corruptions: l.corruptions,
		Processing:  l.processing,
	}
}
