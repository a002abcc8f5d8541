package engine

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/telemetry"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/spacemap"
	"github.com/marmos91/shadowfs/pkg/shadow/state"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/wal"
)

// migrateFile copies the un-migrated bytes of n that fall in [start, end),
// widened to chunk boundaries. The file is complete once its space map is
// empty: its times are set, the marker is removed and the map destroyed.
func (e *Engine) migrateFile(ctx context.Context, obj *state.Object, n vfs.Node, attr vfs.Attr, mk string, start, end int64) (state.Status, error) {
	const op = "migrate file"
	if end < 0 || end > attr.Size {
		end = attr.Size
	}
	ctx, span := telemetry.StartMigrationSpan(ctx, telemetry.SpanMigrateFile, n.ID().Bytes(),
		telemetry.RemotePath(mk), telemetry.Size(attr.Size), telemetry.Offset(start), telemetry.Length(end-start))
	defer span.End()

	rn, err := e.remote.LookupPath(ctx, remoteRel(mk), vfs.Kernel)
	if err != nil {
		return 0, remoteError(op, mk, err)
	}
	sm, err := e.spaceMap(ctx, obj, n, attr.Size)
	if err != nil {
		return 0, err
	}

	lo := start / e.chunk * e.chunk
	hi := (end + e.chunk - 1) / e.chunk * e.chunk
	if hi > attr.Size {
		hi = attr.Size
	}

	var buf []byte
	pos := lo
	for pos < hi {
		r, ok := sm.LookupOverlap(pos, hi)
		if !ok {
			break
		}
		if r.Start > pos {
			pos = r.Start
		}
		limit := min(r.End, hi)
		for pos < limit {
			if err := ctx.Err(); err != nil {
				return 0, shadowerrors.NewInterruptedError(op, err)
			}
			if buf == nil {
				buf = e.bufs.Get()
				defer e.bufs.Put(buf)
			}
			next, err := e.copyChunk(ctx, sm, rn, n, pos, limit, buf, mk)
			if err != nil {
				return 0, err
			}
			pos = next
		}
	}

	if !sm.Empty() {
		telemetry.SetAttributes(ctx, telemetry.Remaining(sm.Remaining()))
		return state.MigratingData, nil
	}
	if err := e.finishFile(ctx, obj, n, rn, sm, mk); err != nil {
		return 0, err
	}
	return state.Migrated, nil
}

// copyChunk migrates the region starting at pos, up to the next chunk
// boundary or limit, and returns where it stopped. A remote hole is retired
// without reading or writing; the local file is sparse there already.
func (e *Engine) copyChunk(ctx context.Context, sm *spacemap.Map, rn, ln vfs.Node, pos, limit int64, buf []byte, mk string) (int64, error) {
	const op = "copy chunk"

	d, err := e.remote.SeekData(ctx, rn, pos)
	switch {
	case errors.Is(err, vfs.ErrNoData):
		return e.retireHole(ctx, sm, pos, limit, mk)
	case errors.Is(err, vfs.ErrUnsupported):
		d = pos
	case err != nil:
		return 0, remoteError(op, mk, err)
	}
	if d > pos {
		return e.retireHole(ctx, sm, pos, min(d, limit), mk)
	}

	end := min(pos/e.chunk*e.chunk+e.chunk, limit)
	h, err := e.remote.SeekHole(ctx, rn, pos)
	switch {
	case err == nil:
		if h > pos && h < end {
			end = h
		}
	case !errors.Is(err, vfs.ErrUnsupported):
		return 0, remoteError(op, mk, err)
	}

	p := buf[:end-pos]
	m, err := e.remote.ReadAt(ctx, rn, p, pos, vfs.Kernel)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, remoteError(op, mk, err)
	}
	// The remote file shrank: the tail reads as zeros.
	clear(p[m:])

	if _, err := e.local.WriteAt(ctx, ln, p, pos, vfs.Kernel); err != nil {
		return 0, localError(op, mk, err)
	}
	if err := e.local.Fsync(ctx, ln, vfs.Kernel); err != nil {
		return 0, localError(op, mk, err)
	}
	if err := sm.RemoveRange(ctx, pos, end); err != nil {
		return 0, localError(op, mk, err)
	}
	e.opts.Metrics.RecordBytesCopied(int64(m))
	return end, nil
}

func (e *Engine) retireHole(ctx context.Context, sm *spacemap.Map, start, end int64, mk string) (int64, error) {
	if err := sm.RemoveRange(ctx, start, end); err != nil {
		return 0, localError("retire hole", mk, err)
	}
	e.opts.Metrics.RecordHoleBytes(end - start)
	return end, nil
}

// spaceMap returns the space map of n, loading it on first use. A file
// without a map yet is un-migrated over its whole size; so is one whose map
// is unreadable.
func (e *Engine) spaceMap(ctx context.Context, obj *state.Object, n vfs.Node, size int64) (*spacemap.Map, error) {
	if sm := obj.SpaceMap(); sm != nil {
		return sm, nil
	}
	name := n.ID().Hex()
	sm, err := spacemap.Load(ctx, e.spaceDir, name, e.opts.CompactThreshold)
	switch {
	case err == nil:
	case errors.Is(err, vfs.ErrNotExist):
		sm, err = spacemap.Create(ctx, e.spaceDir, name, size, e.opts.CompactThreshold)
	case errors.Is(err, wal.ErrCorrupted) || errors.Is(err, wal.ErrVersionMismatch):
		logger.WarnCtx(ctx, "Space map unreadable, copying the whole file again",
			logger.HandleHex(name), logger.Err(err))
		sm, err = spacemap.Create(ctx, e.spaceDir, name, size, e.opts.CompactThreshold)
	}
	if err != nil {
		return nil, localError("load space map", name, err)
	}
	obj.SetSpaceMap(sm)
	return sm, nil
}

func (e *Engine) finishFile(ctx context.Context, obj *state.Object, n, rn vfs.Node, sm *spacemap.Map, mk string) error {
	const op = "finish file"
	rattr, err := e.remote.GetAttr(ctx, rn, vfs.Kernel)
	if err != nil {
		return remoteError(op, mk, err)
	}
	times := vfs.SetAttr{Atime: &rattr.Atime, Mtime: &rattr.Mtime}
	if err := e.local.SetAttr(ctx, n, times, vfs.Kernel); err != nil {
		return localError(op, mk, err)
	}
	if err := e.clearMarker(ctx, n); err != nil {
		return err
	}
	obj.SetSpaceMap(nil)
	if err := sm.Destroy(ctx); err != nil {
		logger.WarnCtx(ctx, "Failed to remove space map of migrated file",
			logger.RemotePath(mk), logger.Err(err))
	}
	e.pending.Remove(n.ID())

	logger.DebugCtx(ctx, "File migrated", logger.RemotePath(mk), logger.Size(rattr.Size))
	return nil
}
