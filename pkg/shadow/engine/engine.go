// Package engine implements shadow migration: it copies directories, files,
// symbolic links and their attributes from the remote filesystem into the
// local one, on demand and in the background.
//
// Every local object that still needs work carries a migration marker, an
// extended attribute naming the remote counterpart by its root-relative path
// (the local root is "/"). The marker is removed only once the object is
// complete, so its absence is the authoritative "done" signal. Local paths
// mirror remote paths.
//
// New children are built inside the admin tmp directory and renamed into
// place once their attributes and marker are set, so a visible name without
// a marker is always complete.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/telemetry"
	"github.com/marmos91/shadowfs/pkg/bufpool"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/linktable"
	"github.com/marmos91/shadowfs/pkg/shadow/pending"
	"github.com/marmos91/shadowfs/pkg/shadow/spacemap"
	"github.com/marmos91/shadowfs/pkg/shadow/state"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

const (
	// DefaultChunkSize is the unit of file data copies.
	DefaultChunkSize = 128 * 1024

	// DefaultMarkerAttr is the extended attribute holding the migration marker.
	DefaultMarkerAttr = "user.shadowfs.remote"

	// DefaultWalkConcurrency bounds the directories walked in parallel.
	DefaultWalkConcurrency = 8

	tmpDirName   = "tmp"
	spaceDirName = "spacemap"
	linksDirName = "links"
)

// Options configure an Engine. Zero values select the defaults.
type Options struct {
	// ChunkSize is rounded up to a multiple of the local block size.
	ChunkSize        int64
	MarkerAttr       string
	CompactThreshold int
	WalkConcurrency  int
	Metrics          Metrics
}

func (o *Options) applyDefaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MarkerAttr == "" {
		o.MarkerAttr = DefaultMarkerAttr
	}
	if o.CompactThreshold <= 0 {
		o.CompactThreshold = spacemap.DefaultCompactThreshold
	}
	if o.WalkConcurrency <= 0 {
		o.WalkConcurrency = DefaultWalkConcurrency
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
}

// Engine migrates one local filesystem from one remote filesystem.
//
// Thread Safety:
// All methods are safe for concurrent use. Work on one object is serialized
// by its content lock; the pending log and the link table carry their own
// locks. The link table lock is a leaf: no content lock is ever taken while
// it is held.
type Engine struct {
	local  vfs.FS
	remote vfs.FS
	opts   Options
	chunk  int64
	bufs   *bufpool.Pool

	admin    *vfs.Dir
	tmp      *vfs.Dir
	spaceDir *vfs.Dir

	pending *pending.Log
	links   *linktable.Table
	objects *state.Table

	tmpSeq atomic.Uint64
}

// New opens the bookkeeping of local and returns an engine for it.
//
// A local filesystem without an admin directory is being shadowed for the
// first time: its root must be empty, and it is marked as the counterpart of
// the remote root and queued for migration.
func New(ctx context.Context, local, remote vfs.FS, opts Options) (*Engine, error) {
	const op = "open engine"
	opts.applyDefaults()

	e := &Engine{
		local:   local,
		remote:  remote,
		opts:    opts,
		objects: state.NewTable(),
	}
	bs := local.BlockSize()
	if bs <= 0 {
		bs = 1
	}
	e.chunk = (opts.ChunkSize + bs - 1) / bs * bs
	e.bufs = bufpool.For(int(e.chunk))

	root := local.Root()
	_, err := local.Lookup(ctx, root, vfs.AdminDirName, vfs.Kernel)
	fresh := errors.Is(err, vfs.ErrNotExist)
	if err != nil && !fresh {
		return nil, localError(op, vfs.AdminDirName, err)
	}
	_, marked, err := e.marker(ctx, root)
	if err != nil {
		return nil, err
	}
	if fresh && !marked {
		entries, err := local.ReadDir(ctx, root, vfs.Kernel)
		if err != nil {
			return nil, localError(op, "/", err)
		}
		if len(entries) > 0 {
			return nil, shadowerrors.NewInvalidArgumentError(op, "local root is not empty")
		}
	}

	if e.admin, err = vfs.OpenAdminDir(ctx, local); err != nil {
		return nil, localError(op, vfs.AdminDirName, err)
	}
	if e.tmp, err = e.admin.Sub(ctx, tmpDirName); err != nil {
		return nil, localError(op, tmpDirName, err)
	}
	if e.spaceDir, err = e.admin.Sub(ctx, spaceDirName); err != nil {
		return nil, localError(op, spaceDirName, err)
	}
	if err := e.clearTmp(ctx); err != nil {
		return nil, err
	}
	linksDir, err := e.admin.Sub(ctx, linksDirName)
	if err != nil {
		return nil, localError(op, linksDirName, err)
	}
	e.links = linktable.New(linksDir, remote)

	if e.pending, err = pending.Open(ctx, e.admin); err != nil {
		return nil, shadowerrors.Wrap(shadowerrors.ErrCorruption, op, "pending", err)
	}

	if fresh && !marked {
		if err := e.markRoot(ctx); err != nil {
			_ = e.pending.Close()
			return nil, err
		}
		logger.InfoCtx(ctx, "Local filesystem marked as shadow of remote root",
			logger.FsID(remote.FsID()))
	}
	return e, nil
}

// markRoot makes the local root the counterpart of the remote root. The
// root is queued before its marker is set.
func (e *Engine) markRoot(ctx context.Context) error {
	const op = "mark root"
	root := e.local.Root()
	rroot := e.remote.Root()
	rattr, err := e.remote.GetAttr(ctx, rroot, vfs.Kernel)
	if err != nil {
		return remoteError(op, "/", err)
	}
	if err := e.local.SetAttr(ctx, root, ownership(rattr), vfs.Kernel); err != nil {
		return localError(op, "/", err)
	}
	if err := e.copySecurity(ctx, rroot, root, "/"); err != nil {
		return err
	}
	if err := e.pending.Append(ctx, root.ID()); err != nil {
		return localError(op, "/", err)
	}
	return e.setMarker(ctx, root, "/")
}

// clearTmp removes half-built children left by an interrupted migration.
func (e *Engine) clearTmp(ctx context.Context) error {
	entries, err := e.tmp.List(ctx)
	if err != nil {
		return localError("clear tmp", e.tmp.Path(), err)
	}
	for _, ent := range entries {
		if err := e.removeAll(ctx, e.tmp.Node(), ent.Name); err != nil {
			return localError("clear tmp", path.Join(e.tmp.Path(), ent.Name), err)
		}
	}
	return nil
}

// Close releases the pending log.
func (e *Engine) Close() error {
	return e.pending.Close()
}

// Local returns the local filesystem.
func (e *Engine) Local() vfs.FS { return e.local }

// Pending returns the pending log.
func (e *Engine) Pending() *pending.Log { return e.pending }

// Links returns the link table.
func (e *Engine) Links() *linktable.Table { return e.links }

// Object returns the in-memory state of the object with the given identity,
// creating it if needed.
func (e *Engine) Object(id fid.FID) *state.Object { return e.objects.Get(id) }

// Forget drops the in-memory state of an object whose handle was released.
// An object being migrated is kept.
func (e *Engine) Forget(id fid.FID) {
	obj, ok := e.objects.Lookup(id)
	if !ok || !obj.TryLock() {
		return
	}
	if sm := obj.SpaceMap(); sm != nil {
		_ = sm.Close()
		obj.SetSpaceMap(nil)
	}
	e.objects.Forget(id)
	obj.Unlock()
}

// Resolve makes n fully migrated.
func (e *Engine) Resolve(ctx context.Context, n vfs.Node, blocking bool) error {
	return e.ResolveRange(ctx, n, 0, -1, blocking)
}

// ResolveRange makes n migrated at least over [start, end). A negative end
// means end of file; directories and links are always migrated as a whole.
// The ancestors of n are resolved first.
//
// Without blocking, ResolveRange fails with WouldBlock instead of waiting
// for another caller migrating the same object.
func (e *Engine) ResolveRange(ctx context.Context, n vfs.Node, start, end int64, blocking bool) error {
	if start < 0 || (end >= 0 && end < start) {
		return shadowerrors.NewInvalidArgumentError("resolve", fmt.Sprintf("invalid range [%d,%d)", start, end))
	}
	obj := e.objects.Get(n.ID())
	if obj.Status() == state.Migrated {
		return nil
	}
	if err := e.resolveAncestors(ctx, n, blocking); err != nil {
		return err
	}
	return e.resolve(ctx, obj, n, start, end, blocking)
}

// resolveAncestors resolves every directory from the root down to the
// parent of n. Objects without a known path are left alone.
func (e *Engine) resolveAncestors(ctx context.Context, n vfs.Node, blocking bool) error {
	p, err := e.local.PathOf(ctx, n)
	if err != nil || p == "" {
		return nil
	}
	cur := e.local.Root()
	parts := strings.Split(p, "/")
	for i, part := range parts[:len(parts)-1] {
		if err := e.resolve(ctx, e.objects.Get(cur.ID()), cur, 0, -1, blocking); err != nil {
			return err
		}
		next, err := e.local.Lookup(ctx, cur, part, vfs.Kernel)
		if err != nil {
			return localError("resolve ancestors", strings.Join(parts[:i+1], "/"), err)
		}
		cur = next
	}
	return e.resolve(ctx, e.objects.Get(cur.ID()), cur, 0, -1, blocking)
}

func (e *Engine) resolve(ctx context.Context, obj *state.Object, n vfs.Node, start, end int64, blocking bool) error {
	if obj.Status() == state.Migrated {
		return nil
	}
	ctx, span := telemetry.StartMigrationSpan(ctx, telemetry.SpanResolve, n.ID().Bytes(),
		telemetry.Blocking(blocking), telemetry.Offset(start), telemetry.Length(end-start))
	defer span.End()

	begin := time.Now()
	var typ vfs.ObjectType
	err := obj.Resolve(ctx, blocking, func(ctx context.Context, obj *state.Object) (state.Status, error) {
		var (
			st  state.Status
			err error
		)
		st, typ, err = e.migrate(ctx, obj, n, start, end)
		return st, err
	})

	code := ""
	if err != nil {
		code = shadowerrors.CodeOf(err).String()
		if !shadowerrors.IsWouldBlock(err) {
			e.opts.Metrics.RecordError(code)
			telemetry.RecordError(ctx, err)
		}
	}
	if typ != 0 {
		e.opts.Metrics.ObserveResolve(typ, time.Since(begin), code)
	}
	return err
}

// migrate is the Migrator of every object. It runs with the content lock of
// obj held.
func (e *Engine) migrate(ctx context.Context, obj *state.Object, n vfs.Node, start, end int64) (state.Status, vfs.ObjectType, error) {
	attr, err := e.local.GetAttr(ctx, n, vfs.Kernel)
	if err != nil {
		return 0, 0, localError("getattr", n.ID().String(), err)
	}
	mk, ok, err := e.marker(ctx, n)
	if err != nil {
		return 0, attr.Type, err
	}
	if !ok {
		return state.Migrated, attr.Type, nil
	}

	var st state.Status
	switch attr.Type {
	case vfs.TypeDirectory:
		st, err = state.Migrated, e.migrateDir(ctx, n, mk)
	case vfs.TypeRegular:
		st, err = e.migrateFile(ctx, obj, n, attr, mk, start, end)
	default:
		// Links and special files are created complete.
		if err = e.clearMarker(ctx, n); err == nil {
			e.pending.Remove(n.ID())
		}
		st = state.Migrated
	}
	if err != nil {
		return 0, attr.Type, err
	}
	if st == state.Migrated {
		e.opts.Metrics.RecordObjectMigrated(attr.Type)
	}
	return st, attr.Type, nil
}

// ProcessOnePending migrates the first live object of the pending log. It
// reports false when the log is empty or the entry turned out to need no
// work (the object is gone, or already migrated); such an entry is removed.
func (e *Engine) ProcessOnePending(ctx context.Context, blocking bool) (bool, error) {
	ctx, span := telemetry.StartMigrationSpan(ctx, telemetry.SpanProcessPending, nil, telemetry.Blocking(blocking))
	defer span.End()

	h, ok, err := e.pending.Claim(ctx, blocking)
	if err != nil {
		return false, localError("claim pending", "", err)
	}
	if !ok {
		return false, nil
	}
	defer e.pending.Release()

	processed, err := e.processHandle(ctx, h, blocking)
	e.opts.Metrics.RecordPendingProcessed(processed)
	return processed, err
}

func (e *Engine) processHandle(ctx context.Context, h fid.FID, blocking bool) (bool, error) {
	n, err := e.local.ResolveFID(ctx, h)
	if errors.Is(err, vfs.ErrNotExist) {
		logger.DebugCtx(ctx, "Pending object no longer exists, dropping", logger.HandleHex(h.Hex()))
		e.pending.Remove(h)
		return false, nil
	}
	if err != nil {
		return false, localError("resolve handle", h.String(), err)
	}
	if obj, ok := e.objects.Lookup(h); ok && obj.Status() == state.Migrated {
		e.pending.Remove(h)
		return false, nil
	}
	if _, ok, err := e.marker(ctx, n); err != nil {
		return false, err
	} else if !ok {
		e.pending.Remove(h)
		return false, nil
	}
	if err := e.resolveAncestors(ctx, n, blocking); err != nil {
		return false, err
	}
	if err := e.resolve(ctx, e.objects.Get(h), n, 0, -1, blocking); err != nil {
		return false, err
	}
	return true, nil
}

// RemotePath returns the remote counterpart of n, as recorded by its
// migration marker. A migrated object is reported as NotShadow.
func (e *Engine) RemotePath(ctx context.Context, n vfs.Node) (string, error) {
	mk, ok, err := e.marker(ctx, n)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", shadowerrors.New(shadowerrors.ErrNotShadow, "remote path", n.ID().String(), nil)
	}
	return mk, nil
}

// ForceMigrate migrates [start, end) of n, waiting for other callers.
func (e *Engine) ForceMigrate(ctx context.Context, n vfs.Node, start, end int64) error {
	return e.ResolveRange(ctx, n, start, end, true)
}

// HandleToPath returns the local path ("/" rooted) of the object with the
// given identity.
func (e *Engine) HandleToPath(ctx context.Context, h fid.FID) (string, error) {
	const op = "handle to path"
	n, err := e.local.ResolveFID(ctx, h)
	if errors.Is(err, vfs.ErrNotExist) {
		return "", shadowerrors.NewNotFoundError(op, h.String())
	}
	if err != nil {
		return "", localError(op, h.String(), err)
	}
	p, err := e.local.PathOf(ctx, n)
	if errors.Is(err, vfs.ErrNotExist) {
		return "", shadowerrors.NewNotFoundError(op, h.String())
	}
	if err != nil {
		return "", localError(op, h.String(), err)
	}
	return "/" + p, nil
}

// IsMigrationPending reports whether n may still need migration. It never
// reports false for an object that needs work: failures to check count as
// pending.
func (e *Engine) IsMigrationPending(ctx context.Context, n vfs.Node) bool {
	if obj, ok := e.objects.Lookup(n.ID()); ok && obj.Status() == state.Migrated {
		return false
	}
	_, ok, err := e.marker(ctx, n)
	return err != nil || ok
}

// Stats is a snapshot of the engine.
type Stats struct {
	Objects map[state.Status]int
	Pending pending.Stats
	Links   linktable.Stats
}

func (e *Engine) Stats() Stats {
	return Stats{
		Objects: e.objects.Counts(),
		Pending: e.pending.Stats(),
		Links:   e.links.Stats(),
	}
}

// ============================================================================
// Migration marker
// ============================================================================

func markerFor(rel string) string { return "/" + rel }

func remoteRel(marker string) string { return strings.TrimPrefix(marker, "/") }

func (e *Engine) marker(ctx context.Context, n vfs.Node) (string, bool, error) {
	v, err := e.local.GetXattr(ctx, n, e.opts.MarkerAttr, vfs.Kernel)
	if errors.Is(err, vfs.ErrNoAttr) {
		return "", false, nil
	}
	if err != nil {
		return "", false, localError("get marker", n.ID().String(), err)
	}
	return string(v), true, nil
}

func (e *Engine) setMarker(ctx context.Context, n vfs.Node, mk string) error {
	if err := e.local.SetXattr(ctx, n, e.opts.MarkerAttr, []byte(mk), vfs.Kernel); err != nil {
		return localError("set marker", mk, err)
	}
	return nil
}

func (e *Engine) clearMarker(ctx context.Context, n vfs.Node) error {
	err := e.local.RemoveXattr(ctx, n, e.opts.MarkerAttr, vfs.Kernel)
	if err != nil && !errors.Is(err, vfs.ErrNoAttr) {
		return localError("clear marker", n.ID().String(), err)
	}
	return nil
}

// ============================================================================
// Error classification
// ============================================================================

func localError(op, p string, err error) error {
	if errors.Is(err, vfs.ErrReadOnly) {
		return shadowerrors.Wrap(shadowerrors.ErrReadOnly, op, p, err)
	}
	return shadowerrors.Wrap(shadowerrors.ErrLocalIO, op, p, err)
}

func remoteError(op, p string, err error) error {
	if errors.Is(err, vfs.ErrNotExist) {
		return shadowerrors.Wrap(shadowerrors.ErrRemoteUnavailable, op, p, err)
	}
	return shadowerrors.Wrap(shadowerrors.ErrRemoteIO, op, p, err)
}
