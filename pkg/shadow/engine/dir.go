package engine

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/telemetry"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/spacemap"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// migrateDir recreates every remote entry of the directory marked mk inside
// the local directory dir. Children that still need work are queued before
// the marker of dir is removed.
func (e *Engine) migrateDir(ctx context.Context, dir vfs.Node, mk string) error {
	const op = "migrate dir"
	ctx, span := telemetry.StartMigrationSpan(ctx, telemetry.SpanMigrateDir, dir.ID().Bytes(),
		telemetry.RemotePath(mk))
	defer span.End()

	rel := remoteRel(mk)
	rdir, err := e.remote.LookupPath(ctx, rel, vfs.Kernel)
	if err != nil {
		return remoteError(op, mk, err)
	}
	rattr, err := e.remote.GetAttr(ctx, rdir, vfs.Kernel)
	if err != nil {
		return remoteError(op, mk, err)
	}
	if rattr.Type != vfs.TypeDirectory {
		return shadowerrors.New(shadowerrors.ErrStructuralConflict, op, mk,
			fmt.Errorf("remote object is a %s", rattr.Type))
	}
	entries, err := e.remote.ReadDir(ctx, rdir, vfs.Kernel)
	if err != nil {
		return remoteError(op, mk, err)
	}

	var work []fid.FID
	for _, ent := range entries {
		if rel == "" && ent.Name == vfs.AdminDirName {
			continue
		}
		if err := ctx.Err(); err != nil {
			return shadowerrors.NewInterruptedError(op, err)
		}
		h, needsWork, err := e.migrateChild(ctx, dir, rdir, path.Join(rel, ent.Name), ent.Name)
		if err != nil {
			return err
		}
		if needsWork {
			work = append(work, h)
		}
	}
	if err := e.pending.AppendAll(ctx, work); err != nil {
		return localError("queue children", mk, err)
	}

	// Creating children touched the directory times.
	times := vfs.SetAttr{Atime: &rattr.Atime, Mtime: &rattr.Mtime}
	if err := e.local.SetAttr(ctx, dir, times, vfs.Kernel); err != nil {
		return localError(op, mk, err)
	}
	if err := e.clearMarker(ctx, dir); err != nil {
		return err
	}
	e.pending.Remove(dir.ID())

	logger.DebugCtx(ctx, "Directory migrated",
		logger.RemotePath(mk), logger.Entries(len(entries)), logger.Queued(len(work)))
	return nil
}

// migrateChild makes the local entry name of dir the counterpart of the
// remote object at rel. It returns the local identity of the child and
// whether the child still needs migration work.
//
// A local entry left by an earlier attempt is reused when it already points
// at rel; a conflicting one is removed and the creation retried once.
func (e *Engine) migrateChild(ctx context.Context, dir, rdir vfs.Node, rel, name string) (fid.FID, bool, error) {
	const op = "migrate child"
	mk := markerFor(rel)

	rn, err := e.remote.Lookup(ctx, rdir, name, vfs.Kernel)
	if errors.Is(err, vfs.ErrNotExist) {
		// Removed remotely since the listing.
		return fid.FID{}, false, nil
	}
	if err != nil {
		return fid.FID{}, false, remoteError(op, mk, err)
	}
	rattr, err := e.remote.GetAttr(ctx, rn, vfs.Kernel)
	if err != nil {
		return fid.FID{}, false, remoteError(op, mk, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		ln, err := e.local.Lookup(ctx, dir, name, vfs.Kernel)
		switch {
		case err == nil:
			h, needsWork, reuse, err := e.reuse(ctx, ln, mk, rattr)
			if err != nil {
				return fid.FID{}, false, err
			}
			if reuse {
				return h, needsWork, nil
			}
			logger.InfoCtx(ctx, "Removing conflicting local object",
				logger.RemotePath(mk), logger.Attempt(attempt))
			if err := e.removeAll(ctx, dir, name); err != nil {
				return fid.FID{}, false, localError(op, mk, err)
			}
			continue
		case !errors.Is(err, vfs.ErrNotExist):
			return fid.FID{}, false, localError(op, mk, err)
		}

		h, needsWork, err := e.createChild(ctx, dir, name, rn, rattr, rel)
		if errors.Is(err, vfs.ErrExist) {
			continue
		}
		return h, needsWork, err
	}
	return fid.FID{}, false, shadowerrors.New(shadowerrors.ErrStructuralConflict, op, mk,
		fmt.Errorf("local entry %q keeps conflicting", name))
}

// reuse decides whether an existing local entry already stands for the
// remote object described by rattr at mk.
func (e *Engine) reuse(ctx context.Context, ln vfs.Node, mk string, rattr vfs.Attr) (fid.FID, bool, bool, error) {
	lattr, err := e.local.GetAttr(ctx, ln, vfs.Kernel)
	if err != nil {
		return fid.FID{}, false, false, localError("reuse child", mk, err)
	}
	if lattr.Type != rattr.Type {
		return fid.FID{}, false, false, nil
	}
	got, marked, err := e.marker(ctx, ln)
	if err != nil {
		return fid.FID{}, false, false, err
	}
	switch {
	case !marked:
		return ln.ID(), false, true, nil
	case got == mk:
		return ln.ID(), true, true, nil
	case rattr.Type == vfs.TypeRegular && rattr.Nlink > 1 && lattr.Nlink > 1:
		// Another name of the same hard-linked object; it is queued under
		// the name that created it.
		return ln.ID(), false, true, nil
	}
	return fid.FID{}, false, false, nil
}

func (e *Engine) createChild(ctx context.Context, dir vfs.Node, name string, rn vfs.Node, rattr vfs.Attr, rel string) (fid.FID, bool, error) {
	switch rattr.Type {
	case vfs.TypeDirectory:
		return e.createDir(ctx, dir, name, rn, rattr, rel)
	case vfs.TypeRegular:
		if rattr.Nlink > 1 {
			return e.createLinked(ctx, dir, name, rn, rattr, rel)
		}
		n, err := e.createFile(ctx, rn, rattr, rel)
		if err != nil {
			return fid.FID{}, false, err
		}
		return e.publish(ctx, n.tmpName, n.node, dir, name, rattr.Size > 0)
	case vfs.TypeSymlink:
		return e.createSymlink(ctx, dir, name, rn, rattr, rel)
	default:
		logger.WarnCtx(ctx, "Skipping unsupported remote object",
			logger.RemotePath(markerFor(rel)), logger.TypeStr(rattr.Type.String()))
		return fid.FID{}, false, nil
	}
}

func (e *Engine) nextTmpName() string {
	return fmt.Sprintf("child.%d", e.tmpSeq.Add(1))
}

// ownership returns the permission and owner attributes of rattr.
func ownership(rattr vfs.Attr) vfs.SetAttr {
	mode, uid, gid := rattr.Mode, rattr.UID, rattr.GID
	return vfs.SetAttr{Mode: &mode, UID: &uid, GID: &gid}
}

// publish renames a finished child from the tmp directory into place.
func (e *Engine) publish(ctx context.Context, tmpName string, n vfs.Node, dir vfs.Node, name string, needsWork bool) (fid.FID, bool, error) {
	err := e.local.Rename(ctx, e.tmp.Node(), tmpName, dir, name, vfs.Kernel)
	if err != nil {
		_ = e.removeAll(ctx, e.tmp.Node(), tmpName)
		if errors.Is(err, vfs.ErrExist) {
			return fid.FID{}, false, err
		}
		return fid.FID{}, false, localError("publish child", name, err)
	}
	return n.ID(), needsWork, nil
}

func (e *Engine) createDir(ctx context.Context, dir vfs.Node, name string, rn vfs.Node, rattr vfs.Attr, rel string) (fid.FID, bool, error) {
	const op = "create dir"
	mk := markerFor(rel)
	tmpName := e.nextTmpName()
	n, err := e.local.Mkdir(ctx, e.tmp.Node(), tmpName, ownership(rattr), vfs.Kernel)
	if err != nil {
		return fid.FID{}, false, localError(op, mk, err)
	}
	if err := e.copySecurity(ctx, rn, n, mk); err != nil {
		_ = e.removeAll(ctx, e.tmp.Node(), tmpName)
		return fid.FID{}, false, err
	}
	if err := e.setMarker(ctx, n, mk); err != nil {
		_ = e.removeAll(ctx, e.tmp.Node(), tmpName)
		return fid.FID{}, false, err
	}
	return e.publish(ctx, tmpName, n, dir, name, true)
}

type tmpChild struct {
	tmpName string
	node    vfs.Node
}

// createFile builds a sparse file of the remote size in the tmp directory.
// Only a non-empty file carries a marker; an empty one is complete.
func (e *Engine) createFile(ctx context.Context, rn vfs.Node, rattr vfs.Attr, rel string) (tmpChild, error) {
	const op = "create file"
	mk := markerFor(rel)
	tmpName := e.nextTmpName()
	attr := ownership(rattr)
	size := rattr.Size
	attr.Size = &size
	n, err := e.local.Create(ctx, e.tmp.Node(), tmpName, attr, vfs.Kernel)
	if err != nil {
		return tmpChild{}, localError(op, mk, err)
	}
	cleanup := func(err error) (tmpChild, error) {
		_ = e.removeAll(ctx, e.tmp.Node(), tmpName)
		return tmpChild{}, err
	}
	if err := e.copySecurity(ctx, rn, n, mk); err != nil {
		return cleanup(err)
	}
	if size > 0 {
		if err := e.setMarker(ctx, n, mk); err != nil {
			return cleanup(err)
		}
	} else {
		times := vfs.SetAttr{Atime: &rattr.Atime, Mtime: &rattr.Mtime}
		if err := e.local.SetAttr(ctx, n, times, vfs.Kernel); err != nil {
			return cleanup(localError(op, mk, err))
		}
		e.opts.Metrics.RecordObjectMigrated(vfs.TypeRegular)
	}
	return tmpChild{tmpName: tmpName, node: n}, nil
}

// createLinked creates a name for a remote object with several links. The
// first name creates the local object and records it in the link table;
// later names become hard links to it.
func (e *Engine) createLinked(ctx context.Context, dir vfs.Node, name string, rn vfs.Node, rattr vfs.Attr, rel string) (fid.FID, bool, error) {
	mk := markerFor(rel)

	e.links.Lock()
	defer e.links.Unlock()

	existing, found, err := e.links.FindLocal(ctx, rattr.FsID, rattr.FID)
	if err != nil {
		logger.WarnCtx(ctx, "Link table lookup failed, copying object",
			logger.RemotePath(mk), logger.Err(err))
	}
	if found {
		err := e.local.Link(ctx, dir, name, existing, vfs.Kernel)
		if err == nil {
			logger.DebugCtx(ctx, "Hard link reconciled",
				logger.RemotePath(mk), logger.LinkCount(rattr.Nlink))
			// The name that created the object may never have been queued.
			_, marked, err := e.marker(ctx, existing)
			if err != nil {
				return fid.FID{}, false, err
			}
			return existing.ID(), marked, nil
		}
		if errors.Is(err, vfs.ErrExist) {
			return fid.FID{}, false, err
		}
		return fid.FID{}, false, localError("link child", mk, err)
	}

	child, err := e.createFile(ctx, rn, rattr, rel)
	if err != nil {
		return fid.FID{}, false, err
	}
	// Recorded before publishing: a name lost to a crash is relinked to the
	// recorded object when the directory is migrated again.
	if err := e.links.RecordLink(ctx, rattr.FsID, rattr.FID, rel, child.node); err != nil {
		logger.WarnCtx(ctx, "Failed to record hard link, later names will be copied",
			logger.RemotePath(mk), logger.Err(err))
	}
	return e.publish(ctx, child.tmpName, child.node, dir, name, rattr.Size > 0)
}

func (e *Engine) createSymlink(ctx context.Context, dir vfs.Node, name string, rn vfs.Node, rattr vfs.Attr, rel string) (fid.FID, bool, error) {
	const op = "create symlink"
	mk := markerFor(rel)
	target, err := e.remote.Readlink(ctx, rn, vfs.Kernel)
	if err != nil {
		return fid.FID{}, false, remoteError(op, mk, err)
	}
	uid, gid := rattr.UID, rattr.GID
	attr := vfs.SetAttr{UID: &uid, GID: &gid, Atime: &rattr.Atime, Mtime: &rattr.Mtime}
	tmpName := e.nextTmpName()
	n, err := e.local.Symlink(ctx, e.tmp.Node(), tmpName, target, attr, vfs.Kernel)
	if err != nil {
		return fid.FID{}, false, localError(op, mk, err)
	}
	e.opts.Metrics.RecordObjectMigrated(vfs.TypeSymlink)
	return e.publish(ctx, tmpName, n, dir, name, false)
}

// copySecurity replicates the extended attributes and the ACL of rn onto ln.
// The marker attribute itself is never copied.
func (e *Engine) copySecurity(ctx context.Context, rn, ln vfs.Node, mk string) error {
	const op = "copy security"
	names, err := e.remote.ListXattr(ctx, rn, vfs.Kernel)
	if err != nil && !errors.Is(err, vfs.ErrUnsupported) {
		return remoteError(op, mk, err)
	}
	for _, name := range names {
		if name == e.opts.MarkerAttr {
			continue
		}
		v, err := e.remote.GetXattr(ctx, rn, name, vfs.Kernel)
		if errors.Is(err, vfs.ErrNoAttr) {
			continue
		}
		if err != nil {
			return remoteError(op, mk, err)
		}
		if err := e.local.SetXattr(ctx, ln, name, v, vfs.Kernel); err != nil {
			return localError(op, mk, err)
		}
	}

	acl, err := e.remote.GetSecAttr(ctx, rn, vfs.Kernel)
	if errors.Is(err, vfs.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return remoteError(op, mk, err)
	}
	if len(acl) > 0 {
		if err := e.local.SetSecAttr(ctx, ln, acl, vfs.Kernel); err != nil {
			return localError(op, mk, err)
		}
	}
	return nil
}

// removeAll removes name from dir, recursively for directories, together
// with the bookkeeping of every removed object.
func (e *Engine) removeAll(ctx context.Context, dir vfs.Node, name string) error {
	n, err := e.local.Lookup(ctx, dir, name, vfs.Kernel)
	if errors.Is(err, vfs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	attr, err := e.local.GetAttr(ctx, n, vfs.Kernel)
	if err != nil {
		return err
	}
	if attr.Type != vfs.TypeDirectory {
		if err := e.local.Remove(ctx, dir, name, vfs.Kernel); err != nil {
			return err
		}
		if attr.Type == vfs.TypeRegular && attr.Nlink <= 1 {
			e.Forget(n.ID())
			return spacemap.Remove(ctx, e.spaceDir, n.ID().Hex())
		}
		return nil
	}
	entries, err := e.local.ReadDir(ctx, n, vfs.Kernel)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if err := e.removeAll(ctx, n, ent.Name); err != nil {
			return err
		}
	}
	e.Forget(n.ID())
	return e.local.Rmdir(ctx, dir, name, vfs.Kernel)
}
