// Package linktable maps remote hard-linked objects to their already-migrated
// local counterparts, so that a second name of the same remote object becomes
// a local hard link instead of a second copy.
//
// Layout of the table directory:
//
//	<index>              remembered remote path used to re-derive the
//	                     volatile filesystem id behind index after a restart
//	<index>.<hex>.ref    hard link to the local object
//	<index>.<hex>.path   one valid remote path of the object
//
// Entries are never cleaned up once migration completes.
package linktable

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

const (
	refSuffix  = ".ref"
	pathSuffix = ".path"
)

// Table is the link table of one shadow mount.
//
// Thread Safety:
// FindLocal, RecordLink and Invalidate must be called with the table locked
// (Lock/Unlock). The table lock is a leaf: it is taken with the directory's
// content lock held, and no content lock is taken while it is held.
type Table struct {
	mu     sync.Mutex
	dir    *vfs.Dir
	remote vfs.FS

	loaded  bool
	indexes map[string]int // volatile fsid -> persistent index
	next    int

	links         int64
	invalidations int64
}

// New returns a table stored in dir, resolving remembered paths through
// remote.
func New(dir *vfs.Dir, remote vfs.FS) *Table {
	return &Table{dir: dir, remote: remote, indexes: make(map[string]int)}
}

// Lock acquires the table lock.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the table lock.
func (t *Table) Unlock() { t.mu.Unlock() }

// load builds the fsid -> index map by re-resolving every remembered path.
// Paths that no longer resolve are skipped silently: their index stays
// allocated but unreachable.
func (t *Table) load(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	entries, err := t.dir.List(ctx)
	if err != nil {
		return fmt.Errorf("list link table: %w", err)
	}
	for _, e := range entries {
		idx, err := strconv.Atoi(e.Name)
		if err != nil || idx < 0 {
			continue
		}
		if idx >= t.next {
			t.next = idx + 1
		}
		data, err := t.dir.ReadFile(ctx, e.Name)
		if err != nil {
			logger.DebugCtx(ctx, "Link index unreadable", logger.LinkIndex(idx), logger.Err(err))
			continue
		}
		n, err := t.remote.LookupPath(ctx, string(data), vfs.Kernel)
		if err != nil {
			logger.DebugCtx(ctx, "Link index path no longer resolves",
				logger.LinkIndex(idx), logger.RemotePath(string(data)), logger.Err(err))
			continue
		}
		attr, err := t.remote.GetAttr(ctx, n, vfs.Kernel)
		if err != nil {
			continue
		}
		if _, dup := t.indexes[attr.FsID]; !dup {
			t.indexes[attr.FsID] = idx
		}
	}
	t.loaded = true
	return nil
}

// index returns the persistent index of fsid, allocating one that remembers
// remotePath when create is set.
func (t *Table) index(ctx context.Context, fsid, remotePath string, create bool) (int, bool, error) {
	if err := t.load(ctx); err != nil {
		return 0, false, err
	}
	if idx, ok := t.indexes[fsid]; ok {
		return idx, true, nil
	}
	if !create {
		return 0, false, nil
	}
	if strings.ContainsRune(remotePath, '\n') {
		return 0, false, fmt.Errorf("link table: remote path %q contains a newline", remotePath)
	}
	idx := t.next
	if err := t.dir.WriteFile(ctx, strconv.Itoa(idx), []byte(remotePath)); err != nil {
		return 0, false, fmt.Errorf("write link index %d: %w", idx, err)
	}
	t.next++
	t.indexes[fsid] = idx
	logger.DebugCtx(ctx, "Link index allocated", logger.LinkIndex(idx), logger.FsID(fsid))
	return idx, true, nil
}

func entryName(idx int, h fid.FID) string {
	return strconv.Itoa(idx) + "." + h.Hex()
}

// FindLocal returns the local object previously recorded for the remote
// object (fsid, h). The entry is validated first: its remembered remote path
// must still resolve to h. A stale entry is invalidated and reported as not
// found, so the caller falls back to a normal copy.
func (t *Table) FindLocal(ctx context.Context, fsid string, h fid.FID) (vfs.Node, bool, error) {
	idx, ok, err := t.index(ctx, fsid, "", false)
	if err != nil || !ok {
		return nil, false, err
	}
	name := entryName(idx, h)
	ref, err := t.dir.Lookup(ctx, name+refSuffix)
	if errors.Is(err, vfs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !t.valid(ctx, name, fsid, h) {
		t.invalidations++
		logger.InfoCtx(ctx, "Link table entry is stale, invalidating",
			logger.LinkIndex(idx), logger.HandleHex(h.Hex()))
		return nil, false, t.remove(ctx, name)
	}
	return ref, true, nil
}

// valid re-resolves the remembered path of an entry and compares the
// current remote identity with the expected one.
func (t *Table) valid(ctx context.Context, name, fsid string, h fid.FID) bool {
	data, err := t.dir.ReadFile(ctx, name+pathSuffix)
	if err != nil {
		return false
	}
	n, err := t.remote.LookupPath(ctx, string(data), vfs.Kernel)
	if err != nil {
		return false
	}
	attr, err := t.remote.GetAttr(ctx, n, vfs.Kernel)
	if err != nil {
		return false
	}
	return attr.FsID == fsid && attr.FID == h
}

func (t *Table) remove(ctx context.Context, name string) error {
	if err := t.dir.Remove(ctx, name+refSuffix); err != nil {
		return err
	}
	return t.dir.Remove(ctx, name+pathSuffix)
}

// RecordLink remembers that the remote object (fsid, h), reachable at
// remotePath, was migrated to local. The path is made durable before the
// hard link is created, so a link entry is never trusted without it.
func (t *Table) RecordLink(ctx context.Context, fsid string, h fid.FID, remotePath string, local vfs.Node) error {
	idx, _, err := t.index(ctx, fsid, remotePath, true)
	if err != nil {
		return err
	}
	name := entryName(idx, h)
	if err := t.dir.WriteFile(ctx, name+pathSuffix, []byte(remotePath)); err != nil {
		return fmt.Errorf("record link path: %w", err)
	}
	err = t.dir.Link(ctx, name+refSuffix, local)
	if errors.Is(err, vfs.ErrExist) {
		if err = t.dir.Remove(ctx, name+refSuffix); err == nil {
			err = t.dir.Link(ctx, name+refSuffix, local)
		}
	}
	if err != nil {
		return fmt.Errorf("record link: %w", err)
	}
	t.links++
	return nil
}

// Invalidate drops the entry of (fsid, h), if any.
func (t *Table) Invalidate(ctx context.Context, fsid string, h fid.FID) error {
	idx, ok, err := t.index(ctx, fsid, "", false)
	if err != nil || !ok {
		return err
	}
	return t.remove(ctx, entryName(idx, h))
}

// Stats reports counters since the table was created.
type Stats struct {
	Indexes       int
	Links         int64
	Invalidations int64
}

// Stats returns a snapshot of the counters. It takes the table lock.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Indexes: len(t.indexes), Links: t.links, Invalidations: t.invalidations}
}
