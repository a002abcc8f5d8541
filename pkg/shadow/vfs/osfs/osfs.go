//go:build linux

// Package osfs implements vfs.FS over a directory tree of the host.
//
// Objects are identified by inode number. Paths are remembered in a badger
// index keyed by identity so ResolveFID works across restarts; an index
// entry is a hint, verified against the inode on every use.
//
// Security attributes are the POSIX ACL extended attributes. Operations run
// with the credentials of the process; the caller credential is ignored.
package osfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sys/unix"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

const (
	aclAccess  = "system.posix_acl_access"
	aclDefault = "system.posix_acl_default"

	indexPrefix = "p/"
)

// Options configure an FS.
type Options struct {
	// Root is the directory exposed as the filesystem root.
	Root string

	// IndexDir holds the identity index. Empty keeps it in memory.
	IndexDir string

	// BlockSize overrides the block size reported by the host.
	BlockSize int64

	// Metrics observes index lookups. May be nil.
	Metrics IndexMetrics
}

// FS is a host directory tree.
type FS struct {
	root      string
	rootID    fid.FID
	fsid      string
	blockSize int64
	index     *badger.DB
	metrics   IndexMetrics
}

type node struct {
	id  fid.FID
	rel string
}

func (n node) ID() fid.FID { return n.id }

var _ vfs.FS = (*FS)(nil)

// New opens the tree at opts.Root.
func New(opts Options) (*FS, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("osfs: resolve root %q: %w", opts.Root, err)
	}
	var st unix.Stat_t
	if err := unix.Stat(root, &st); err != nil {
		return nil, fmt.Errorf("osfs: stat root %q: %w", root, mapErr(err))
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, fmt.Errorf("osfs: root %q: %w", root, vfs.ErrNotDir)
	}

	bopts := badger.DefaultOptions(opts.IndexDir).WithLogger(nil)
	if opts.IndexDir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("osfs: open index: %w", err)
	}

	bs := opts.BlockSize
	if bs <= 0 {
		bs = int64(st.Blksize)
	}
	f := &FS{
		root:      root,
		rootID:    fid.FromUint64s(st.Ino),
		fsid:      strconv.FormatUint(st.Dev, 16),
		blockSize: bs,
		index:     db,
		metrics:   opts.Metrics,
	}
	logger.Debug("osfs opened", "root", root, logger.FsID(f.fsid), "block_size", bs)
	return f, nil
}

// Close releases the identity index.
func (f *FS) Close() error {
	return f.index.Close()
}

func (f *FS) FsID() string     { return f.fsid }
func (f *FS) Root() vfs.Node   { return node{id: f.rootID} }
func (f *FS) BlockSize() int64 { return f.blockSize }

// Abs returns the host path of a root-relative path.
func (f *FS) Abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func nodeOf(n vfs.Node) (node, error) {
	nd, ok := n.(node)
	if !ok {
		return node{}, fmt.Errorf("osfs: foreign node %T: %w", n, vfs.ErrNotExist)
	}
	return nd, nil
}

// locate returns n with its current path. Nodes outlive renames.
func (f *FS) locate(n vfs.Node) (node, error) {
	nd, err := nodeOf(n)
	if err != nil {
		return node{}, err
	}
	rel, err := f.PathOf(context.Background(), nd)
	if err != nil {
		return node{}, err
	}
	nd.rel = rel
	return nd, nil
}

func (f *FS) lstat(rel string) (unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Lstat(f.Abs(rel), &st); err != nil {
		return st, &os.PathError{Op: "lstat", Path: rel, Err: mapErr(err)}
	}
	return st, nil
}

// at returns a node for rel and records it in the index.
func (f *FS) at(rel string) (node, error) {
	st, err := f.lstat(rel)
	if err != nil {
		return node{}, err
	}
	n := node{id: fid.FromUint64s(st.Ino), rel: rel}
	if err := f.remember(n); err != nil {
		return node{}, err
	}
	return n, nil
}

// mapErr converts errnos without an os sentinel to the vfs ones.
func mapErr(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	switch errno {
	case unix.EROFS:
		return fmt.Errorf("%w: %w", vfs.ErrReadOnly, errno)
	case unix.ENODATA:
		return fmt.Errorf("%w: %w", vfs.ErrNoAttr, errno)
	case unix.ENOTSUP:
		return fmt.Errorf("%w: %w", vfs.ErrUnsupported, errno)
	case unix.ENOTDIR:
		return fmt.Errorf("%w: %w", vfs.ErrNotDir, errno)
	default:
		return errno
	}
}

// ============================================================================
// Identity index
// ============================================================================

func indexKey(id fid.FID) []byte {
	return append([]byte(indexPrefix), id.Bytes()...)
}

func (f *FS) remember(n node) error {
	if n.id == f.rootID {
		return nil
	}
	return f.index.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey(n.id), []byte(n.rel))
	})
}

func (f *FS) forget(n node) error {
	return f.index.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(n.id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		rel, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(rel) != n.rel {
			return nil
		}
		return txn.Delete(indexKey(n.id))
	})
}

func (f *FS) recall(id fid.FID) (string, bool, error) {
	var rel string
	err := f.index.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rel = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("osfs: index lookup: %w", err)
	}
	return rel, true, nil
}

// checkHint verifies a recalled index entry and reports the outcome.
func (f *FS) checkHint(found bool, rel string, id fid.FID) bool {
	result := IndexMiss
	valid := found && f.verify(rel, id)
	switch {
	case valid:
		result = IndexHit
	case found:
		result = IndexStale
	}
	if f.metrics != nil {
		f.metrics.RecordIndexLookup(result)
	}
	return valid
}

// verify reports whether rel still names the object id.
func (f *FS) verify(rel string, id fid.FID) bool {
	st, err := f.lstat(rel)
	return err == nil && fid.FromUint64s(st.Ino) == id
}

// ============================================================================
// Namespace
// ============================================================================

func (f *FS) Lookup(ctx context.Context, dir vfs.Node, name string, cred vfs.Cred) (vfs.Node, error) {
	d, err := f.locate(dir)
	if err != nil {
		return nil, err
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, fmt.Errorf("osfs: lookup %q: %w", name, vfs.ErrNotExist)
	}
	return f.at(path.Join(d.rel, name))
}

func (f *FS) LookupPath(ctx context.Context, rel string, cred vfs.Cred) (vfs.Node, error) {
	cur := f.Root()
	for _, part := range strings.Split(rel, "/") {
		if part == "" || part == "." {
			continue
		}
		next, err := f.Lookup(ctx, cur, part, cred)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (f *FS) PathOf(ctx context.Context, n vfs.Node) (string, error) {
	nd, err := nodeOf(n)
	if err != nil {
		return "", err
	}
	if nd.id == f.rootID {
		return "", nil
	}
	if nd.rel != "" && f.verify(nd.rel, nd.id) {
		return nd.rel, nil
	}
	rel, ok, err := f.recall(nd.id)
	if err != nil {
		return "", err
	}
	if !f.checkHint(ok, rel, nd.id) {
		return "", fmt.Errorf("osfs: path of %s: %w", nd.id, vfs.ErrNotExist)
	}
	return rel, nil
}

func (f *FS) ResolveFID(ctx context.Context, id fid.FID) (vfs.Node, error) {
	if id == f.rootID {
		return f.Root(), nil
	}
	rel, ok, err := f.recall(id)
	if err != nil {
		return nil, err
	}
	if !f.checkHint(ok, rel, id) {
		return nil, fmt.Errorf("osfs: handle %s: %w", id, vfs.ErrNotExist)
	}
	return node{id: id, rel: rel}, nil
}

func (f *FS) child(dir vfs.Node, name string) (string, error) {
	d, err := f.locate(dir)
	if err != nil {
		return "", err
	}
	return path.Join(d.rel, name), nil
}

func (f *FS) Create(ctx context.Context, dir vfs.Node, name string, attr vfs.SetAttr, cred vfs.Cred) (vfs.Node, error) {
	rel, err := f.child(dir, name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(f.Abs(rel), unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_CLOEXEC, createMode(attr, 0o644))
	if err != nil {
		return nil, &os.PathError{Op: "create", Path: rel, Err: mapErr(err)}
	}
	_ = unix.Close(fd)
	return f.created(rel, attr)
}

func (f *FS) Mkdir(ctx context.Context, dir vfs.Node, name string, attr vfs.SetAttr, cred vfs.Cred) (vfs.Node, error) {
	rel, err := f.child(dir, name)
	if err != nil {
		return nil, err
	}
	if err := unix.Mkdir(f.Abs(rel), createMode(attr, 0o755)); err != nil {
		return nil, &os.PathError{Op: "mkdir", Path: rel, Err: mapErr(err)}
	}
	return f.created(rel, attr)
}

func (f *FS) Symlink(ctx context.Context, dir vfs.Node, name, target string, attr vfs.SetAttr, cred vfs.Cred) (vfs.Node, error) {
	rel, err := f.child(dir, name)
	if err != nil {
		return nil, err
	}
	if err := unix.Symlink(target, f.Abs(rel)); err != nil {
		return nil, &os.PathError{Op: "symlink", Path: rel, Err: mapErr(err)}
	}
	// Symlink permissions are fixed.
	attr.Mode = nil
	return f.created(rel, attr)
}

func createMode(attr vfs.SetAttr, def os.FileMode) uint32 {
	if attr.Mode != nil {
		return uint32(attr.Mode.Perm())
	}
	return uint32(def)
}

func (f *FS) created(rel string, attr vfs.SetAttr) (vfs.Node, error) {
	n, err := f.at(rel)
	if err != nil {
		return nil, err
	}
	// The umask applied at creation is undone by setting the mode again.
	if err := f.setAttr(n, attr); err != nil {
		return nil, err
	}
	return n, nil
}

func (f *FS) Readlink(ctx context.Context, n vfs.Node, cred vfs.Cred) (string, error) {
	nd, err := f.locate(n)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(f.Abs(nd.rel))
	if err != nil {
		return "", mapErr(err)
	}
	return target, nil
}

func (f *FS) Link(ctx context.Context, dir vfs.Node, name string, target vfs.Node, cred vfs.Cred) error {
	rel, err := f.child(dir, name)
	if err != nil {
		return err
	}
	t, err := nodeOf(target)
	if err != nil {
		return err
	}
	src, err := f.PathOf(ctx, t)
	if err != nil {
		return err
	}
	if err := unix.Link(f.Abs(src), f.Abs(rel)); err != nil {
		return &os.PathError{Op: "link", Path: rel, Err: mapErr(err)}
	}
	return nil
}

func (f *FS) unlink(dir vfs.Node, name string, rmdir bool) error {
	rel, err := f.child(dir, name)
	if err != nil {
		return err
	}
	st, err := f.lstat(rel)
	if err != nil {
		return err
	}
	op, fn := "unlink", unix.Unlink
	if rmdir {
		op, fn = "rmdir", unix.Rmdir
	}
	if err := fn(f.Abs(rel)); err != nil {
		return &os.PathError{Op: op, Path: rel, Err: mapErr(err)}
	}
	return f.forget(node{id: fid.FromUint64s(st.Ino), rel: rel})
}

func (f *FS) Remove(ctx context.Context, dir vfs.Node, name string, cred vfs.Cred) error {
	return f.unlink(dir, name, false)
}

func (f *FS) Rmdir(ctx context.Context, dir vfs.Node, name string, cred vfs.Cred) error {
	return f.unlink(dir, name, true)
}

func (f *FS) Rename(ctx context.Context, srcDir vfs.Node, srcName string, dstDir vfs.Node, dstName string, cred vfs.Cred) error {
	from, err := f.child(srcDir, srcName)
	if err != nil {
		return err
	}
	to, err := f.child(dstDir, dstName)
	if err != nil {
		return err
	}
	if err := unix.Rename(f.Abs(from), f.Abs(to)); err != nil {
		return &os.PathError{Op: "rename", Path: from, Err: mapErr(err)}
	}
	_, err = f.at(to)
	return err
}

func (f *FS) ReadDir(ctx context.Context, dir vfs.Node, cred vfs.Cred) ([]vfs.DirEntry, error) {
	d, err := f.locate(dir)
	if err != nil {
		return nil, err
	}
	ents, err := os.ReadDir(f.Abs(d.rel))
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]vfs.DirEntry, 0, len(ents))
	for _, e := range ents {
		out = append(out, vfs.DirEntry{Name: e.Name(), Type: typeOfMode(e.Type())})
	}
	return out, nil
}

func typeOfMode(m os.FileMode) vfs.ObjectType {
	switch {
	case m.IsDir():
		return vfs.TypeDirectory
	case m&os.ModeSymlink != 0:
		return vfs.TypeSymlink
	case m.IsRegular():
		return vfs.TypeRegular
	default:
		return vfs.TypeOther
	}
}

func typeOfStat(st *unix.Stat_t) vfs.ObjectType {
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return vfs.TypeDirectory
	case unix.S_IFLNK:
		return vfs.TypeSymlink
	case unix.S_IFREG:
		return vfs.TypeRegular
	default:
		return vfs.TypeOther
	}
}

// ============================================================================
// Data
// ============================================================================

func (f *FS) open(n vfs.Node, flag int) (*os.File, error) {
	nd, err := f.locate(n)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(f.Abs(nd.rel), flag|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, mapErr(err)
	}
	return file, nil
}

func (f *FS) ReadAt(ctx context.Context, n vfs.Node, p []byte, off int64, cred vfs.Cred) (int, error) {
	file, err := f.open(n, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	m, err := file.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return m, mapErr(err)
	}
	return m, err
}

func (f *FS) WriteAt(ctx context.Context, n vfs.Node, p []byte, off int64, cred vfs.Cred) (int, error) {
	file, err := f.open(n, os.O_WRONLY)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	m, err := file.WriteAt(p, off)
	if err != nil {
		return m, mapErr(err)
	}
	return m, nil
}

func (f *FS) Fsync(ctx context.Context, n vfs.Node, cred vfs.Cred) error {
	file, err := f.open(n, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer file.Close()
	return mapErr(file.Sync())
}

func (f *FS) seek(n vfs.Node, off int64, whence int) (int64, error) {
	file, err := f.open(n, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	pos, err := unix.Seek(int(file.Fd()), off, whence)
	switch {
	case err == nil:
		return pos, nil
	case errors.Is(err, unix.ENXIO):
		return 0, vfs.ErrNoData
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.EOPNOTSUPP):
		return 0, fmt.Errorf("%w: %w", vfs.ErrUnsupported, err)
	default:
		return 0, mapErr(err)
	}
}

func (f *FS) SeekData(ctx context.Context, n vfs.Node, off int64) (int64, error) {
	return f.seek(n, off, unix.SEEK_DATA)
}

func (f *FS) SeekHole(ctx context.Context, n vfs.Node, off int64) (int64, error) {
	pos, err := f.seek(n, off, unix.SEEK_HOLE)
	if errors.Is(err, vfs.ErrNoData) {
		// At or past end of file: the implicit hole starts here.
		return off, nil
	}
	return pos, err
}

// ============================================================================
// Attributes
// ============================================================================

func (f *FS) GetAttr(ctx context.Context, n vfs.Node, cred vfs.Cred) (vfs.Attr, error) {
	nd, err := f.locate(n)
	if err != nil {
		return vfs.Attr{}, err
	}
	st, err := f.lstat(nd.rel)
	if err != nil {
		return vfs.Attr{}, err
	}
	return vfs.Attr{
		Type:  typeOfStat(&st),
		Mode:  os.FileMode(st.Mode).Perm(),
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  st.Size,
		Nlink: uint32(st.Nlink),
		Atime: time.Unix(st.Atim.Unix()),
		Mtime: time.Unix(st.Mtim.Unix()),
		FsID:  strconv.FormatUint(st.Dev, 16),
		FID:   fid.FromUint64s(st.Ino),
	}, nil
}

func (f *FS) SetAttr(ctx context.Context, n vfs.Node, attr vfs.SetAttr, cred vfs.Cred) error {
	nd, err := f.locate(n)
	if err != nil {
		return err
	}
	return f.setAttr(nd, attr)
}

func (f *FS) setAttr(n node, attr vfs.SetAttr) error {
	abs := f.Abs(n.rel)
	if attr.UID != nil || attr.GID != nil {
		uid, gid := -1, -1
		if attr.UID != nil {
			uid = int(*attr.UID)
		}
		if attr.GID != nil {
			gid = int(*attr.GID)
		}
		if err := unix.Lchown(abs, uid, gid); err != nil {
			return &os.PathError{Op: "chown", Path: n.rel, Err: mapErr(err)}
		}
	}
	// After chown, which may clear setuid bits.
	if attr.Mode != nil {
		if err := unix.Chmod(abs, uint32(*attr.Mode&0o7777)); err != nil {
			return &os.PathError{Op: "chmod", Path: n.rel, Err: mapErr(err)}
		}
	}
	if attr.Size != nil {
		if err := unix.Truncate(abs, *attr.Size); err != nil {
			return &os.PathError{Op: "truncate", Path: n.rel, Err: mapErr(err)}
		}
	}
	if attr.Atime != nil || attr.Mtime != nil {
		ts := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
		if attr.Atime != nil {
			ts[0] = unix.NsecToTimespec(attr.Atime.UnixNano())
		}
		if attr.Mtime != nil {
			ts[1] = unix.NsecToTimespec(attr.Mtime.UnixNano())
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, abs, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return &os.PathError{Op: "utimes", Path: n.rel, Err: mapErr(err)}
		}
	}
	return nil
}
