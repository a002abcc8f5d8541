// Package memfs is an in-memory vfs.FS with sparse files, hard links,
// extended attributes and instrumentation hooks. It backs the package tests
// of the migration engine and can stand in for either side of a mount.
package memfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// DefaultBlockSize is the allocation unit of file data.
const DefaultBlockSize = 4096

// Hooks intercept I/O for tests. Any hook may be nil.
type Hooks struct {
	// BeforeRead runs before every ReadAt. A non-nil error fails the read.
	BeforeRead func(ctx context.Context, id fid.FID, off int64, n int) error

	// BeforeWrite runs before every WriteAt. A non-nil error fails the write.
	BeforeWrite func(ctx context.Context, id fid.FID, off int64, n int) error
}

// Stats are cumulative I/O counters.
type Stats struct {
	Reads        int64
	BytesRead    int64
	Writes       int64
	BytesWritten int64
	Fsyncs       int64
}

// Options configure a new FS.
type Options struct {
	// BlockSize is the allocation unit and the value returned by BlockSize.
	// Defaults to DefaultBlockSize.
	BlockSize int64

	// FsID overrides the generated filesystem instance id.
	FsID string
}

// FS is an in-memory filesystem.
type FS struct {
	mu        sync.RWMutex
	fsid      string
	blockSize int64
	nextIno   uint64
	inodes    map[uint64]*inode
	readOnly  bool
	hooks     Hooks

	reads        atomic.Int64
	bytesRead    atomic.Int64
	writes       atomic.Int64
	bytesWritten atomic.Int64
	fsyncs       atomic.Int64
}

type link struct {
	parent uint64
	name   string
}

type inode struct {
	ino    uint64
	typ    vfs.ObjectType
	mode   os.FileMode
	uid    uint32
	gid    uint32
	atime  time.Time
	mtime  time.Time
	size   int64
	blocks map[int64][]byte
	target string
	kids   map[string]uint64
	links  []link
	xattrs map[string][]byte
	acl    []byte
}

type node struct {
	ino uint64
}

func (n node) ID() fid.FID { return fid.FromUint64s(n.ino) }

// New creates an empty filesystem containing only its root directory.
func New(opts Options) *FS {
	bs := opts.BlockSize
	if bs <= 0 {
		bs = DefaultBlockSize
	}
	id := opts.FsID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	f := &FS{
		fsid:      id,
		blockSize: bs,
		nextIno:   2,
		inodes:    make(map[uint64]*inode),
	}
	f.inodes[1] = &inode{
		ino:    1,
		typ:    vfs.TypeDirectory,
		mode:   0o755,
		atime:  now,
		mtime:  now,
		kids:   make(map[string]uint64),
		xattrs: make(map[string][]byte),
	}
	return f
}

// SetFsID replaces the volatile instance id, simulating a remount.
func (f *FS) SetFsID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fsid = id
}

// SetReadOnly makes every mutating operation fail with vfs.ErrReadOnly.
func (f *FS) SetReadOnly(ro bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readOnly = ro
}

// SetHooks installs instrumentation hooks.
func (f *FS) SetHooks(h Hooks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = h
}

// Stats returns a snapshot of the I/O counters.
func (f *FS) Stats() Stats {
	return Stats{
		Reads:        f.reads.Load(),
		BytesRead:    f.bytesRead.Load(),
		Writes:       f.writes.Load(),
		BytesWritten: f.bytesWritten.Load(),
		Fsyncs:       f.fsyncs.Load(),
	}
}

// ResetStats zeroes the I/O counters.
func (f *FS) ResetStats() {
	f.reads.Store(0)
	f.bytesRead.Store(0)
	f.writes.Store(0)
	f.bytesWritten.Store(0)
	f.fsyncs.Store(0)
}

func (f *FS) FsID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fsid
}

func (f *FS) Root() vfs.Node { return node{ino: 1} }

func (f *FS) BlockSize() int64 { return f.blockSize }

// get returns the live inode behind n. Caller holds f.mu.
func (f *FS) get(n vfs.Node) (*inode, error) {
	nd, ok := n.(node)
	if !ok {
		return nil, fmt.Errorf("memfs: foreign node %v: %w", n, vfs.ErrUnsupported)
	}
	in, ok := f.inodes[nd.ino]
	if !ok {
		return nil, fmt.Errorf("memfs: inode %d: %w", nd.ino, vfs.ErrNotExist)
	}
	return in, nil
}

func (f *FS) getDir(n vfs.Node) (*inode, error) {
	in, err := f.get(n)
	if err != nil {
		return nil, err
	}
	if in.typ != vfs.TypeDirectory {
		return nil, fmt.Errorf("memfs: inode %d: %w", in.ino, vfs.ErrNotDir)
	}
	return in, nil
}

func (f *FS) writable() error {
	if f.readOnly {
		return vfs.ErrReadOnly
	}
	return nil
}

func (f *FS) Lookup(ctx context.Context, dir vfs.Node, name string, cred vfs.Cred) (vfs.Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, err := f.getDir(dir)
	if err != nil {
		return nil, err
	}
	ino, ok := d.kids[name]
	if !ok {
		return nil, fmt.Errorf("memfs: lookup %q: %w", name, vfs.ErrNotExist)
	}
	return node{ino: ino}, nil
}

func (f *FS) LookupPath(ctx context.Context, rel string, cred vfs.Cred) (vfs.Node, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ino, err := f.walk(rel)
	if err != nil {
		return nil, err
	}
	return node{ino: ino}, nil
}

// walk resolves rel to an inode number. Caller holds f.mu.
func (f *FS) walk(rel string) (uint64, error) {
	cur := f.inodes[1]
	for _, part := range strings.Split(rel, "/") {
		if part == "" || part == "." {
			continue
		}
		if cur.typ != vfs.TypeDirectory {
			return 0, fmt.Errorf("memfs: walk %q: %w", rel, vfs.ErrNotDir)
		}
		ino, ok := cur.kids[part]
		if !ok {
			return 0, fmt.Errorf("memfs: walk %q: %w", rel, vfs.ErrNotExist)
		}
		cur = f.inodes[ino]
	}
	return cur.ino, nil
}

func (f *FS) PathOf(ctx context.Context, n vfs.Node) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return "", err
	}
	var parts []string
	for in.ino != 1 {
		if len(in.links) == 0 {
			return "", fmt.Errorf("memfs: inode %d is unlinked: %w", in.ino, vfs.ErrNotExist)
		}
		l := in.links[0]
		parts = append(parts, l.name)
		in = f.inodes[l.parent]
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return path.Join(parts...), nil
}

func (f *FS) ResolveFID(ctx context.Context, id fid.FID) (vfs.Node, error) {
	b := id.Bytes()
	if len(b) != 8 {
		return nil, fmt.Errorf("memfs: handle %s: %w", id, vfs.ErrNotExist)
	}
	ino := binary.LittleEndian.Uint64(b)
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.inodes[ino]; !ok {
		return nil, fmt.Errorf("memfs: handle %s: %w", id, vfs.ErrNotExist)
	}
	return node{ino: ino}, nil
}

// create allocates and links a new inode. Caller holds f.mu for writing.
func (f *FS) create(dir vfs.Node, name string, typ vfs.ObjectType, attr vfs.SetAttr, cred vfs.Cred) (*inode, error) {
	if err := f.writable(); err != nil {
		return nil, err
	}
	d, err := f.getDir(dir)
	if err != nil {
		return nil, err
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, fmt.Errorf("memfs: invalid name %q: %w", name, vfs.ErrUnsupported)
	}
	if _, ok := d.kids[name]; ok {
		return nil, fmt.Errorf("memfs: create %q: %w", name, vfs.ErrExist)
	}
	now := time.Now()
	in := &inode{
		ino:    f.nextIno,
		typ:    typ,
		mode:   0o644,
		uid:    cred.UID,
		gid:    cred.GID,
		atime:  now,
		mtime:  now,
		links:  []link{{parent: d.ino, name: name}},
		xattrs: make(map[string][]byte),
	}
	switch typ {
	case vfs.TypeDirectory:
		in.mode = 0o755
		in.kids = make(map[string]uint64)
	case vfs.TypeRegular:
		in.blocks = make(map[int64][]byte)
	case vfs.TypeSymlink:
		in.mode = 0o777
	}
	f.nextIno++
	f.inodes[in.ino] = in
	d.kids[name] = in.ino
	d.mtime = now
	f.applyAttr(in, attr)
	return in, nil
}

func (f *FS) Create(ctx context.Context, dir vfs.Node, name string, attr vfs.SetAttr, cred vfs.Cred) (vfs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, err := f.create(dir, name, vfs.TypeRegular, attr, cred)
	if err != nil {
		return nil, err
	}
	return node{ino: in.ino}, nil
}

func (f *FS) Mkdir(ctx context.Context, dir vfs.Node, name string, attr vfs.SetAttr, cred vfs.Cred) (vfs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, err := f.create(dir, name, vfs.TypeDirectory, attr, cred)
	if err != nil {
		return nil, err
	}
	return node{ino: in.ino}, nil
}

func (f *FS) Symlink(ctx context.Context, dir vfs.Node, name, target string, attr vfs.SetAttr, cred vfs.Cred) (vfs.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, err := f.create(dir, name, vfs.TypeSymlink, attr, cred)
	if err != nil {
		return nil, err
	}
	in.target = target
	in.size = int64(len(target))
	return node{ino: in.ino}, nil
}

func (f *FS) Readlink(ctx context.Context, n vfs.Node, cred vfs.Cred) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return "", err
	}
	if in.typ != vfs.TypeSymlink {
		return "", fmt.Errorf("memfs: readlink inode %d: %w", in.ino, vfs.ErrUnsupported)
	}
	return in.target, nil
}

func (f *FS) Link(ctx context.Context, dir vfs.Node, name string, target vfs.Node, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	d, err := f.getDir(dir)
	if err != nil {
		return err
	}
	in, err := f.get(target)
	if err != nil {
		return err
	}
	if in.typ == vfs.TypeDirectory {
		return fmt.Errorf("memfs: link to directory: %w", vfs.ErrUnsupported)
	}
	if _, ok := d.kids[name]; ok {
		return fmt.Errorf("memfs: link %q: %w", name, vfs.ErrExist)
	}
	d.kids[name] = in.ino
	in.links = append(in.links, link{parent: d.ino, name: name})
	return nil
}

// unlink drops the (dir, name) link. Caller holds f.mu for writing.
func (f *FS) unlink(d *inode, name string) {
	ino := d.kids[name]
	delete(d.kids, name)
	d.mtime = time.Now()
	in := f.inodes[ino]
	for i, l := range in.links {
		if l.parent == d.ino && l.name == name {
			in.links = append(in.links[:i], in.links[i+1:]...)
			break
		}
	}
	if len(in.links) == 0 {
		delete(f.inodes, ino)
	}
}

func (f *FS) Remove(ctx context.Context, dir vfs.Node, name string, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	d, err := f.getDir(dir)
	if err != nil {
		return err
	}
	ino, ok := d.kids[name]
	if !ok {
		return fmt.Errorf("memfs: remove %q: %w", name, vfs.ErrNotExist)
	}
	if f.inodes[ino].typ == vfs.TypeDirectory {
		return fmt.Errorf("memfs: remove directory %q: %w", name, vfs.ErrUnsupported)
	}
	f.unlink(d, name)
	return nil
}

func (f *FS) Rmdir(ctx context.Context, dir vfs.Node, name string, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	d, err := f.getDir(dir)
	if err != nil {
		return err
	}
	ino, ok := d.kids[name]
	if !ok {
		return fmt.Errorf("memfs: rmdir %q: %w", name, vfs.ErrNotExist)
	}
	in := f.inodes[ino]
	if in.typ != vfs.TypeDirectory {
		return fmt.Errorf("memfs: rmdir %q: %w", name, vfs.ErrNotDir)
	}
	if len(in.kids) > 0 {
		return fmt.Errorf("memfs: rmdir %q: %w", name, vfs.ErrExist)
	}
	f.unlink(d, name)
	return nil
}

func (f *FS) Rename(ctx context.Context, srcDir vfs.Node, srcName string, dstDir vfs.Node, dstName string, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	sd, err := f.getDir(srcDir)
	if err != nil {
		return err
	}
	dd, err := f.getDir(dstDir)
	if err != nil {
		return err
	}
	ino, ok := sd.kids[srcName]
	if !ok {
		return fmt.Errorf("memfs: rename %q: %w", srcName, vfs.ErrNotExist)
	}
	if sd.ino == dd.ino && srcName == dstName {
		return nil
	}
	if old, ok := dd.kids[dstName]; ok {
		if old == ino {
			f.unlink(sd, srcName)
			return nil
		}
		oi := f.inodes[old]
		if oi.typ == vfs.TypeDirectory && len(oi.kids) > 0 {
			return fmt.Errorf("memfs: rename over %q: %w", dstName, vfs.ErrExist)
		}
		f.unlink(dd, dstName)
	}
	in := f.inodes[ino]
	delete(sd.kids, srcName)
	dd.kids[dstName] = ino
	for i, l := range in.links {
		if l.parent == sd.ino && l.name == srcName {
			in.links[i] = link{parent: dd.ino, name: dstName}
			break
		}
	}
	now := time.Now()
	sd.mtime, dd.mtime = now, now
	return nil
}

func (f *FS) ReadDir(ctx context.Context, dir vfs.Node, cred vfs.Cred) ([]vfs.DirEntry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, err := f.getDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]vfs.DirEntry, 0, len(d.kids))
	for name, ino := range d.kids {
		out = append(out, vfs.DirEntry{Name: name, Type: f.inodes[ino].typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FS) ReadAt(ctx context.Context, n vfs.Node, p []byte, off int64, cred vfs.Cred) (int, error) {
	f.mu.RLock()
	hook := f.hooks.BeforeRead
	f.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, n.ID(), off, len(p)); err != nil {
			return 0, err
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return 0, err
	}
	if in.typ != vfs.TypeRegular {
		return 0, fmt.Errorf("memfs: read inode %d: %w", in.ino, vfs.ErrUnsupported)
	}
	f.reads.Add(1)
	if off >= in.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > in.size {
		want = in.size - off
	}
	var done int64
	for done < want {
		pos := off + done
		bi := pos / f.blockSize
		bo := pos % f.blockSize
		chunk := f.blockSize - bo
		if chunk > want-done {
			chunk = want - done
		}
		dst := p[done : done+chunk]
		if blk, ok := in.blocks[bi]; ok {
			copy(dst, blk[bo:bo+chunk])
		} else {
			clear(dst)
		}
		done += chunk
	}
	f.bytesRead.Add(done)
	if done < int64(len(p)) {
		return int(done), io.EOF
	}
	return int(done), nil
}

func (f *FS) WriteAt(ctx context.Context, n vfs.Node, p []byte, off int64, cred vfs.Cred) (int, error) {
	f.mu.RLock()
	hook := f.hooks.BeforeWrite
	f.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, n.ID(), off, len(p)); err != nil {
			return 0, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return 0, err
	}
	in, err := f.get(n)
	if err != nil {
		return 0, err
	}
	if in.typ != vfs.TypeRegular {
		return 0, fmt.Errorf("memfs: write inode %d: %w", in.ino, vfs.ErrUnsupported)
	}
	var done int64
	want := int64(len(p))
	for done < want {
		pos := off + done
		bi := pos / f.blockSize
		bo := pos % f.blockSize
		chunk := f.blockSize - bo
		if chunk > want-done {
			chunk = want - done
		}
		blk, ok := in.blocks[bi]
		if !ok {
			blk = make([]byte, f.blockSize)
			in.blocks[bi] = blk
		}
		copy(blk[bo:bo+chunk], p[done:done+chunk])
		done += chunk
	}
	if off+want > in.size {
		in.size = off + want
	}
	in.mtime = time.Now()
	f.writes.Add(1)
	f.bytesWritten.Add(want)
	return len(p), nil
}

func (f *FS) Fsync(ctx context.Context, n vfs.Node, cred vfs.Cred) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, err := f.get(n); err != nil {
		return err
	}
	f.fsyncs.Add(1)
	return nil
}

func (f *FS) GetAttr(ctx context.Context, n vfs.Node, cred vfs.Cred) (vfs.Attr, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return vfs.Attr{}, err
	}
	nlink := uint32(len(in.links))
	if in.typ == vfs.TypeDirectory {
		nlink = 2
	}
	return vfs.Attr{
		Type:  in.typ,
		Mode:  in.mode,
		UID:   in.uid,
		GID:   in.gid,
		Size:  in.size,
		Nlink: nlink,
		Atime: in.atime,
		Mtime: in.mtime,
		FsID:  f.fsid,
		FID:   fid.FromUint64s(in.ino),
	}, nil
}

// applyAttr applies attr to in. Caller holds f.mu for writing.
func (f *FS) applyAttr(in *inode, attr vfs.SetAttr) {
	if attr.Mode != nil {
		in.mode = *attr.Mode & os.ModePerm
	}
	if attr.UID != nil {
		in.uid = *attr.UID
	}
	if attr.GID != nil {
		in.gid = *attr.GID
	}
	if attr.Size != nil && in.typ == vfs.TypeRegular {
		f.truncate(in, *attr.Size)
	}
	if attr.Atime != nil {
		in.atime = *attr.Atime
	}
	if attr.Mtime != nil {
		in.mtime = *attr.Mtime
	}
}

// truncate resizes in. Growing leaves a hole.
func (f *FS) truncate(in *inode, size int64) {
	if size < in.size {
		for bi, blk := range in.blocks {
			start := bi * f.blockSize
			switch {
			case start >= size:
				delete(in.blocks, bi)
			case start+f.blockSize > size:
				clear(blk[size-start:])
			}
		}
	}
	in.size = size
}

func (f *FS) SetAttr(ctx context.Context, n vfs.Node, attr vfs.SetAttr, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	in, err := f.get(n)
	if err != nil {
		return err
	}
	f.applyAttr(in, attr)
	return nil
}

func (f *FS) GetSecAttr(ctx context.Context, n vfs.Node, cred vfs.Cred) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return nil, err
	}
	if in.acl == nil {
		return nil, nil
	}
	return append([]byte(nil), in.acl...), nil
}

func (f *FS) SetSecAttr(ctx context.Context, n vfs.Node, acl []byte, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	in, err := f.get(n)
	if err != nil {
		return err
	}
	if len(acl) == 0 {
		in.acl = nil
		return nil
	}
	in.acl = append([]byte(nil), acl...)
	return nil
}

func (f *FS) ListXattr(ctx context.Context, n vfs.Node, cred vfs.Cred) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(in.xattrs))
	for k := range in.xattrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (f *FS) GetXattr(ctx context.Context, n vfs.Node, name string, cred vfs.Cred) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return nil, err
	}
	v, ok := in.xattrs[name]
	if !ok {
		return nil, fmt.Errorf("memfs: xattr %q: %w", name, vfs.ErrNoAttr)
	}
	return append([]byte(nil), v...), nil
}

func (f *FS) SetXattr(ctx context.Context, n vfs.Node, name string, value []byte, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	in, err := f.get(n)
	if err != nil {
		return err
	}
	in.xattrs[name] = append([]byte(nil), value...)
	return nil
}

func (f *FS) RemoveXattr(ctx context.Context, n vfs.Node, name string, cred vfs.Cred) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writable(); err != nil {
		return err
	}
	in, err := f.get(n)
	if err != nil {
		return err
	}
	if _, ok := in.xattrs[name]; !ok {
		return fmt.Errorf("memfs: xattr %q: %w", name, vfs.ErrNoAttr)
	}
	delete(in.xattrs, name)
	return nil
}

func (f *FS) SeekData(ctx context.Context, n vfs.Node, off int64) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return 0, err
	}
	if off >= in.size {
		return 0, vfs.ErrNoData
	}
	best := int64(-1)
	for bi := range in.blocks {
		end := (bi + 1) * f.blockSize
		if end <= off {
			continue
		}
		start := bi * f.blockSize
		if start < off {
			start = off
		}
		if best < 0 || start < best {
			best = start
		}
	}
	if best < 0 || best >= in.size {
		return 0, vfs.ErrNoData
	}
	return best, nil
}

func (f *FS) SeekHole(ctx context.Context, n vfs.Node, off int64) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	in, err := f.get(n)
	if err != nil {
		return 0, err
	}
	if off >= in.size {
		return off, nil
	}
	for bi := off / f.blockSize; bi*f.blockSize < in.size; bi++ {
		if _, ok := in.blocks[bi]; !ok {
			pos := bi * f.blockSize
			if pos < off {
				pos = off
			}
			return pos, nil
		}
	}
	return in.size, nil
}
