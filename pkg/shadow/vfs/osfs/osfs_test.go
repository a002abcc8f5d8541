//go:build linux

package osfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

func newFS(t *testing.T, root string) *FS {
	t.Helper()
	f, err := New(Options{Root: root})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// requireXattrs skips the test when the filesystem backing dir refuses user
// extended attributes.
func requireXattrs(t *testing.T, f *FS) {
	t.Helper()
	err := f.SetXattr(context.Background(), f.Root(), "user.shadowfs.probe", []byte("1"), vfs.Kernel)
	if errors.Is(err, vfs.ErrUnsupported) || errors.Is(err, os.ErrPermission) {
		t.Skip("user extended attributes not supported")
	}
	require.NoError(t, err)
	require.NoError(t, f.RemoveXattr(context.Background(), f.Root(), "user.shadowfs.probe", vfs.Kernel))
}

func TestNew_RejectsFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	_, err := New(Options{Root: p})
	assert.ErrorIs(t, err, vfs.ErrNotDir)
}

func TestCreateWriteRead(t *testing.T) {
	f := newFS(t, t.TempDir())
	ctx := context.Background()

	mode := os.FileMode(0o600)
	n, err := f.Create(ctx, f.Root(), "a", vfs.SetAttr{Mode: &mode}, vfs.Kernel)
	require.NoError(t, err)

	_, err = f.Create(ctx, f.Root(), "a", vfs.SetAttr{}, vfs.Kernel)
	assert.ErrorIs(t, err, vfs.ErrExist)

	_, err = f.WriteAt(ctx, n, []byte("hello"), 3, vfs.Kernel)
	require.NoError(t, err)
	require.NoError(t, f.Fsync(ctx, n, vfs.Kernel))

	buf := make([]byte, 16)
	m, err := f.ReadAt(ctx, n, buf, 0, vfs.Kernel)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, append(make([]byte, 3), "hello"...), buf[:m])

	attr, err := f.GetAttr(ctx, n, vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, vfs.TypeRegular, attr.Type)
	assert.Equal(t, os.FileMode(0o600), attr.Mode)
	assert.Equal(t, int64(8), attr.Size)
	assert.Equal(t, uint32(1), attr.Nlink)
	assert.Equal(t, n.ID(), attr.FID)
	assert.Equal(t, f.FsID(), attr.FsID)
}

func TestSetAttrTimes(t *testing.T) {
	f := newFS(t, t.TempDir())
	ctx := context.Background()

	n, err := f.Mkdir(ctx, f.Root(), "d", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, f.SetAttr(ctx, n, vfs.SetAttr{Mtime: &mtime}, vfs.Kernel))

	attr, err := f.GetAttr(ctx, n, vfs.Kernel)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(attr.Mtime))
	assert.Equal(t, vfs.TypeDirectory, attr.Type)
}

func TestIdentitySurvivesRename(t *testing.T) {
	dir := t.TempDir()
	f := newFS(t, dir)
	ctx := context.Background()

	tmp, err := f.Mkdir(ctx, f.Root(), "tmp", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	n, err := f.Create(ctx, tmp, "child", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	require.NoError(t, f.Rename(ctx, tmp, "child", f.Root(), "final", vfs.Kernel))

	p, err := f.PathOf(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, "final", p)

	r, err := f.ResolveFID(ctx, n.ID())
	require.NoError(t, err)
	assert.Equal(t, n.ID(), r.ID())

	// Operations on the old node follow the object.
	_, err = f.WriteAt(ctx, n, []byte("x"), 0, vfs.Kernel)
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(dir, "final"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	require.NoError(t, f.Remove(ctx, f.Root(), "final", vfs.Kernel))
	_, err = f.ResolveFID(ctx, n.ID())
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestHardLinksAndSymlinks(t *testing.T) {
	f := newFS(t, t.TempDir())
	ctx := context.Background()

	n, err := f.Create(ctx, f.Root(), "a", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	require.NoError(t, f.Link(ctx, f.Root(), "b", n, vfs.Kernel))
	b, err := f.Lookup(ctx, f.Root(), "b", vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, n.ID(), b.ID())

	attr, err := f.GetAttr(ctx, b, vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), attr.Nlink)

	s, err := f.Symlink(ctx, f.Root(), "s", "a", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	target, err := f.Readlink(ctx, s, vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, "a", target)

	ents, err := f.ReadDir(ctx, f.Root(), vfs.Kernel)
	require.NoError(t, err)
	types := map[string]vfs.ObjectType{}
	for _, e := range ents {
		types[e.Name] = e.Type
	}
	assert.Equal(t, map[string]vfs.ObjectType{
		"a": vfs.TypeRegular,
		"b": vfs.TypeRegular,
		"s": vfs.TypeSymlink,
	}, types)
}

func TestSeekDataAndHole(t *testing.T) {
	dir := t.TempDir()
	f := newFS(t, dir)
	ctx := context.Background()

	const size = 4 << 20
	n, err := f.Create(ctx, f.Root(), "sparse", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	sz := int64(size)
	require.NoError(t, f.SetAttr(ctx, n, vfs.SetAttr{Size: &sz}, vfs.Kernel))
	_, err = f.WriteAt(ctx, n, bytes.Repeat([]byte{1}, 4096), 2<<20, vfs.Kernel)
	require.NoError(t, err)

	d, err := f.SeekData(ctx, n, 0)
	if errors.Is(err, vfs.ErrUnsupported) {
		t.Skip("SEEK_DATA not supported")
	}
	require.NoError(t, err)
	if d == 0 {
		t.Skip("filesystem does not report holes")
	}
	assert.LessOrEqual(t, d, int64(2<<20))

	h, err := f.SeekHole(ctx, n, d)
	require.NoError(t, err)
	assert.Greater(t, h, int64(2<<20))

	_, err = f.SeekData(ctx, n, size-1)
	assert.ErrorIs(t, err, vfs.ErrNoData)

	h, err = f.SeekHole(ctx, n, size)
	require.NoError(t, err)
	assert.Equal(t, int64(size), h)
}

func TestXattrs(t *testing.T) {
	f := newFS(t, t.TempDir())
	requireXattrs(t, f)
	ctx := context.Background()

	n, err := f.Create(ctx, f.Root(), "a", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)

	_, err = f.GetXattr(ctx, n, "user.k", vfs.Kernel)
	assert.ErrorIs(t, err, vfs.ErrNoAttr)

	require.NoError(t, f.SetXattr(ctx, n, "user.k", []byte("v"), vfs.Kernel))
	v, err := f.GetXattr(ctx, n, "user.k", vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	names, err := f.ListXattr(ctx, n, vfs.Kernel)
	require.NoError(t, err)
	assert.Contains(t, names, "user.k")

	require.NoError(t, f.RemoveXattr(ctx, n, "user.k", vfs.Kernel))
	_, err = f.GetXattr(ctx, n, "user.k", vfs.Kernel)
	assert.ErrorIs(t, err, vfs.ErrNoAttr)

	acl, err := f.GetSecAttr(ctx, n, vfs.Kernel)
	require.NoError(t, err)
	require.NoError(t, f.SetSecAttr(ctx, n, acl, vfs.Kernel))
}

func TestSplitACL(t *testing.T) {
	_, _, err := splitACL([]byte{1, 0})
	assert.Error(t, err)
	_, _, err = splitACL([]byte{9, 0, 0, 0, 1})
	assert.Error(t, err)

	a, rest, err := splitACL([]byte{2, 0, 0, 0, 7, 8, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8}, a)
	assert.Len(t, rest, 4)
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()
	index := t.TempDir()
	ctx := context.Background()

	f, err := New(Options{Root: root, IndexDir: index})
	require.NoError(t, err)
	d, err := f.Mkdir(ctx, f.Root(), "d", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	n, err := f.Create(ctx, d, "x", vfs.SetAttr{}, vfs.Kernel)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = New(Options{Root: root, IndexDir: index})
	require.NoError(t, err)
	defer f.Close()
	r, err := f.ResolveFID(ctx, n.ID())
	require.NoError(t, err)
	p, err := f.PathOf(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, "d/x", p)
}

func TestEngineMigratesHostTree(t *testing.T) {
	remoteDir, localDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(remoteDir, "a/b"), 0o755))
	data := bytes.Repeat([]byte("0123456789abcdef"), 40000)
	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "a/b/f"), data, 0o640))
	require.NoError(t, os.Symlink("b/f", filepath.Join(remoteDir, "a/link")))
	require.NoError(t, os.Link(filepath.Join(remoteDir, "a/b/f"), filepath.Join(remoteDir, "a/hard")))

	remote := newFS(t, remoteDir)
	local := newFS(t, localDir)
	requireXattrs(t, local)
	ctx := context.Background()

	eng, err := engine.New(ctx, local, remote, engine.Options{})
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Walk(ctx)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(localDir, "a/b/f"))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	target, err := os.Readlink(filepath.Join(localDir, "a/link"))
	require.NoError(t, err)
	assert.Equal(t, "b/f", target)

	fi, err := os.Stat(filepath.Join(localDir, "a/b/f"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())

	f1, err := local.LookupPath(ctx, "a/b/f", vfs.Kernel)
	require.NoError(t, err)
	f2, err := local.LookupPath(ctx, "a/hard", vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, f1.ID(), f2.ID())
}
