package linktable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/memfs"
)

type fixture struct {
	local  *memfs.FS
	remote *memfs.FS
	dir    *vfs.Dir
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		local:  memfs.New(memfs.Options{}),
		remote: memfs.New(memfs.Options{}),
	}
	admin, err := vfs.OpenAdminDir(ctx, f.local)
	require.NoError(t, err)
	f.dir, err = admin.Sub(ctx, "links")
	require.NoError(t, err)

	require.NoError(t, f.remote.MkdirAll("d", 0o755))
	require.NoError(t, f.remote.WriteFile("d/a", []byte("data"), 0o644))
	require.NoError(t, f.remote.LinkPath("d/a", "d/b"))
	require.NoError(t, f.local.WriteFile("a", []byte("data"), 0o644))
	return f
}

func (f *fixture) localNode(t *testing.T, rel string) vfs.Node {
	t.Helper()
	n, err := f.local.LookupPath(context.Background(), rel, vfs.Kernel)
	require.NoError(t, err)
	return n
}

func TestRecordThenFind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tbl := New(f.dir, f.remote)

	ra, err := f.remote.Stat("d/a")
	require.NoError(t, err)

	tbl.Lock()
	defer tbl.Unlock()

	_, ok, err := tbl.FindLocal(ctx, ra.FsID, ra.FID)
	require.NoError(t, err)
	assert.False(t, ok)

	local := f.localNode(t, "a")
	require.NoError(t, tbl.RecordLink(ctx, ra.FsID, ra.FID, "d/a", local))

	got, ok, err := tbl.FindLocal(ctx, ra.FsID, ra.FID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, local.ID(), got.ID())

	// The ref entry is a real hard link to the local object.
	la, err := f.local.Stat("a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, la.Nlink)
}

func TestStaleEntryInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tbl := New(f.dir, f.remote)

	ra, err := f.remote.Stat("d/a")
	require.NoError(t, err)

	tbl.Lock()
	defer tbl.Unlock()
	require.NoError(t, tbl.RecordLink(ctx, ra.FsID, ra.FID, "d/a", f.localNode(t, "a")))

	// The remote object is replaced (e.g. restored from backup) under the
	// remembered path; the old identity still exists via d/b, but the path
	// no longer leads to it.
	require.NoError(t, f.remote.RemovePath("d/a"))
	require.NoError(t, f.remote.WriteFile("d/a", []byte("other"), 0o644))

	_, ok, err := tbl.FindLocal(ctx, ra.FsID, ra.FID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.dir.Lookup(ctx, "0."+ra.FID.Hex()+refSuffix)
	assert.ErrorIs(t, err, vfs.ErrNotExist)
	_, err = f.dir.Lookup(ctx, "0."+ra.FID.Hex()+pathSuffix)
	assert.ErrorIs(t, err, vfs.ErrNotExist)

	assert.EqualValues(t, 1, tbl.invalidations)
	la, err := f.local.Stat("a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, la.Nlink)
}

func TestIndexRederivedAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tbl := New(f.dir, f.remote)

	ra, err := f.remote.Stat("d/a")
	require.NoError(t, err)
	tbl.Lock()
	require.NoError(t, tbl.RecordLink(ctx, ra.FsID, ra.FID, "d/a", f.localNode(t, "a")))
	tbl.Unlock()

	// Reboot: the volatile filesystem id changes, handles stay stable.
	f.remote.SetFsID("rebooted")
	tbl2 := New(f.dir, f.remote)
	tbl2.Lock()
	defer tbl2.Unlock()

	_, ok, err := tbl2.FindLocal(ctx, ra.FsID, ra.FID)
	require.NoError(t, err)
	assert.False(t, ok, "old fsid must not match after restart")

	got, ok, err := tbl2.FindLocal(ctx, "rebooted", ra.FID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.localNode(t, "a").ID(), got.ID())
}

func TestMovedRemoteRootIsSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tbl := New(f.dir, f.remote)

	ra, err := f.remote.Stat("d/a")
	require.NoError(t, err)
	tbl.Lock()
	require.NoError(t, tbl.RecordLink(ctx, ra.FsID, ra.FID, "d/a", f.localNode(t, "a")))
	tbl.Unlock()

	require.NoError(t, f.remote.Rename(ctx, f.remote.Root(), "d", f.remote.Root(), "moved", vfs.Kernel))

	tbl2 := New(f.dir, f.remote)
	tbl2.Lock()
	defer tbl2.Unlock()
	_, ok, err := tbl2.FindLocal(ctx, ra.FsID, ra.FID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, len(tbl2.indexes))
}

func TestRecordLinkReplacesExistingRef(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.local.WriteFile("c", []byte("data"), 0o644))
	tbl := New(f.dir, f.remote)

	ra, err := f.remote.Stat("d/a")
	require.NoError(t, err)
	tbl.Lock()
	defer tbl.Unlock()
	require.NoError(t, tbl.RecordLink(ctx, ra.FsID, ra.FID, "d/a", f.localNode(t, "a")))
	require.NoError(t, tbl.RecordLink(ctx, ra.FsID, ra.FID, "d/b", f.localNode(t, "c")))

	got, ok, err := tbl.FindLocal(ctx, ra.FsID, ra.FID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f.localNode(t, "c").ID(), got.ID())
	assert.EqualValues(t, 2, tbl.links)
}
