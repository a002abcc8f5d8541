package shadow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/scheduler"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/memfs"
)

var content = bytes.Repeat([]byte("shadow"), 500)

type fixture struct {
	local  *memfs.FS
	remote *memfs.FS
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		local:  memfs.New(memfs.Options{}),
		remote: memfs.New(memfs.Options{}),
	}
	require.NoError(t, f.remote.MkdirAll("dir/sub", 0o755))
	require.NoError(t, f.remote.WriteFile("dir/f", content, 0o644))
	require.NoError(t, f.remote.WriteFile("dir/sub/g", []byte("g"), 0o600))
	require.NoError(t, f.remote.WriteFile("top", []byte("top"), 0o644))
	return f
}

func (f *fixture) mount(t *testing.T, opts Options) *Mount {
	t.Helper()
	opts.Local = f.local
	opts.Remote = f.remote
	if opts.Scheduler.Interval == 0 {
		opts.Scheduler.Interval = time.Hour
	}
	m, err := MountAsShadow(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Unconfigure(context.Background()) })
	return m
}

func (f *fixture) hasMarker(t *testing.T, rel string) bool {
	t.Helper()
	ctx := context.Background()
	n, err := f.local.LookupPath(ctx, rel, vfs.Kernel)
	require.NoError(t, err)
	_, err = f.local.GetXattr(ctx, n, engine.DefaultMarkerAttr, vfs.Kernel)
	return err == nil
}

// unfinished reports whether rel is missing locally or still marked.
func (f *fixture) unfinished(rel string) bool {
	ctx := context.Background()
	n, err := f.local.LookupPath(ctx, rel, vfs.Kernel)
	if err != nil {
		return true
	}
	_, err = f.local.GetXattr(ctx, n, engine.DefaultMarkerAttr, vfs.Kernel)
	return err == nil
}

func TestMountAsShadow_RequiresFilesystems(t *testing.T) {
	_, err := MountAsShadow(context.Background(), Options{})
	assert.Equal(t, shadowerrors.ErrInvalidArgument, shadowerrors.CodeOf(err))
}

func TestMount_LookupAndResolve(t *testing.T) {
	f := newFixture(t)
	m := f.mount(t, Options{ID: "m1"})
	ctx := context.Background()

	n, err := m.LookupPath(ctx, "/dir/f")
	require.NoError(t, err)
	assert.True(t, m.IsMigrationPending(ctx, n))

	require.NoError(t, m.Resolve(ctx, n, true))
	assert.False(t, m.IsMigrationPending(ctx, n))

	got, err := f.local.ReadFile("dir/f")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.False(t, f.hasMarker(t, "dir/f"))

	_, err = m.LookupPath(ctx, "dir/missing")
	assert.True(t, shadowerrors.IsNotFound(err))

	st := m.Stats()
	assert.Equal(t, "m1", st.ID)
	assert.True(t, st.Configured)
	assert.Equal(t, int64(len(content)), st.Migration.BytesCopied)
	assert.GreaterOrEqual(t, st.Migration.ObjectsMigrated, int64(3))
}

func TestMount_BackgroundDrainsPending(t *testing.T) {
	f := newFixture(t)
	m := f.mount(t, Options{Scheduler: scheduler.Config{Interval: 5 * time.Millisecond, DrainBatch: 8}})
	ctx := context.Background()

	require.Eventually(t, func() bool {
		hs, err := m.Pending(ctx)
		return err == nil && len(hs) == 0 &&
			!f.unfinished("") && !f.unfinished("dir/f") && !f.unfinished("dir/sub/g") && !f.unfinished("top")
	}, 5*time.Second, 5*time.Millisecond)

	got, err := f.local.ReadFile("dir/f")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Positive(t, m.Stats().Scheduler.Processed)
}

func TestMount_Standby(t *testing.T) {
	f := newFixture(t)
	m := f.mount(t, Options{Standby: true})
	ctx := context.Background()
	root := f.local.Root()

	assert.True(t, m.Standby())
	err := m.Resolve(ctx, root, false)
	assert.True(t, shadowerrors.IsWouldBlock(err))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = m.Resolve(cctx, root, true)
	assert.True(t, shadowerrors.IsInterrupted(err))

	done := make(chan error, 1)
	go func() { done <- m.Resolve(ctx, root, true) }()
	select {
	case <-done:
		t.Fatal("resolve ran during standby")
	case <-time.After(20 * time.Millisecond):
	}

	m.SetStandby(false)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("resolve did not resume after standby")
	}
	assert.False(t, f.hasMarker(t, ""))
}

func TestMount_UnmountSuspendsScheduler(t *testing.T) {
	f := newFixture(t)
	m := f.mount(t, Options{})

	m.PreUnmount()
	assert.True(t, m.Stats().Scheduler.Suspended)
	m.PostUnmount()
	assert.False(t, m.Stats().Scheduler.Suspended)
}

func TestMount_Unconfigure(t *testing.T) {
	f := newFixture(t)
	m := f.mount(t, Options{Standby: true})
	ctx := context.Background()

	waiter := make(chan error, 1)
	go func() { waiter <- m.Resolve(ctx, f.local.Root(), true) }()

	require.NoError(t, m.Unconfigure(ctx))
	select {
	case err := <-waiter:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("standby waiter not released by unconfigure")
	}

	assert.False(t, m.Configured())
	assert.False(t, m.IsMigrationPending(ctx, f.local.Root()))
	require.NoError(t, m.Resolve(ctx, f.local.Root(), true))

	_, err := m.ProcessOnePending(ctx, true)
	assert.Equal(t, shadowerrors.ErrNotShadow, shadowerrors.CodeOf(err))

	require.NoError(t, m.Unconfigure(ctx))
}

func TestMount_Remount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.mount(t, Options{})
	n, err := m.LookupPath(ctx, "dir/f")
	require.NoError(t, err)
	require.NoError(t, m.Unconfigure(ctx))

	m = f.mount(t, Options{})
	assert.True(t, m.IsMigrationPending(ctx, n))
	_, err = m.Walk(ctx)
	require.NoError(t, err)

	for _, rel := range []string{"dir/f", "dir/sub/g", "top"} {
		want, err := f.remote.ReadFile(rel)
		require.NoError(t, err)
		got, err := f.local.ReadFile(rel)
		require.NoError(t, err)
		assert.Equal(t, want, got, rel)
	}
}

func TestMount_Control(t *testing.T) {
	f := newFixture(t)
	m := f.mount(t, Options{})
	ctx := context.Background()

	n, err := m.LookupPath(ctx, "dir/f")
	require.NoError(t, err)
	h := n.ID()

	resp := m.Control(ctx, ControlRequest{Op: OpHandleToPath, Handle: h})
	require.NoError(t, resp.Err())
	assert.Equal(t, "/dir/f", resp.Path)

	resp = m.Control(ctx, ControlRequest{Op: OpRemotePath, Handle: h})
	require.NoError(t, resp.Err())
	assert.Equal(t, "/dir/f", resp.Path)

	resp = m.Control(ctx, ControlRequest{Op: OpForceMigrate, Handle: h, Start: 0, End: -1})
	require.NoError(t, resp.Err())

	resp = m.Control(ctx, ControlRequest{Op: OpRemotePath, Handle: h})
	assert.Equal(t, shadowerrors.ErrNotShadow, resp.Code)

	resp = m.Control(ctx, ControlRequest{Op: OpForceMigrate, Handle: h, Start: 10, End: 5})
	assert.Equal(t, shadowerrors.ErrInvalidArgument, resp.Code)

	resp = m.Control(ctx, ControlRequest{Op: OpHandleToPath, Handle: fid.FromUint64s(1 << 40)})
	assert.Equal(t, shadowerrors.ErrNotFound, resp.Code)

	resp = m.Control(ctx, ControlRequest{Op: Op(99)})
	assert.Equal(t, shadowerrors.ErrInvalidArgument, resp.Code)

	resp = m.Control(ctx, ControlRequest{Op: OpProcessOnePending, Blocking: true})
	require.NoError(t, resp.Err())
}

func TestErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want unix.Errno
	}{
		{"nil", nil, 0},
		{"interrupted", shadowerrors.NewInterruptedError("x", nil), unix.EINTR},
		{"would block", shadowerrors.NewWouldBlockError("x", ""), unix.EAGAIN},
		{"out of memory", shadowerrors.New(shadowerrors.ErrOutOfMemory, "x", "", nil), unix.ENOMEM},
		{"remote", shadowerrors.NewRemoteIOError("x", "", nil), unix.EIO},
		{"corruption", shadowerrors.NewCorruptionError("x", "", nil), unix.EIO},
		{"unclassified", context.Canceled, unix.EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Errno(tt.err))
		})
	}
}
