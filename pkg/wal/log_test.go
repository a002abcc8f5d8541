package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/memfs"
)

var testFormat = Format{Magic: [4]byte{'T', 'E', 'S', 'T'}, Version: 1, RecordSize: 8}

func rec(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func newDir(t *testing.T) (*memfs.FS, *vfs.Dir) {
	t.Helper()
	fs := memfs.New(memfs.Options{})
	dir, err := vfs.OpenAdminDir(context.Background(), fs)
	require.NoError(t, err)
	return fs, dir
}

func replayAll(t *testing.T, l *Log) []uint64 {
	t.Helper()
	var out []uint64
	require.NoError(t, l.Replay(context.Background(), func(r []byte) error {
		out = append(out, binary.LittleEndian.Uint64(r))
		return nil
	}))
	return out
}

func TestLog_AppendAndReplay(t *testing.T) {
	ctx := context.Background()
	_, dir := newDir(t)

	l, err := Create(ctx, dir, "log", testFormat)
	require.NoError(t, err)
	for i := uint64(0); i < 600; i++ {
		require.NoError(t, l.Append(ctx, rec(i)))
	}
	require.NoError(t, l.Sync(ctx))
	assert.EqualValues(t, 600, l.Count())

	l2, err := Open(ctx, dir, "log", testFormat)
	require.NoError(t, err)
	got := replayAll(t, l2)
	require.Len(t, got, 600)
	for i, v := range got {
		assert.EqualValues(t, i, v)
	}
}

func TestLog_OpenMissing(t *testing.T) {
	_, dir := newDir(t)
	_, err := Open(context.Background(), dir, "nope", testFormat)
	assert.ErrorIs(t, err, vfs.ErrNotExist)
}

func TestLog_BadMagic(t *testing.T) {
	ctx := context.Background()
	_, dir := newDir(t)
	require.NoError(t, dir.WriteFile(ctx, "log", []byte("XXXXXXXXXXXXXXXXXXXXXXXX")))

	_, err := Open(ctx, dir, "log", testFormat)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestLog_VersionMismatch(t *testing.T) {
	ctx := context.Background()
	_, dir := newDir(t)
	_, err := Create(ctx, dir, "log", testFormat)
	require.NoError(t, err)

	newer := testFormat
	newer.Version = 2
	_, err = Open(ctx, dir, "log", newer)
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestLog_TornTailIgnored(t *testing.T) {
	ctx := context.Background()
	fs, dir := newDir(t)
	l, err := Create(ctx, dir, "log", testFormat)
	require.NoError(t, err)
	require.NoError(t, l.AppendSync(ctx, rec(1), rec(2)))

	n, err := dir.Lookup(ctx, "log")
	require.NoError(t, err)
	_, err = fs.WriteAt(ctx, n, []byte{9, 9, 9}, HeaderSize+16, vfs.Kernel)
	require.NoError(t, err)

	l2, err := Open(ctx, dir, "log", testFormat)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, replayAll(t, l2))

	// The next append overwrites the torn tail.
	require.NoError(t, l2.AppendSync(ctx, rec(3)))
	assert.Equal(t, []uint64{1, 2, 3}, replayAll(t, l2))
}

func TestLog_ReplayStopsOnError(t *testing.T) {
	ctx := context.Background()
	_, dir := newDir(t)
	l, err := Create(ctx, dir, "log", testFormat)
	require.NoError(t, err)
	require.NoError(t, l.AppendSync(ctx, rec(1), rec(2), rec(3)))

	stop := errors.New("stop")
	seen := 0
	err = l.Replay(ctx, func([]byte) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestLog_Closed(t *testing.T) {
	ctx := context.Background()
	_, dir := newDir(t)
	l, err := Create(ctx, dir, "log", testFormat)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Append(ctx, rec(1)), ErrClosed)
}
