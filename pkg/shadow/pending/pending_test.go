package pending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/memfs"
	"github.com/marmos91/shadowfs/pkg/wal"
)

func h(n uint64) fid.FID { return fid.FromUint64s(n) }

func newLog(t *testing.T) (*vfs.Dir, *Log) {
	t.Helper()
	fs := memfs.New(memfs.Options{})
	dir, err := vfs.OpenAdminDir(context.Background(), fs)
	require.NoError(t, err)
	l, err := Open(context.Background(), dir)
	require.NoError(t, err)
	return dir, l
}

func list(t *testing.T, l *Log) []fid.FID {
	t.Helper()
	out, err := l.List(context.Background())
	require.NoError(t, err)
	return out
}

func TestAppendClaimRemove(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)

	require.NoError(t, l.AppendAll(ctx, []fid.FID{h(1), h(2), h(3)}))

	got, ok, err := l.Claim(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h(1), got)
	l.Remove(got)
	l.Release()

	got, ok, err = l.Claim(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h(2), got)
	l.Release()

	assert.Equal(t, []fid.FID{h(2), h(3)}, list(t, l))
}

func TestClaimEmpty(t *testing.T) {
	_, l := newLog(t)
	_, ok, err := l.Claim(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, l.Stats().Processing)
}

func TestAppendRejectsEmptyHandle(t *testing.T) {
	_, l := newLog(t)
	assert.Error(t, l.Append(context.Background(), fid.FID{}))
}

func TestCollapseDropsRemoved(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)
	require.NoError(t, l.AppendAll(ctx, []fid.FID{h(1), h(2), h(3)}))
	l.Remove(h(2))

	done, err := l.Collapse(ctx, false)
	require.NoError(t, err)
	require.True(t, done)

	st := l.Stats()
	assert.Equal(t, 1, st.Active)
	assert.EqualValues(t, 2, st.Records)
	assert.Equal(t, []fid.FID{h(1), h(3)}, list(t, l))
}

func TestRemovalSurvivesRotation(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)
	require.NoError(t, l.AppendAll(ctx, []fid.FID{h(1), h(2)}))

	// Rotate once so the removal lands in a later generation than the append.
	_, err := l.Collapse(ctx, true)
	require.NoError(t, err)
	l.Remove(h(1))

	for i := 0; i < 4; i++ {
		_, err := l.Collapse(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, []fid.FID{h(2)}, list(t, l))
	}
	assert.EqualValues(t, 1, l.Stats().Records)
}

func TestAppendCancelsRemoval(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)
	require.NoError(t, l.Append(ctx, h(1)))
	l.Remove(h(1))
	require.NoError(t, l.Append(ctx, h(1)))

	_, err := l.Collapse(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []fid.FID{h(1)}, list(t, l))
}

func TestCollapseMovesLastClaimedToEnd(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)
	require.NoError(t, l.AppendAll(ctx, []fid.FID{h(1), h(2), h(3)}))

	got, ok, err := l.Claim(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h(1), got)
	// Processing failed: the handle stays queued.
	l.Release()

	_, err = l.Collapse(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []fid.FID{h(2), h(3), h(1)}, list(t, l))
	assert.EqualValues(t, 3, l.Stats().Records)

	got, _, err = l.Claim(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, h(2), got)
	l.Release()
}

func TestCollapseExcludedWhileProcessing(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)
	require.NoError(t, l.Append(ctx, h(1)))

	_, ok, err := l.Claim(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)

	done, err := l.Collapse(ctx, false)
	require.NoError(t, err)
	assert.False(t, done)

	forced := make(chan bool)
	go func() {
		done, _ := l.Collapse(ctx, true)
		forced <- done
	}()

	select {
	case <-forced:
		t.Fatal("forced collapse ran while processing was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	l.Remove(h(1))
	l.Release()
	assert.True(t, <-forced)
	assert.Empty(t, list(t, l))
}

func TestConcurrentClaimsSerialize(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)
	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, l.Append(ctx, h(i)))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[fid.FID]int{}
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, ok, err := l.Claim(ctx, true)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				claimed[got]++
				mu.Unlock()
				l.Remove(got)
				l.Release()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 20)
	for k, n := range claimed {
		assert.Equal(t, 1, n, "handle %s claimed more than once", k)
	}
}

func TestClaimWhileProcessing(t *testing.T) {
	ctx := context.Background()
	_, l := newLog(t)
	require.NoError(t, l.AppendAll(ctx, []fid.FID{h(1), h(2)}))

	_, ok, err := l.Claim(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Claim(ctx, false)
	assert.False(t, ok)
	assert.True(t, shadowerrors.IsWouldBlock(err), "got %v", err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, ok, err = l.Claim(cancelled, true)
	assert.False(t, ok)
	assert.True(t, shadowerrors.IsInterrupted(err), "got %v", err)

	_, err = l.Collapse(cancelled, true)
	assert.True(t, shadowerrors.IsInterrupted(err), "got %v", err)
	assert.True(t, l.Stats().Processing)

	waiting := make(chan fid.FID)
	go func() {
		got, _, _ := l.Claim(ctx, true)
		waiting <- got
	}()
	select {
	case <-waiting:
		t.Fatal("blocking claim returned while processing was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	l.Remove(h(1))
	l.Release()
	assert.Equal(t, h(2), <-waiting)
	l.Release()
	assert.False(t, l.Stats().Processing)
}

func TestReopenRecoversBothBuffers(t *testing.T) {
	ctx := context.Background()
	dir, l := newLog(t)
	require.NoError(t, l.AppendAll(ctx, []fid.FID{h(1), h(2)}))
	_, err := l.Collapse(ctx, true)
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, h(3)))
	require.NoError(t, l.Close())

	// Restart: the active buffer index is not persisted.
	l2, err := Open(ctx, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []fid.FID{h(1), h(2), h(3)}, list(t, l2))
	assert.Equal(t, 0, l2.Stats().Active)
}

func TestReopenResurfacesUncollapsedRemovals(t *testing.T) {
	ctx := context.Background()
	dir, l := newLog(t)
	require.NoError(t, l.Append(ctx, h(1)))
	l.Remove(h(1))
	require.NoError(t, l.Close())

	// Removal was never collapsed to disk: the handle is retried.
	l2, err := Open(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []fid.FID{h(1)}, list(t, l2))
}

func TestOpenCorruptedBufferRecreated(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	dir, err := vfs.OpenAdminDir(ctx, fs)
	require.NoError(t, err)
	require.NoError(t, dir.WriteFile(ctx, fileName(0), []byte("garbage garbage garbage")))

	l, err := Open(ctx, dir)
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.Stats().Corruptions)
	assert.Empty(t, list(t, l))
	require.NoError(t, l.Append(ctx, h(7)))
	assert.Equal(t, []fid.FID{h(7)}, list(t, l))
}

func TestOversizedRecordTreatedAsCorruption(t *testing.T) {
	ctx := context.Background()
	fs := memfs.New(memfs.Options{})
	dir, err := vfs.OpenAdminDir(ctx, fs)
	require.NoError(t, err)

	f, err := wal.Create(ctx, dir, fileName(0), Format)
	require.NoError(t, err)
	bad := make([]byte, fid.EncodedSize)
	bad[0] = 0xff // length 255 > fid.MaxSize
	require.NoError(t, f.AppendSync(ctx, bad))

	l, err := Open(ctx, dir)
	require.NoError(t, err)

	_, ok, err := l.ReadFirst(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 1, l.Stats().Corruptions)
}
