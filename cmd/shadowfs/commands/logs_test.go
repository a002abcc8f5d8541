package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.True(t, want.Equal(extractTimestamp(`{"time":"2026-03-04T05:06:07Z","level":"INFO"}`)))

	local := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)
	assert.True(t, local.Equal(extractTimestamp("[2026-03-04 05:06:07] [INFO] Walk complete")))

	assert.True(t, extractTimestamp("no timestamp here").IsZero())
	assert.True(t, extractTimestamp("{broken").IsZero())
}

func TestLineFilter(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := lineFilter{since: since, mount: "m1"}

	assert.True(t, f.match(`{"time":"2026-02-01T00:00:00Z","mount_id":"m1"}`))
	assert.False(t, f.match(`{"time":"2025-02-01T00:00:00Z","mount_id":"m1"}`))
	assert.False(t, f.match(`{"time":"2026-02-01T00:00:00Z","mount_id":"m2"}`))
	assert.True(t, f.match("continuation line mount_id=m1"))
	assert.True(t, lineFilter{}.match("anything"))
}

func TestShowLogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadowfs.log")
	require.NoError(t, os.WriteFile(path, []byte("a mount_id=x\nb mount_id=y\nc mount_id=x\nd mount_id=x\n"), 0o644))

	var buf bytes.Buffer
	off, err := showLogs(&buf, path, 2, lineFilter{mount: "x"})
	require.NoError(t, err)
	assert.Equal(t, "c mount_id=x\nd mount_id=x\n", buf.String())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, fi.Size(), off)

	buf.Reset()
	_, err = showLogs(&buf, path, 0, lineFilter{})
	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestTailerKeepsPartialLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadowfs.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	var buf bytes.Buffer
	tl := &tailer{path: path, w: &buf}
	require.NoError(t, tl.open(4))
	defer tl.close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("new li")
	require.NoError(t, err)
	tl.drain()
	assert.Empty(t, buf.String())

	_, err = f.WriteString("ne\nnext\n")
	require.NoError(t, err)
	tl.drain()
	assert.Equal(t, "new line\nnext\n", buf.String())
}
