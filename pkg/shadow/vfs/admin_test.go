package vfs_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/memfs"
)

func TestAdminDirIsPrivate(t *testing.T) {
	fs := memfs.New(memfs.Options{})
	ctx := context.Background()

	dir, err := vfs.OpenAdminDir(ctx, fs)
	require.NoError(t, err)
	assert.Equal(t, vfs.AdminDirName, dir.Path())

	attr, err := fs.GetAttr(ctx, dir.Node(), vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, vfs.TypeDirectory, attr.Type)
	assert.Equal(t, os.FileMode(0o700), attr.Mode)

	sub, err := dir.Sub(ctx, "links")
	require.NoError(t, err)
	assert.Equal(t, ".shadow/links", sub.Path())

	n, err := sub.Create(ctx, "a")
	require.NoError(t, err)
	attr, err = fs.GetAttr(ctx, n, vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), attr.Mode)

	_, created, err := sub.OpenOrCreate(ctx, "a")
	require.NoError(t, err)
	assert.False(t, created)
	n, created, err = sub.OpenOrCreate(ctx, "b")
	require.NoError(t, err)
	assert.True(t, created)
	attr, err = fs.GetAttr(ctx, n, vfs.Kernel)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), attr.Mode)

	// Reopening finds the existing directory.
	again, err := vfs.OpenAdminDir(ctx, fs)
	require.NoError(t, err)
	assert.Equal(t, dir.Node().ID(), again.Node().ID())
}
