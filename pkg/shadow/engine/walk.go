package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/telemetry"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// WalkStats counts the objects visited by Walk.
type WalkStats struct {
	Dirs  int64
	Files int64
	Other int64
}

type walkCounters struct {
	dirs, files, other atomic.Int64
}

// Walk migrates the whole local tree, one directory level at a time, with
// up to Options.WalkConcurrency directories in flight.
func (e *Engine) Walk(ctx context.Context) (WalkStats, error) {
	ctx, span := telemetry.StartMigrationSpan(ctx, telemetry.SpanWalk, nil)
	defer span.End()

	var c walkCounters
	stats := func() WalkStats {
		return WalkStats{Dirs: c.dirs.Load(), Files: c.files.Load(), Other: c.other.Load()}
	}

	root := e.local.Root()
	level := []vfs.Node{root}
	for len(level) > 0 {
		var (
			mu   sync.Mutex
			next []vfs.Node
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.WalkConcurrency)
		for _, dir := range level {
			g.Go(func() error {
				subdirs, err := e.walkDir(gctx, dir, dir.ID() == root.ID(), &c)
				mu.Lock()
				next = append(next, subdirs...)
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return stats(), err
		}
		logger.DebugCtx(ctx, "Walk level done", logger.Entries(len(level)))
		level = next
	}
	return stats(), nil
}

// walkDir migrates dir and its non-directory children and returns its
// subdirectories.
func (e *Engine) walkDir(ctx context.Context, dir vfs.Node, isRoot bool, c *walkCounters) ([]vfs.Node, error) {
	if err := e.resolve(ctx, e.objects.Get(dir.ID()), dir, 0, -1, true); err != nil {
		return nil, err
	}
	c.dirs.Add(1)

	entries, err := e.local.ReadDir(ctx, dir, vfs.Kernel)
	if err != nil {
		return nil, localError("walk", "", err)
	}
	var subdirs []vfs.Node
	for _, ent := range entries {
		if isRoot && ent.Name == vfs.AdminDirName {
			continue
		}
		n, err := e.local.Lookup(ctx, dir, ent.Name, vfs.Kernel)
		if err != nil {
			return subdirs, localError("walk", ent.Name, err)
		}
		switch ent.Type {
		case vfs.TypeDirectory:
			subdirs = append(subdirs, n)
		case vfs.TypeRegular:
			if err := e.resolve(ctx, e.objects.Get(n.ID()), n, 0, -1, true); err != nil {
				return subdirs, err
			}
			c.files.Add(1)
		default:
			c.other.Add(1)
		}
	}
	return subdirs, nil
}
