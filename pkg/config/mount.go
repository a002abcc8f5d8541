//go:build linux

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/metrics"
	"github.com/marmos91/shadowfs/pkg/shadow"
	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/scheduler"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/osfs"
)

// InitializeMetrics enables the metrics registry when cfg asks for it.
// It must run before OpenMount so the mount picks up its collectors.
func InitializeMetrics(cfg *Config) bool {
	if !cfg.Metrics.Enabled {
		return false
	}
	metrics.InitRegistry()
	return true
}

// MountHandle is a configured shadow mount over two host directories.
type MountHandle struct {
	*shadow.Mount

	local  *osfs.FS
	remote *osfs.FS
}

// OpenMount opens the local and remote trees named by cfg.Shadow and
// configures a shadow mount over them.
//
// Handle indexes are kept under cfg.Shadow.StateDir/index/{local,remote}.
func OpenMount(ctx context.Context, cfg *Config) (*MountHandle, error) {
	sc := cfg.Shadow
	indexDir := filepath.Join(sc.StateDir, "index")
	if err := os.MkdirAll(indexDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	idx := metrics.NewIndexMetrics()
	local, err := osfs.New(osfs.Options{
		Root:     sc.LocalRoot,
		IndexDir: filepath.Join(indexDir, "local"),
		Metrics:  idx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local root: %w", err)
	}
	remote, err := osfs.New(osfs.Options{
		Root:     sc.RemoteRoot,
		IndexDir: filepath.Join(indexDir, "remote"),
		Metrics:  idx,
	})
	if err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("failed to open remote root: %w", err)
	}

	drain := DefaultDrainBatch
	if sc.Scheduler.DrainBatch != nil {
		drain = *sc.Scheduler.DrainBatch
	}
	m, err := shadow.MountAsShadow(ctx, shadow.Options{
		ID:     sc.ID,
		Local:  local,
		Remote: remote,
		Engine: engine.Options{
			ChunkSize:        sc.ChunkSize.Int64(),
			MarkerAttr:       sc.MarkerAttr,
			CompactThreshold: sc.CompactThreshold,
			WalkConcurrency:  sc.WalkConcurrency,
			Metrics:          metrics.NewMigrationMetrics(),
		},
		Scheduler: scheduler.Config{
			Interval:   sc.Scheduler.Interval,
			DrainBatch: drain,
		},
		Standby: sc.Standby,
	})
	if err != nil {
		_ = local.Close()
		_ = remote.Close()
		return nil, err
	}

	if err := metrics.RegisterMountStats(m.ID(), m.Stats); err != nil {
		logger.Warn("Failed to register mount metrics", logger.MountID(m.ID()), logger.Err(err))
	}

	logger.Info("Shadow mount configured",
		logger.MountID(m.ID()),
		"local_root", sc.LocalRoot,
		"remote_root", sc.RemoteRoot,
		"chunk_size", sc.ChunkSize.String(),
		"standby", sc.Standby)
	return &MountHandle{Mount: m, local: local, remote: remote}, nil
}

// Close unconfigures the mount and releases both trees.
func (h *MountHandle) Close(ctx context.Context) error {
	return errors.Join(
		h.Unconfigure(ctx),
		h.local.Close(),
		h.remote.Close(),
	)
}
