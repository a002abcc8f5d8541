//go:build linux

package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/pkg/config"
	"github.com/marmos91/shadowfs/pkg/shadow"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the whole tree without serving",
	Long: `Configure the shadow mount, walk the local tree and migrate every object
that is left, then exit.

Use this to finish a migration offline. Run it while no server is using the
same configuration. Interrupting the walk is safe; the next run resumes
from the pending log.

Examples:
  # Finish the migration described by the default config
  shadowfs migrate

  # Finish and report what was visited as JSON
  shadowfs migrate --config /etc/shadowfs/config.yaml -o json`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// MigrateResult is the summary printed after a walk.
type MigrateResult struct {
	Mount       string `json:"mount" yaml:"mount"`
	Dirs        int64  `json:"dirs" yaml:"dirs"`
	Files       int64  `json:"files" yaml:"files"`
	Other       int64  `json:"other" yaml:"other"`
	BytesCopied int64  `json:"bytes_copied" yaml:"bytes_copied"`
	HoleBytes   int64  `json:"hole_bytes" yaml:"hole_bytes"`
	Duration    string `json:"duration" yaml:"duration"`
}

// Headers implements output.TableRenderer.
func (r MigrateResult) Headers() []string {
	return []string{"MOUNT", "DIRS", "FILES", "OTHER", "COPIED", "HOLES", "DURATION"}
}

// Rows implements output.TableRenderer.
func (r MigrateResult) Rows() [][]string {
	return [][]string{{
		r.Mount,
		fmt.Sprint(r.Dirs),
		fmt.Sprint(r.Files),
		fmt.Sprint(r.Other),
		formatBytes(r.BytesCopied),
		formatBytes(r.HoleBytes),
		r.Duration,
	}}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	printer, err := newPrinter(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The scheduler would only compete with the walk.
	cfg.Shadow.Standby = false
	mount, err := config.OpenMount(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure mount: %w", err)
	}
	mount.PreUnmount()

	logger.Info("Walking tree", logger.MountID(mount.ID()), "local_root", cfg.Shadow.LocalRoot)
	start := time.Now()
	st, walkErr := mount.Walk(ctx)
	elapsed := time.Since(start)

	stats := mount.Stats()
	mount.PostUnmount()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := mount.Close(shutdownCtx); err != nil {
		walkErr = errors.Join(walkErr, err)
	}
	if walkErr != nil {
		return fmt.Errorf("migration failed: %w", walkErr)
	}

	logger.Info("Walk complete",
		logger.MountID(mount.ID()),
		"dirs", st.Dirs, "files", st.Files, "other", st.Other,
		"duration", elapsed.String())
	return printer.Print(newMigrateResult(stats, st.Dirs, st.Files, st.Other, elapsed))
}

func newMigrateResult(s shadow.Stats, dirs, files, other int64, elapsed time.Duration) MigrateResult {
	return MigrateResult{
		Mount:       s.ID,
		Dirs:        dirs,
		Files:       files,
		Other:       other,
		BytesCopied: s.Migration.BytesCopied,
		HoleBytes:   s.Migration.HoleBytes,
		Duration:    elapsed.Round(time.Millisecond).String(),
	}
}
