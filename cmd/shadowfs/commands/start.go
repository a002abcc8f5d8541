//go:build linux

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/shadowfs/internal/logger"
	"github.com/marmos91/shadowfs/internal/telemetry"
	"github.com/marmos91/shadowfs/pkg/api"
	"github.com/marmos91/shadowfs/pkg/config"

	// Registers the Prometheus metric constructors.
	_ "github.com/marmos91/shadowfs/pkg/metrics/prometheus"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shadow mount and control API",
	Long: `Configure the shadow mount named by the configuration file and serve its
control API in the foreground until SIGINT or SIGTERM.

Objects migrate on demand through the control API and in the background
through the scheduler. Shutdown stops the API, then the scheduler, then
unconfigures the mount. The next start resumes from the on-disk pending log.

Examples:
  shadowfs start
  shadowfs start --config /etc/shadowfs/config.yaml
  SHADOWFS_SHADOW_STANDBY=true SHADOWFS_LOGGING_LEVEL=DEBUG shadowfs start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "write the process ID to this file")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObs, err := startObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownObs()

	mount, err := config.OpenMount(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configure mount: %w", err)
	}
	if pidFile != "" {
		if err := os.WriteFile(pidFile, fmt.Appendf(nil, "%d\n", os.Getpid()), 0o644); err != nil {
			_ = mount.Close(context.Background())
			return fmt.Errorf("write pid file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.API.IsEnabled() {
		server := api.NewServer(cfg.API, mount)
		g.Go(func() error { return server.Start(gctx) })
	} else {
		logger.Info("API server disabled")
	}
	logger.Info("shadowfs running", logger.MountID(mount.ID()), "standby", mount.Standby())

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("Shutting down")
	}
	serveErr := g.Wait()

	cctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := mount.Close(cctx); err != nil {
		logger.Error("Mount shutdown failed", logger.Err(err))
		return errors.Join(serveErr, err)
	}
	if serveErr == nil {
		logger.Info("shadowfs stopped")
	}
	return serveErr
}

// startObservability brings up tracing, profiling and metrics. The returned
// func flushes whatever was started.
func startObservability(ctx context.Context, cfg *config.Config) (func(), error) {
	logger.Info("Configuration loaded",
		"source", getConfigSource(GetConfigFile()),
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format)

	tel := cfg.Telemetry
	flushTraces, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        tel.Enabled,
		ServiceName:    "shadowfs",
		ServiceVersion: Version,
		Endpoint:       tel.Endpoint,
		Insecure:       tel.Insecure,
		SampleRate:     tel.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	stopProfiles, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        tel.Profiling.Enabled,
		ServiceName:    "shadowfs",
		ServiceVersion: Version,
		Endpoint:       tel.Profiling.Endpoint,
		ProfileTypes:   tel.Profiling.ProfileTypes,
	})
	if err != nil {
		_ = flushTraces(context.Background())
		return nil, fmt.Errorf("profiling: %w", err)
	}

	if telemetry.IsEnabled() {
		logger.Info("Tracing enabled", "endpoint", tel.Endpoint, "sample_rate", tel.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", tel.Profiling.Endpoint)
	}
	if config.InitializeMetrics(cfg) {
		logger.Info("Metrics enabled", "path", "/metrics")
	}

	return func() {
		if err := stopProfiles(); err != nil {
			logger.Warn("Profiler shutdown failed", logger.Err(err))
		}
		if err := flushTraces(context.Background()); err != nil {
			logger.Warn("Trace exporter shutdown failed", logger.Err(err))
		}
	}, nil
}
