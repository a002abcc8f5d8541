package config

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/marmos91/shadowfs/internal/bytesize"
	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/scheduler"
	"github.com/marmos91/shadowfs/pkg/shadow/spacemap"
)

// DefaultDrainBatch is the number of pending entries drained per scheduler
// cycle when the configuration does not say otherwise.
const DefaultDrainBatch = 16

// DefaultProfileTypes are collected when profiling is on and the
// configuration names none.
var DefaultProfileTypes = []string{
	"cpu",
	"alloc_objects",
	"alloc_space",
	"inuse_objects",
	"inuse_space",
	"goroutines",
}

// ApplyDefaults fills every zero-valued field. Explicit values win.
func ApplyDefaults(cfg *Config) {
	lc := &cfg.Logging
	lc.Level = strings.ToUpper(cmp.Or(lc.Level, "INFO"))
	lc.Format = cmp.Or(lc.Format, "text")
	lc.Output = cmp.Or(lc.Output, "stdout")

	tc := &cfg.Telemetry
	tc.Endpoint = cmp.Or(tc.Endpoint, "localhost:4317")
	tc.SampleRate = cmp.Or(tc.SampleRate, 1.0)
	tc.Profiling.Endpoint = cmp.Or(tc.Profiling.Endpoint, "http://localhost:4040")
	if len(tc.Profiling.ProfileTypes) == 0 {
		tc.Profiling.ProfileTypes = slices.Clone(DefaultProfileTypes)
	}

	cfg.ShutdownTimeout = cmp.Or(cfg.ShutdownTimeout, 30*time.Second)
	cfg.API.ApplyDefaults()
	applyShadowDefaults(&cfg.Shadow)
}

// applyShadowDefaults fills the mount tuning knobs. The roots and state
// directory have no defaults outside GetDefaultConfig.
func applyShadowDefaults(cfg *ShadowConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = bytesize.ByteSize(engine.DefaultChunkSize)
	}
	if cfg.CompactThreshold == 0 {
		cfg.CompactThreshold = spacemap.DefaultCompactThreshold
	}
	if cfg.MarkerAttr == "" {
		cfg.MarkerAttr = engine.DefaultMarkerAttr
	}
	if cfg.WalkConcurrency == 0 {
		cfg.WalkConcurrency = engine.DefaultWalkConcurrency
	}
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = scheduler.DefaultInterval
	}
	if cfg.Scheduler.DrainBatch == nil {
		n := DefaultDrainBatch
		cfg.Scheduler.DrainBatch = &n
	}
}

// GetDefaultConfig is the fully defaulted configuration with example roots.
// It backs the generated sample file and the viper defaults.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Shadow: ShadowConfig{
			LocalRoot:  "/srv/shadowfs/local",
			RemoteRoot: "/mnt/remote",
			StateDir:   "/tmp/shadowfs-state",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
