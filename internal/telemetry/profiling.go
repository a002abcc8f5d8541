package telemetry

import (
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig controls continuous profiling.
type ProfilingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Endpoint       string // Pyroscope server URL
	ProfileTypes   []string
}

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

// ProfileTypeNames lists the accepted profile type names, sorted.
func ProfileTypeNames() []string {
	names := make([]string, 0, len(profileTypes))
	for n := range profileTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var profiling atomic.Bool

// InitProfiling starts pushing profiles to Pyroscope. The returned function
// stops the profiler; it is safe to call when profiling is disabled.
func InitProfiling(cfg ProfilingConfig) (func() error, error) {
	if !cfg.Enabled {
		profiling.Store(false)
		return func() error { return nil }, nil
	}

	types := make([]pyroscope.ProfileType, 0, len(cfg.ProfileTypes))
	for _, name := range cfg.ProfileTypes {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		types = append(types, pt)
		switch pt {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			runtime.SetMutexProfileFraction(5)
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			runtime.SetBlockProfileRate(5)
		}
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profiling.Store(true)
	return func() error {
		profiling.Store(false)
		return p.Stop()
	}, nil
}

// IsProfilingEnabled reports whether a profiler is running.
func IsProfilingEnabled() bool {
	return profiling.Load()
}
