package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/shadowfs/internal/bytesize"
	"github.com/marmos91/shadowfs/pkg/api"
)

// Config is the static configuration of a shadowfs process.
//
// Sources, highest precedence first: environment variables (SHADOWFS_*,
// with "_" for nesting, e.g. SHADOWFS_SHADOW_CHUNK_SIZE), the YAML or TOML
// file, then defaults.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds the orderly stop of the mount.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	API     api.APIConfig `mapstructure:"api" yaml:"api"`
	Shadow  ShadowConfig  `mapstructure:"shadow" yaml:"shadow"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OTLP trace export. Tracing is opt-in.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"` // host:port of the collector
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling. Profiling is
// opt-in.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"` // Pyroscope URL
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus collection. When disabled nothing is
// collected and the API answers 404 on /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ShadowConfig describes the directory tree being migrated and the remote
// tree it is filled from.
type ShadowConfig struct {
	// ID names the mount in logs and metrics. Default: a random UUID.
	ID string `mapstructure:"id" yaml:"id,omitempty"`

	// LocalRoot is the directory that receives the migrated tree.
	LocalRoot string `mapstructure:"local_root" validate:"required" yaml:"local_root"`

	// RemoteRoot is the directory the tree is copied from.
	RemoteRoot string `mapstructure:"remote_root" validate:"required,nefield=LocalRoot" yaml:"remote_root"`

	// StateDir holds process state outside both trees (handle indexes).
	// Example: /var/lib/shadowfs
	StateDir string `mapstructure:"state_dir" validate:"required" yaml:"state_dir"`

	// ChunkSize is the unit of on-demand file copy.
	// Supports human-readable formats: "128Ki", "1Mi"
	// Default: 128Ki
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`

	// CompactThreshold is the number of space map records after which a
	// file's log is compacted. Default: 128
	CompactThreshold int `mapstructure:"compact_threshold" validate:"gte=0" yaml:"compact_threshold,omitempty"`

	// MarkerAttr is the extended attribute that marks unmigrated objects.
	// Default: user.shadowfs.remote
	MarkerAttr string `mapstructure:"marker_attr" validate:"omitempty,startswith=user." yaml:"marker_attr,omitempty"`

	// WalkConcurrency bounds the files copied in parallel by a full walk.
	// Default: 8
	WalkConcurrency int `mapstructure:"walk_concurrency" validate:"gte=0" yaml:"walk_concurrency,omitempty"`

	// Standby starts the mount with migration paused.
	Standby bool `mapstructure:"standby" yaml:"standby"`

	// Scheduler controls background compaction and draining.
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
}

// SchedulerConfig controls the background scheduler.
type SchedulerConfig struct {
	// Interval is the delay between cycles. Default: 10s
	Interval time.Duration `mapstructure:"interval" validate:"gte=0" yaml:"interval"`

	// DrainBatch is the number of pending entries processed per cycle.
	// Zero only compacts. Default: 16
	DrainBatch *int `mapstructure:"drain_batch" validate:"omitempty,gte=0" yaml:"drain_batch"`
}

// Load reads configPath, or the default location when empty, applies
// environment overrides and defaults, and validates the result. A missing
// file yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if err := setDefaults(v, found); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// requiredKeys have placeholder defaults that a config file must replace.
var requiredKeys = map[string]bool{
	"shadow.local_root":  true,
	"shadow.remote_root": true,
	"shadow.state_dir":   true,
}

// setDefaults registers every default value with v. Viper only consults the
// environment for keys it knows, so this is what lets SHADOWFS_* variables
// override settings the file leaves out. When a file was read, required
// keys are only bound to the environment.
func setDefaults(v *viper.Viper, fileFound bool) error {
	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			switch val := val.(type) {
			case nil:
			case map[string]any:
				walk(prefix+k+".", val)
			default:
				if fileFound && requiredKeys[prefix+k] {
					_ = v.BindEnv(prefix + k)
					continue
				}
				v.SetDefault(prefix+k, val)
			}
		}
	}
	walk("", tree)
	return nil
}

// MustLoad is Load for commands: a missing file becomes an error telling the
// user how to create one.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no configuration file at %s\n\n"+
			"Create one with:\n"+
			"  shadowfs config init --config %s", configPath, configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, replacing path atomically. The file is
// private to the owner.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// setupViper maps SHADOWFS_SECTION_KEY variables onto section.key and points
// viper at configPath, or at config.yaml in the default directory.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SHADOWFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(GetConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reports whether a file was read. A missing file is not an
// error.
func readConfigFile(v *viper.Viper) (bool, error) {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("read config: %w", err)
	}
}

// configDecodeHooks parses sizes through ByteSize.UnmarshalText and
// durations through time.ParseDuration. Bare numbers decode as bytes and
// nanoseconds. Comma-separated env values fill string slices.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// GetConfigDir is $XDG_CONFIG_HOME/shadowfs, falling back to
// ~/.config/shadowfs, or the working directory when neither is known.
func GetConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(base, "shadowfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}
