package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

const configTemplate = `# shadowfs Configuration File
#
# Environment variables override file values: SHADOWFS_<SECTION>_<KEY>,
# e.g. SHADOWFS_LOGGING_LEVEL=DEBUG.

logging:
  level: {{ .Logging.Level }}
  format: {{ .Logging.Format }}
  output: {{ .Logging.Output }}

telemetry:
  enabled: false
  endpoint: {{ .Telemetry.Endpoint }}
  insecure: true
  sample_rate: {{ .Telemetry.SampleRate }}
  profiling:
    enabled: false
    endpoint: {{ .Telemetry.Profiling.Endpoint }}

shutdown_timeout: {{ .ShutdownTimeout }}

metrics:
  enabled: false

api:
  enabled: true
  # Loopback only by default; the API can force migrations
  bind: {{ .API.Bind }}
  port: {{ .API.Port }}
  read_timeout: {{ .API.ReadTimeout }}
  write_timeout: {{ .API.WriteTimeout }}
  idle_timeout: {{ .API.IdleTimeout }}
  shutdown_timeout: {{ .API.ShutdownTimeout }}

shadow:
  # Directory receiving the migrated tree
  local_root: {{ .Shadow.LocalRoot }}
  # Directory the tree is copied from
  remote_root: {{ .Shadow.RemoteRoot }}
  # Handle indexes; must be outside both roots
  state_dir: {{ .Shadow.StateDir }}
  chunk_size: {{ .Shadow.ChunkSize }}
  compact_threshold: {{ .Shadow.CompactThreshold }}
  walk_concurrency: {{ .Shadow.WalkConcurrency }}
  standby: false
  scheduler:
    interval: {{ .Shadow.Scheduler.Interval }}
    drain_batch: {{ deref .Shadow.Scheduler.DrainBatch }}
`

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := renderDefaultConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func renderDefaultConfig() ([]byte, error) {
	tmpl, err := template.New("config").Funcs(template.FuncMap{
		"deref": func(p *int) int {
			if p == nil {
				return 0
			}
			return *p
		},
	}).Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, GetDefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to render config template: %w", err)
	}
	return buf.Bytes(), nil
}
