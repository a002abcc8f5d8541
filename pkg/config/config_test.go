package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/shadowfs/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func shadowSection(dir string) string {
	return `
shadow:
  local_root: "` + yamlSafePath(dir) + `/local"
  remote_root: "` + yamlSafePath(dir) + `/remote"
  state_dir: "` + yamlSafePath(dir) + `/state"
`
}

func TestLoad_DefaultsApplied(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: "info"
`+shadowSection(dir))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("Expected default API port 7070, got %d", cfg.API.Port)
	}
	if cfg.Shadow.ChunkSize != 128*bytesize.KiB {
		t.Errorf("Expected default chunk size 128KiB, got %s", cfg.Shadow.ChunkSize)
	}
	if cfg.Shadow.MarkerAttr != "user.shadowfs.remote" {
		t.Errorf("Expected default marker attribute, got %q", cfg.Shadow.MarkerAttr)
	}
	if cfg.Shadow.Scheduler.DrainBatch == nil || *cfg.Shadow.Scheduler.DrainBatch != DefaultDrainBatch {
		t.Errorf("Expected default drain batch %d, got %v", DefaultDrainBatch, cfg.Shadow.Scheduler.DrainBatch)
	}
}

func TestLoad_ShadowSection(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, shadowSection(dir)+`
  id: "home"
  chunk_size: 1Mi
  standby: true
  scheduler:
    interval: 2m
    drain_batch: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Shadow.ID != "home" {
		t.Errorf("Expected id 'home', got %q", cfg.Shadow.ID)
	}
	if cfg.Shadow.ChunkSize != bytesize.MiB {
		t.Errorf("Expected chunk size 1MiB, got %s", cfg.Shadow.ChunkSize)
	}
	if !cfg.Shadow.Standby {
		t.Error("Expected standby to be enabled")
	}
	if cfg.Shadow.Scheduler.Interval != 2*time.Minute {
		t.Errorf("Expected interval 2m, got %v", cfg.Shadow.Scheduler.Interval)
	}
	// An explicit zero disables draining and must survive defaults.
	if cfg.Shadow.Scheduler.DrainBatch == nil || *cfg.Shadow.Scheduler.DrainBatch != 0 {
		t.Errorf("Expected drain batch 0, got %v", cfg.Shadow.Scheduler.DrainBatch)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.API.Port != 7070 {
		t.Errorf("Expected default API port 7070, got %d", cfg.API.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: [unclosed\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: "LOUD"
`+shadowSection(dir))

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error for invalid level")
	}
	if !strings.Contains(err.Error(), "Logging.Level") {
		t.Errorf("Expected error to name Logging.Level, got: %v", err)
	}
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[logging]
level = "DEBUG"

[shadow]
local_root = "` + yamlSafePath(dir) + `/local"
remote_root = "` + yamlSafePath(dir) + `/remote"
state_dir = "` + yamlSafePath(dir) + `/state"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("SHADOWFS_LOGGING_LEVEL", "ERROR")
	t.Setenv("SHADOWFS_SHADOW_STANDBY", "true")

	dir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: "INFO"
`+shadowSection(dir)+`
  standby: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("Expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if !cfg.Shadow.Standby {
		t.Error("Expected standby from env var")
	}
}

func TestLoad_EnvironmentOverridesOmittedKeys(t *testing.T) {
	t.Setenv("SHADOWFS_API_PORT", "9090")
	t.Setenv("SHADOWFS_SHADOW_CHUNK_SIZE", "256Ki")

	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, shadowSection(dir)))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("Expected API port 9090 from env var, got %d", cfg.API.Port)
	}
	if cfg.Shadow.ChunkSize != 256*bytesize.KiB {
		t.Errorf("Expected chunk size 256KiB from env var, got %s", cfg.Shadow.ChunkSize)
	}
}

func TestLoad_FileMustNameRoots(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: INFO\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected validation error for a file without shadow roots")
	}
	if !strings.Contains(err.Error(), "Shadow.LocalRoot") {
		t.Errorf("Expected error to name Shadow.LocalRoot, got: %v", err)
	}

	t.Setenv("SHADOWFS_SHADOW_LOCAL_ROOT", "/data/local")
	t.Setenv("SHADOWFS_SHADOW_REMOTE_ROOT", "/data/remote")
	t.Setenv("SHADOWFS_SHADOW_STATE_DIR", "/data/state")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Expected roots from env vars, got: %v", err)
	}
	if cfg.Shadow.LocalRoot != "/data/local" {
		t.Errorf("Expected local root from env var, got %q", cfg.Shadow.LocalRoot)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Shadow.ID = "saved"
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Shadow.ID != "saved" {
		t.Errorf("Expected id 'saved', got %q", loaded.Shadow.ID)
	}
	if loaded.Shadow.ChunkSize != cfg.Shadow.ChunkSize {
		t.Errorf("Expected chunk size %s, got %s", cfg.Shadow.ChunkSize, loaded.Shadow.ChunkSize)
	}
}

func TestGetConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := GetConfigDir()
	if filepath.Base(dir) != "shadowfs" {
		t.Errorf("Expected directory name 'shadowfs', got %q", filepath.Base(dir))
	}
	if GetDefaultConfigPath() != filepath.Join(dir, "config.yaml") {
		t.Errorf("Unexpected default config path %q", GetDefaultConfigPath())
	}
	if DefaultConfigExists() {
		t.Error("Expected no config in a fresh directory")
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "shadowfs config init") {
		t.Errorf("Expected init hint in error, got: %v", err)
	}
}
