package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	for _, section := range []string{
		"# shadowfs Configuration File",
		"logging:",
		"telemetry:",
		"metrics:",
		"api:",
		"shadow:",
		"scheduler:",
	} {
		if !strings.Contains(string(content), section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}
	if _, err := InitConfig(false); err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if _, err := InitConfig(true); err != nil {
		t.Fatalf("InitConfig with force failed: %v", err)
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := InitConfigToPath(path, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Generated config failed to load: %v", err)
	}

	def := GetDefaultConfig()
	if cfg.Shadow.ChunkSize != def.Shadow.ChunkSize {
		t.Errorf("Expected chunk size %s, got %s", def.Shadow.ChunkSize, cfg.Shadow.ChunkSize)
	}
	if cfg.Shadow.Scheduler.Interval != def.Shadow.Scheduler.Interval {
		t.Errorf("Expected interval %v, got %v", def.Shadow.Scheduler.Interval, cfg.Shadow.Scheduler.Interval)
	}
	if cfg.API.Port != def.API.Port {
		t.Errorf("Expected API port %d, got %d", def.API.Port, cfg.API.Port)
	}
	if !cfg.API.IsEnabled() {
		t.Error("Expected API enabled in generated config")
	}
}
