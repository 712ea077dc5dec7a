package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/chkforge/pkg/vmm"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 8192, cfg.MemoryMB)
	assert.Equal(t, "base_serial", cfg.BaseCheckpoint)
	assert.Equal(t, "checkpoint_progress.json", cfg.ProgressPath)
	assert.Equal(t, "user", cfg.GuestUser)
	assert.Equal(t, string(vmm.InputPTY), cfg.InputMode)
	assert.Equal(t, 1800, cfg.ROITimeoutSec)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"simulatorBin": "/opt/marss/qemu/qemu-system-x86_64",
		"diskImage": "/data/guest.qcow2",
		"baseCheckpoint": "base_v2",
		"roiTimeoutSec": 3600
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/marss/qemu/qemu-system-x86_64", cfg.SimulatorBin)
	assert.Equal(t, "/data/guest.qcow2", cfg.DiskImage)
	assert.Equal(t, "base_v2", cfg.BaseCheckpoint)
	assert.Equal(t, 3600, cfg.ROITimeoutSec)
	// Defaults survive a partial file.
	assert.Equal(t, 8192, cfg.MemoryMB)
	assert.Equal(t, 600, cfg.BootTimeoutSec)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadConfigRejectsIncomplete(t *testing.T) {
	// No simulator binary or disk image anywhere.
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulatorBin")
	assert.Contains(t, err.Error(), "diskImage")
}

func TestLoadConfigUnvalidatedToleratesIncomplete(t *testing.T) {
	cfg, err := LoadConfigUnvalidated("")
	require.NoError(t, err)
	assert.Empty(t, cfg.SimulatorBin)
	assert.Equal(t, "checkpoint_progress.json", cfg.ProgressPath)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CHKFORGE_SIMULATOR_BIN", "/env/qemu")
	t.Setenv("CHKFORGE_DISK_IMAGE", "/env/disk.qcow2")
	t.Setenv("CHKFORGE_BASE_CHECKPOINT", "env_base")
	t.Setenv("CHKFORGE_INPUT_MODE", "sendkey")
	t.Setenv("CHKFORGE_DEV_MODE", "true")
	t.Setenv("CHKFORGE_ROI_TIMEOUT_SEC", "7200")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/env/qemu", cfg.SimulatorBin)
	assert.Equal(t, "/env/disk.qcow2", cfg.DiskImage)
	assert.Equal(t, "env_base", cfg.BaseCheckpoint)
	assert.Equal(t, "sendkey", cfg.InputMode)
	assert.True(t, cfg.DevelopmentMode)
	assert.Equal(t, 7200, cfg.ROITimeoutSec)
}

func TestEnvironmentOverridesIgnoreBadNumbers(t *testing.T) {
	t.Setenv("CHKFORGE_ROI_TIMEOUT_SEC", "not-a-number")

	cfg, err := LoadConfigUnvalidated("")
	require.NoError(t, err)
	assert.Equal(t, 1800, cfg.ROITimeoutSec)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := NewDefaultConfig()
		cfg.SimulatorBin = "/opt/qemu"
		cfg.DiskImage = "/data/disk.qcow2"
		return cfg
	}

	require.NoError(t, valid().Validate())

	for name, mutate := range map[string]func(*Config){
		"empty simulator bin":   func(c *Config) { c.SimulatorBin = "" },
		"empty disk image":      func(c *Config) { c.DiskImage = "" },
		"empty base":            func(c *Config) { c.BaseCheckpoint = "" },
		"empty progress path":   func(c *Config) { c.ProgressPath = "" },
		"zero memory":           func(c *Config) { c.MemoryMB = 0 },
		"bad input mode":        func(c *Config) { c.InputMode = "telepathy" },
		"zero roi timeout":      func(c *Config) { c.ROITimeoutSec = 0 },
		"negative boot timeout": func(c *Config) { c.BootTimeoutSec = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SimulatorBin = "/opt/qemu"
	cfg.DiskImage = "/data/disk.qcow2"
	cfg.InputMode = "sendkey"
	cfg.ROITimeoutSec = 3600

	sc := cfg.SessionConfig()

	assert.Equal(t, "/opt/qemu", sc.SimulatorBin)
	assert.Equal(t, "/data/disk.qcow2", sc.DiskImage)
	assert.Equal(t, 8192, sc.MemoryMB)
	assert.Equal(t, vmm.InputSendKey, sc.InputMode)
	assert.Equal(t, 10*time.Minute, sc.Timeouts.Boot)
	assert.Equal(t, 5*time.Minute, sc.Timeouts.Prompt)
	assert.Equal(t, time.Hour, sc.Timeouts.ROI)
	assert.Equal(t, 30*time.Second, sc.Timeouts.SaveSettle)
}
