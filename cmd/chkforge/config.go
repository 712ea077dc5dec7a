package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/simforge/chkforge/pkg/vmm"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path.
	ConfigPathEnvKey = "CHKFORGE_CONFIG_PATH"
)

// Config holds the configuration for chkforge. Timeouts are in seconds to
// keep the config file plain; they are converted when building the session
// configuration. All state lives here rather than in package globals so a
// test suite can hold several configurations at once.
type Config struct {
	// SimulatorBin is the simulator's qemu-system binary.
	SimulatorBin string `json:"simulatorBin"`

	// DiskImage is the qcow2 image carrying the snapshot table.
	DiskImage string `json:"diskImage"`

	// WorkDir is the working directory for the simulator process.
	WorkDir string `json:"workDir,omitempty"`

	// SimLibraryPath is prepended to LD_LIBRARY_PATH for the memory model.
	SimLibraryPath string `json:"simLibraryPath,omitempty"`

	// RuntimeDir holds per-session control sockets (default os.TempDir).
	RuntimeDir string `json:"runtimeDir,omitempty"`

	// MemoryMB is the guest memory size.
	MemoryMB int `json:"memoryMB"`

	// BaseCheckpoint is the snapshot every job restores before running.
	BaseCheckpoint string `json:"baseCheckpoint"`

	// CatalogPath points at a YAML workload catalog; empty uses the
	// built-in catalog.
	CatalogPath string `json:"catalogPath,omitempty"`

	// ProgressPath is the progress file location.
	ProgressPath string `json:"progressPath"`

	// GuestUser and GuestPassword are the guest login credentials.
	GuestUser     string `json:"guestUser"`
	GuestPassword string `json:"guestPassword"`

	// InputMode selects the console input transport: "pty" or "sendkey".
	InputMode string `json:"inputMode"`

	// MetricsBind exposes Prometheus metrics when non-empty (e.g. ":9090").
	MetricsBind string `json:"metricsBind,omitempty"`

	// DevelopmentMode enables human-readable debug logging.
	DevelopmentMode bool `json:"developmentMode"`

	// Per-phase timeouts, seconds.
	BootTimeoutSec   int `json:"bootTimeoutSec"`
	PromptTimeoutSec int `json:"promptTimeoutSec"`
	ROITimeoutSec    int `json:"roiTimeoutSec"`
	SaveSettleSec    int `json:"saveSettleSec"`
}

// NewDefaultConfig returns a Config with defaults tuned for the slow
// full-system emulation.
func NewDefaultConfig() *Config {
	return &Config{
		MemoryMB:         8192,
		BaseCheckpoint:   "base_serial",
		ProgressPath:     "checkpoint_progress.json",
		GuestUser:        "user",
		GuestPassword:    "user",
		InputMode:        string(vmm.InputPTY),
		BootTimeoutSec:   600,
		PromptTimeoutSec: 300,
		ROITimeoutSec:    1800,
		SaveSettleSec:    30,
	}
}

// LoadConfig loads configuration from a JSON file path, then applies
// environment overrides and validates. An empty path uses defaults plus
// environment variables only.
func LoadConfig(configPath string) (*Config, error) {
	config, err := LoadConfigUnvalidated(configPath)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigUnvalidated loads configuration without the validation step.
// Commands that only need paths (list, reset) use it so a config that is
// not yet complete enough to launch the simulator still works.
func LoadConfigUnvalidated(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	config.applyEnvironmentOverrides()
	return config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("CHKFORGE_SIMULATOR_BIN"); val != "" {
		c.SimulatorBin = val
	}
	if val := os.Getenv("CHKFORGE_DISK_IMAGE"); val != "" {
		c.DiskImage = val
	}
	if val := os.Getenv("CHKFORGE_BASE_CHECKPOINT"); val != "" {
		c.BaseCheckpoint = val
	}
	if val := os.Getenv("CHKFORGE_PROGRESS_PATH"); val != "" {
		c.ProgressPath = val
	}
	if val := os.Getenv("CHKFORGE_CATALOG_PATH"); val != "" {
		c.CatalogPath = val
	}
	if val := os.Getenv("CHKFORGE_METRICS_BIND"); val != "" {
		c.MetricsBind = val
	}
	if val := os.Getenv("CHKFORGE_INPUT_MODE"); val != "" {
		c.InputMode = val
	}
	if val := os.Getenv("CHKFORGE_DEV_MODE"); val != "" {
		c.DevelopmentMode = val == "true" || val == "1" || val == "yes"
	}
	if val := os.Getenv("CHKFORGE_ROI_TIMEOUT_SEC"); val != "" {
		if sec, err := strconv.Atoi(val); err == nil {
			c.ROITimeoutSec = sec
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.SimulatorBin == "" {
		errs = append(errs, errors.New("simulatorBin cannot be empty"))
	}
	if c.DiskImage == "" {
		errs = append(errs, errors.New("diskImage cannot be empty"))
	}
	if c.BaseCheckpoint == "" {
		errs = append(errs, errors.New("baseCheckpoint cannot be empty"))
	}
	if c.ProgressPath == "" {
		errs = append(errs, errors.New("progressPath cannot be empty"))
	}
	if c.MemoryMB <= 0 {
		errs = append(errs, errors.New("memoryMB must be positive"))
	}
	switch vmm.InputMode(c.InputMode) {
	case vmm.InputPTY, vmm.InputSendKey:
	default:
		errs = append(errs, fmt.Errorf("inputMode must be %q or %q", vmm.InputPTY, vmm.InputSendKey))
	}
	for name, sec := range map[string]int{
		"bootTimeoutSec":   c.BootTimeoutSec,
		"promptTimeoutSec": c.PromptTimeoutSec,
		"roiTimeoutSec":    c.ROITimeoutSec,
		"saveSettleSec":    c.SaveSettleSec,
	} {
		if sec <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SessionConfig builds the per-session configuration from c.
func (c *Config) SessionConfig() vmm.Config {
	timeouts := vmm.DefaultTimeouts()
	timeouts.Boot = time.Duration(c.BootTimeoutSec) * time.Second
	timeouts.Prompt = time.Duration(c.PromptTimeoutSec) * time.Second
	timeouts.Login = time.Duration(c.PromptTimeoutSec) * time.Second
	timeouts.ROI = time.Duration(c.ROITimeoutSec) * time.Second
	timeouts.SaveSettle = time.Duration(c.SaveSettleSec) * time.Second

	return vmm.Config{
		SimulatorBin:   c.SimulatorBin,
		DiskImage:      c.DiskImage,
		MemoryMB:       c.MemoryMB,
		WorkDir:        c.WorkDir,
		SimLibraryPath: c.SimLibraryPath,
		RuntimeDir:     c.RuntimeDir,
		GuestUser:      c.GuestUser,
		GuestPassword:  c.GuestPassword,
		InputMode:      vmm.InputMode(c.InputMode),
		Timeouts:       timeouts,
	}
}
