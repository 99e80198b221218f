// Package config loads the YAML configuration for a capture run.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level capture configuration.
type Config struct {
	// Capture holds the ring and interface settings.
	Capture CaptureConfig `yaml:"capture"`
	// Output holds the output-directory settings.
	Output OutputConfig `yaml:"output"`
	// Offline holds the offline-replay settings.
	Offline OfflineConfig `yaml:"offline"`
	// Log holds logging settings.
	Log LogConfig `yaml:"log"`
}

// CaptureConfig configures the live capture engine.
type CaptureConfig struct {
	// Interface is a literal interface name or a glob pattern (e.g.
	// "eth*") resolved against the host's link set at startup.
	Interface string `yaml:"interface"`
	// Workers is the number of capture workers (and thus sockets) to
	// provision. Workers share interfaces round-robin when fewer
	// interfaces match Interface than there are workers.
	Workers int `yaml:"workers"`
	// MemoryFraction is the fraction of total physical memory the ring
	// budget is computed from (see internal/ringsizer.BudgetFromFraction).
	MemoryFraction float64 `yaml:"memory_fraction"`
	// User is the unprivileged user to drop to after sockets are
	// provisioned, if non-empty.
	User string `yaml:"user"`
}

// OutputConfig holds the output settings. This module writes no capture
// files itself during a live run; frames go only to the frame.Handler.
type OutputConfig struct {
	// Directory is the base under which the Coordinator creates a per-run
	// subdirectory when more than one worker is configured. Empty skips
	// that step.
	Directory string `yaml:"directory"`
	// Rotate is parsed from the configuration; no code in this module
	// reads it, and no output rotation is performed.
	Rotate bool `yaml:"rotate"`
}

// OfflineConfig configures the `ringcap replay` capture-file replay path
// (internal/offline).
type OfflineConfig struct {
	// LoopCount is how many times to replay the file from the start
	// before returning. Values below 1 are treated as 1 pass.
	LoopCount int `yaml:"loop_count"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`
}

// LoadConfig reads and parses the YAML configuration file at path, applying
// DefaultConfig as the base before unmarshaling so unset fields keep sane
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration applied before the user's YAML is
// unmarshaled on top of it.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Interface:      "eth0",
			Workers:        4,
			MemoryFraction: 0.01,
		},
		Output: OutputConfig{
			Rotate: false,
		},
		Offline: OfflineConfig{
			LoopCount: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
