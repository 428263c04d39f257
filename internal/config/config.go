// Package config loads the VM subsystem's boot-time configuration:
// frame pool capacity, swap device geometry, and the stack-growth
// window. Grounded on the YAML config loading and kingpin-flag-default
// fallback shape named by lesovsky-pgscv's go.mod
// (other_examples/manifests/lesovsky-pgscv) and talyz-systemd_exporter's
// flag-driven collector config.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"vmkern/internal/defs"
)

// Config holds every boot-time-tunable parameter of the VM subsystem.
type Config struct {
	FramePoolCapacity int    `yaml:"frame_pool_capacity"`
	SwapDevicePath    string `yaml:"swap_device_path"`
	SwapSectorSize    int    `yaml:"swap_sector_size"`
	SwapSectorCount   int64  `yaml:"swap_sector_count"`
	// MaxStackSize is checked by Validate but not passed to the VM; the
	// stack bound the VM enforces is defs.MaxStackSize.
	MaxStackSize      int64  `yaml:"max_stack_size"`
	MetricsListenAddr string `yaml:"metrics_listen_addr"`
}

// Default returns the configuration cmd/vmkerneld falls back to when no
// YAML file is given; command-line flags that are set override its fields.
func Default() Config {
	return Config{
		FramePoolCapacity: 64,
		SwapDevicePath:    "swap.img",
		SwapSectorSize:    512,
		SwapSectorCount:   16384,
		MaxStackSize:      int64(defs.MaxStackSize),
		MetricsListenAddr: ":9181",
	}
}

// Load reads a YAML document at path and overlays it onto Default(),
// so a partial file only overrides the fields it names.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config: read")
	}
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return cfg, errors.Wrap(err, "config: parse")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects a configuration that would make boot-time swap
// initialization fail in a confusing way, surfacing the problem early
// instead (spec.md §7's swap-setup failures are fatal at boot regardless).
func (c Config) Validate() error {
	if c.FramePoolCapacity <= 0 {
		return errors.New("config: frame_pool_capacity must be positive")
	}
	if c.SwapSectorSize <= 0 || c.SwapSectorCount <= 0 {
		return errors.New("config: swap_sector_size and swap_sector_count must be positive")
	}
	if c.MaxStackSize <= 0 {
		return errors.New("config: max_stack_size must be positive")
	}
	return nil
}
