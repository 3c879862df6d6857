// Package config loads and saves the walker configuration file.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/stompy/pkg/gait"
	"github.com/gwillem/stompy/pkg/leg"
	"github.com/gwillem/stompy/pkg/robot"
	"github.com/gwillem/stompy/pkg/telemetry"
)

const DefaultConfigFile = "stompy.yaml"

// DefaultHz is the leg update rate when none is configured.
const DefaultHz = 50

// Config holds the walker configuration
type Config struct {
	// Legs maps leg numbers to serial ports.
	Legs     map[int]string  `yaml:"legs"`
	Serial   leg.PortOptions `yaml:"serial"`
	Hz       int             `yaml:"hz,omitempty"`
	Simulate bool            `yaml:"simulate,omitempty"`
	// Record is the sqlite file walk sessions are recorded to. Empty disables recording.
	Record    string           `yaml:"record,omitempty"`
	Telemetry telemetry.Config `yaml:"telemetry,omitempty"`
	Gait      gait.Config      `yaml:"gait"`
	// Calibration lists, per leg number, the writes replayed at connect.
	Calibration map[int][]leg.Write `yaml:"calibration,omitempty"`
}

// Default returns a configuration with no ports and the default gait.
func Default() *Config {
	return &Config{
		Legs: map[int]string{},
		Hz:   DefaultHz,
		Gait: gait.DefaultConfig(),
	}
}

// Ports returns the configured ports in leg order
func (c *Config) Ports() []string {
	nums := make([]int, 0, len(c.Legs))
	for n := range c.Legs {
		nums = append(nums, n)
	}
	slices.Sort(nums)
	out := make([]string, 0, len(nums))
	for _, n := range nums {
		out = append(out, c.Legs[n])
	}
	return out
}

// IsCalibrated returns true if the leg has calibration writes
func (c *Config) IsCalibrated(leg int) bool {
	return len(c.Calibration[leg]) > 0
}

// LegOptions builds the leg connection options from the configuration.
func (c *Config) LegOptions() leg.Options {
	return leg.Options{
		Port:        c.Serial,
		Calibration: c.Calibration,
		Simulate:    c.Simulate,
	}
}

// Validate checks leg numbers, serial options and the gait tuning.
func (c *Config) Validate() error {
	for n, port := range c.Legs {
		if !robot.ValidLeg(n) {
			return fmt.Errorf("legs: invalid leg number %d", n)
		}
		if port == "" {
			return fmt.Errorf("legs: no port for leg %d", n)
		}
	}
	for n := range c.Calibration {
		if !robot.ValidLeg(n) {
			return fmt.Errorf("calibration: invalid leg number %d", n)
		}
	}
	if _, err := c.Serial.Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	if c.Telemetry.Interval < 0 {
		return fmt.Errorf("telemetry: negative interval %s", c.Telemetry.Interval)
	}
	if err := c.Gait.Validate(); err != nil {
		return fmt.Errorf("gait: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Legs == nil {
		c.Legs = map[int]string{}
	}
	if c.Hz <= 0 {
		c.Hz = DefaultHz
	}
	c.Gait = c.Gait.WithDefaults()
}

// LoadFrom loads configuration from a specific file
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LegLabel names a leg for display, e.g. "3 (rr)".
func LegLabel(n int) string {
	return strconv.Itoa(n) + " (" + robot.LegName(n) + ")"
}
