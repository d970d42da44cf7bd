// Package config resolves the bridge's runtime configuration: the serial
// device, SPI back-end choice and its pins/bus, and logging verbosity.
// On this board family these are the Go-idiomatic stand-in for the spec's
// "build-time constants" (pin assignments, back-end selection): they are
// still fixed before the event loop starts and never change afterward,
// just resolved at process start (flags, optionally overlaid by a YAML
// file) rather than at Go compile time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend selects which spilink.Link implementation to construct.
type Backend string

const (
	BackendHardware Backend = "hardware"
	BackendSoftware Backend = "software"
)

// Config is the full set of knobs the bridge needs before it can open its
// host and target links.
type Config struct {
	SerialDevice string `yaml:"serial_device"`

	Backend    Backend `yaml:"backend"`
	SPIDevice  string  `yaml:"spi_device"`
	SPISpeedHz uint32  `yaml:"spi_speed_hz"`

	ResetLine string `yaml:"reset_line"`
	SCKLine   string `yaml:"sck_line"`
	MOSILine  string `yaml:"mosi_line"`
	MISOLine  string `yaml:"miso_line"`

	BitHalfPeriodUs int `yaml:"bit_half_period_us"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the baseline configuration before flags or a config
// file are applied.
func Default() Config {
	return Config{
		SerialDevice:    "/dev/ttyGS0",
		Backend:         BackendHardware,
		SPIDevice:       "/dev/spidev0.0",
		SPISpeedHz:      200_000,
		ResetLine:       "GPIO25",
		SCKLine:         "GPIO11",
		MOSILine:        "GPIO10",
		MISOLine:        "GPIO9",
		BitHalfPeriodUs: 5,
		LogLevel:        "info",
	}
}

// LoadFile overlays YAML-configured fields from path onto cfg. Fields not
// present in the file are left untouched.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks that Backend is one of the two recognized values.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHardware, BackendSoftware:
		return nil
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
}
