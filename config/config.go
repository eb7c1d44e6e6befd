// Package config holds the daemon configuration, loaded from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"

	"github.com/tinysil/upt/entropy"
)

// Config is the daemon configuration. Vector fields are hex strings of up
// to 50 bits.
type Config struct {
	Listen       string `json:"listen"`
	TickInterval string `json:"tick_interval"`

	Mode   string `json:"mode"`   // trng | puf
	Cell   string `json:"cell"`   // static | noise
	Cipher string `json:"cipher"` // aes | serpent, noise cell only

	CalibrationCycles uint32 `json:"calibration_cycles"`
	Seed              string `json:"seed"`
	Trigger           string `json:"trigger"`
	Sel1              string `json:"sel1"`
	Sel2              string `json:"sel2"`
	Mask              string `json:"mask"`

	JournalPath string `json:"journal_path"`
	Harvest     bool   `json:"harvest"`
}

// Default returns the configuration the daemon runs with when no file is
// given: TRNG mode on deterministic cells, all channels triggered.
func Default() *Config {
	return &Config{
		Listen:            "127.0.0.1:8817",
		TickInterval:      "1ms",
		Mode:              "trng",
		Cell:              "static",
		Cipher:            "aes",
		CalibrationCycles: 2048,
		Seed:              "0xCAFEBABEDEADBEEF",
		Trigger:           "0x3FFFFFFFFFFFF",
		Sel1:              "0x3FFFFFFFFFFFF",
		Sel2:              "0x0",
		Mask:              "0x3FFFFFFFFFFFF",
		Harvest:           true,
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func parseHex(name, value string, bits int) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid hex value %q", name, value)
	}
	if bits < 64 && v >= 1<<uint(bits) {
		return 0, fmt.Errorf("%s: value %q exceeds %d bits", name, value, bits)
	}
	return v, nil
}

// Interval parses the tick interval.
func (c *Config) Interval() (time.Duration, error) {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("tick_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("tick_interval: must be positive, got %s", c.TickInterval)
	}
	return d, nil
}

// ModeValue parses the mode field.
func (c *Config) ModeValue() (entropy.Mode, error) {
	switch c.Mode {
	case "trng", "":
		return entropy.TRNG, nil
	case "puf":
		return entropy.PUF, nil
	default:
		return 0, fmt.Errorf("mode: must be trng or puf, got %q", c.Mode)
	}
}

// SeedValue parses the 64-bit seed.
func (c *Config) SeedValue() (uint64, error) {
	return parseHex("seed", c.Seed, 64)
}

// Vectors parses the four 50-bit vectors.
func (c *Config) Vectors() (trigger, sel1, sel2, mask uint64, err error) {
	if trigger, err = parseHex("trigger", c.Trigger, entropy.Channels); err != nil {
		return
	}
	if sel1, err = parseHex("sel1", c.Sel1, entropy.Channels); err != nil {
		return
	}
	if sel2, err = parseHex("sel2", c.Sel2, entropy.Channels); err != nil {
		return
	}
	mask, err = parseHex("mask", c.Mask, entropy.Channels)
	return
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if c.Listen == "" {
		errs = multierror.Append(errs, fmt.Errorf("listen: must not be empty"))
	}
	if _, err := c.Interval(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, err := c.ModeValue(); err != nil {
		errs = multierror.Append(errs, err)
	}
	switch c.Cell {
	case "static", "noise", "":
	default:
		errs = multierror.Append(errs, fmt.Errorf("cell: must be static or noise, got %q", c.Cell))
	}
	switch entropy.Cipher(c.Cipher) {
	case entropy.CipherAES, entropy.CipherSerpent, "":
	default:
		errs = multierror.Append(errs, fmt.Errorf("cipher: must be aes or serpent, got %q", c.Cipher))
	}
	if _, err := c.SeedValue(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if _, _, _, _, err := c.Vectors(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}
