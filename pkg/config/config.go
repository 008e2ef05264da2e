// Package config loads optional conversion defaults from a yaml file.
// Command-line flags override anything set here.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zisofs/ziso/pkg/zso"
	"github.com/zisofs/ziso/pkg/zso/header"
)

var (
	// ErrInvalidConfig indicates a defaults file that fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds conversion defaults
type Config struct {
	// Format is the container flavor: "zso" (LZ4) or "cso" (deflate)
	Format string `yaml:"format"`
	// BlockSize is the raw bytes per block, a power of two
	BlockSize uint32 `yaml:"block_size"`
	// Align is the alignment shift, or -1 for automatic
	Align int `yaml:"align"`
	// Level is the compression level, 0 for the method default
	Level int `yaml:"level"`
	// Threshold is the verbatim-storage cutoff percent
	Threshold int `yaml:"threshold"`
	// Pad is the alignment filler, a single character
	Pad string `yaml:"pad"`
}

// Default returns the standard configuration
func Default() *Config {
	return &Config{
		Format:    "zso",
		BlockSize: zso.DefaultBlockSize,
		Align:     zso.AlignAuto,
		Level:     0,
		Threshold: 100,
		Pad:       string(zso.DefaultPad),
	}
}

// Load reads and validates a defaults file, filling unset fields from
// Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against the ranges the codec supports
func (c *Config) Validate() error {
	if c.Format != "zso" && c.Format != "cso" {
		return fmt.Errorf("%w: format %q (want zso or cso)", ErrInvalidConfig, c.Format)
	}
	if c.BlockSize == 0 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("%w: block_size %d is not a power of two", ErrInvalidConfig, c.BlockSize)
	}
	if c.Align != zso.AlignAuto && (c.Align < 0 || c.Align > int(header.MaxAlign)) {
		return fmt.Errorf("%w: align %d (want -1..%d)", ErrInvalidConfig, c.Align, header.MaxAlign)
	}
	if c.Level < 0 || c.Level > 9 {
		return fmt.Errorf("%w: level %d (want 0..9)", ErrInvalidConfig, c.Level)
	}
	if c.Threshold < 1 || c.Threshold > 100 {
		return fmt.Errorf("%w: threshold %d (want 1..100)", ErrInvalidConfig, c.Threshold)
	}
	if len(c.Pad) != 1 {
		return fmt.Errorf("%w: pad %q must be a single character", ErrInvalidConfig, c.Pad)
	}
	return nil
}

// Options converts the configuration into encode options
func (c *Config) Options() zso.Options {
	magic := header.MagicZSO
	if c.Format == "cso" {
		magic = header.MagicCSO
	}
	return zso.Options{
		Magic:     magic,
		BlockSize: c.BlockSize,
		Align:     c.Align,
		Level:     c.Level,
		Threshold: c.Threshold,
		Pad:       c.Pad[0],
	}
}
