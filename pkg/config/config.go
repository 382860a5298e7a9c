// Package config holds the compiler's memory map and pipeline switches.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// AddressSpace is the number of words the target can address.
const AddressSpace = 0x10000

// Config is read from a YAML file; keys missing from the file keep their
// defaults.
type Config struct {
	// DataStart and DataEnd bound the addresses handed out to data fields
	// (DataEnd exclusive).
	DataStart int `yaml:"data_start"`
	DataEnd   int `yaml:"data_end"`

	// StackSize is the number of words the stack may grow below 0xFFFF.
	StackSize int `yaml:"stack_size"`

	Optimize        bool     `yaml:"optimize"`
	KeepComments    bool     `yaml:"keep_comments"`
	AddressComments bool     `yaml:"address_comments"`
	MaxPasses       int      `yaml:"max_passes"`
	SearchPath      []string `yaml:"search_path"`

	// Roots are extra code labels the optimizer must keep alive.
	Roots []string `yaml:"roots"`

	// CycleLimit bounds emulator runs.
	CycleLimit int `yaml:"cycle_limit"`
}

func Default() *Config {
	return &Config{
		DataStart:  0xA000,
		DataEnd:    0xE000,
		StackSize:  0x2000,
		Optimize:   true,
		MaxPasses:  1000,
		SearchPath: []string{"."},
		CycleLimit: 10_000_000,
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the memory map is consistent.
func (c *Config) Validate() error {
	switch {
	case c.DataStart < 0 || c.DataStart > AddressSpace:
		return fmt.Errorf("data_start 0x%X outside the address space", c.DataStart)
	case c.DataEnd < c.DataStart || c.DataEnd > AddressSpace:
		return fmt.Errorf("data_end 0x%X must lie between data_start and 0x%X", c.DataEnd, AddressSpace)
	case c.StackSize <= 0:
		return fmt.Errorf("stack_size must be positive")
	case c.DataEnd+c.StackSize > AddressSpace:
		return fmt.Errorf("stack of 0x%X words overlaps data fields ending at 0x%X", c.StackSize, c.DataEnd)
	case c.MaxPasses <= 0:
		return fmt.Errorf("max_passes must be positive")
	case len(c.SearchPath) == 0:
		return fmt.Errorf("search_path must not be empty")
	}
	return nil
}

// StackTop is the lowest address the stack may reach.
func (c *Config) StackTop() int {
	return AddressSpace - c.StackSize
}
