// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

// Package config handles koflvm.toml configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ozanh/koflvm"
)

// FileName is the name of the configuration file searched by FindAndLoad.
const FileName = "koflvm.toml"

// Config represents a koflvm.toml file.
type Config struct {
	VM  VM  `toml:"vm"`
	Log Log `toml:"log"`

	// Path is the loaded file, empty for defaults (set at load time).
	Path string `toml:"-"`
}

// VM configures the virtual machine and how a chunk is run.
type VM struct {
	Memory      int      `toml:"memory"`
	StackSize   int      `toml:"stack-size"`
	Trace       bool     `toml:"trace"`
	Disassemble bool     `toml:"disassemble"`
	Timeout     Duration `toml:"timeout"`
}

// Log configures diagnostics of the host program.
type Log struct {
	// Verbosity is the commonlog verbosity, 0 logs errors only.
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Duration is a time.Duration decoded from strings like "1.5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	return &Config{
		VM: VM{
			Memory:    koflvm.DefaultOptions.Memory,
			StackSize: koflvm.DefaultOptions.StackSize,
		},
	}
}

// Load parses the file at path over the defaults. Unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a koflvm.toml file and loads it.
// It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks value ranges. Zero sizes select the VM defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.VM.Memory < 0 {
		errs = append(errs, fmt.Errorf("vm.memory must not be negative: %d", c.VM.Memory))
	}
	if c.VM.StackSize < 0 {
		errs = append(errs, fmt.Errorf("vm.stack-size must not be negative: %d", c.VM.StackSize))
	}
	if c.VM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("vm.timeout must not be negative: %s",
			time.Duration(c.VM.Timeout)))
	}
	if c.Log.Verbosity < 0 {
		errs = append(errs, fmt.Errorf("log.verbosity must not be negative: %d", c.Log.Verbosity))
	}
	return errors.Join(errs...)
}

// Options returns VM options of the configuration.
func (c *Config) Options() koflvm.Options {
	return koflvm.Options{
		Memory:    c.VM.Memory,
		StackSize: c.VM.StackSize,
	}
}
