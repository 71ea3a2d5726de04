package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v8"
	"gopkg.in/yaml.v2"

	"github.com/ropfind/ropfind/pkg/arch"
	"github.com/ropfind/ropfind/pkg/search"
)

const (
	configDir       string = "ropfind"
	legacyConfigDir string = ".ropfind"
	configFile      string = "config.yml"
)

// Config defines all configuration options available to be set through the
// config file or the environment. Unset options keep the search defaults.
type Config struct {
	// MaxSize is the maximum number of bytes in a gadget.
	MaxSize *int `yaml:"max-size,omitempty"`
	// MaxInsn is the maximum number of instructions in a gadget.
	MaxInsn *int `yaml:"max-insn,omitempty"`
	// RopTypes is a comma separated list of terminators (ret, call, jmp,
	// int, iret, priv).
	RopTypes string `yaml:"rop-types,omitempty"`
	// Profile is either fast or complete.
	Profile string `yaml:"profile,omitempty"`
	Unique  *bool  `yaml:"unique,omitempty"`
	Threads *int   `yaml:"threads,omitempty"`

	// Color enables colored output when writing to a terminal.
	Color   *bool `yaml:"color,omitempty"`
	NoColor bool  `yaml:"-"`

	// Flags are extra command line flags, prepended to the ones given on
	// the command line.
	Flags string `yaml:"flags,omitempty"`
}

// LoadConfig reads the config file at path, or at the default location if
// path is empty. A missing default config file is not an error. Environment
// variables override the values read from the file.
func LoadConfig(path string) (*Config, error) {
	c := &Config{}
	explicit := path != ""
	if !explicit {
		var err error
		path, err = GetConfigFilePath(configFile)
		if err != nil {
			return nil, err
		}
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		err = readConfig(f, c)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("unable to decode config file %s: %v", path, err)
		}
	case explicit || !os.IsNotExist(err):
		return nil, fmt.Errorf("unable to read config file: %v", err)
	}

	if err := applyEnv(c, nil); err != nil {
		return nil, fmt.Errorf("invalid environment: %v", err)
	}
	return c, nil
}

// envConfig lists the environment variables that override the config file.
type envConfig struct {
	MaxSize  int    `env:"ROPFIND_MAX_SIZE"`
	MaxInsn  int    `env:"ROPFIND_MAX_INSN"`
	RopTypes string `env:"ROPFIND_ROP_TYPES"`
	Profile  string `env:"ROPFIND_PROFILE"`
	Unique   bool   `env:"ROPFIND_UNIQUE"`
	Threads  int    `env:"ROPFIND_THREADS"`
	NoColor  bool   `env:"ROPFIND_NO_COLOR"`
	Flags    string `env:"ROPFIND_FLAGS"`
}

// applyEnv overrides the fields of c whose variable is set in environ, or
// in the process environment if environ is nil.
func applyEnv(c *Config, environ map[string]string) error {
	var e envConfig
	set := map[string]bool{}
	opts := env.Options{
		Environment: environ,
		OnSet: func(tag string, value interface{}, isDefault bool) {
			if !isDefault && value != "" {
				set[tag] = true
			}
		},
	}
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return err
	}
	if set["ROPFIND_MAX_SIZE"] {
		c.MaxSize = &e.MaxSize
	}
	if set["ROPFIND_MAX_INSN"] {
		c.MaxInsn = &e.MaxInsn
	}
	if set["ROPFIND_THREADS"] {
		c.Threads = &e.Threads
	}
	if set["ROPFIND_UNIQUE"] {
		c.Unique = &e.Unique
	}
	if e.RopTypes != "" {
		c.RopTypes = e.RopTypes
	}
	if e.Profile != "" {
		c.Profile = e.Profile
	}
	if e.Flags != "" {
		c.Flags = e.Flags
	}
	c.NoColor = c.NoColor || e.NoColor
	return nil
}

func readConfig(r io.Reader, c *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, c)
}

// WriteDefaultConfig creates a commented out config file at path. An
// existing file is left untouched.
func WriteDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	_, err = f.WriteString(DefaultFile)
	return err
}

func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}

// Apply copies the options set in c into cfg.
func (c *Config) Apply(cfg *search.Config) error {
	if c.MaxSize != nil {
		cfg.MaxSize = *c.MaxSize
	}
	if c.MaxInsn != nil {
		cfg.MaxInsn = *c.MaxInsn
	}
	if c.Threads != nil {
		cfg.Threads = *c.Threads
	}
	if c.Unique != nil {
		cfg.Unique = *c.Unique
	}
	if c.RopTypes != "" {
		types, err := arch.ParseClassSet(c.RopTypes)
		if err != nil {
			return fmt.Errorf("rop-types: %v", err)
		}
		cfg.Types = types
	}
	if c.Profile != "" {
		p, err := search.ParseProfile(c.Profile)
		if err != nil {
			return err
		}
		cfg.Profile = p
	}
	return nil
}

// UseColor returns whether colored output was requested.
func (c *Config) UseColor() bool {
	if c.NoColor {
		return false
	}
	return c.Color == nil || *c.Color
}

// GetConfigFilePath gets the full path to the given config file name.
//
// $XDG_CONFIG_HOME/ropfind is used when XDG_CONFIG_HOME is set, otherwise
// ~/.ropfind if it exists and ~/.config/ropfind if it doesn't.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	legacy := filepath.Join(home, legacyConfigDir)
	if _, err := os.Stat(legacy); err == nil {
		return filepath.Join(legacy, file), nil
	}
	return filepath.Join(home, ".config", configDir, file), nil
}

// DefaultFile is the content of a commented out configuration file.
const DefaultFile = `# Configuration file for ropfind.

# Every option is disabled. Delete the leading hash mark to enable an item.
# Environment variables (ROPFIND_MAX_SIZE, ROPFIND_MAX_INSN, ROPFIND_ROP_TYPES,
# ROPFIND_PROFILE, ROPFIND_UNIQUE, ROPFIND_THREADS, ROPFIND_NO_COLOR,
# ROPFIND_FLAGS) override this file, command line flags override both.

# Maximum number of bytes in a gadget.
# max-size: 32

# Maximum number of instructions in a gadget, terminator included.
# max-insn: 6

# Instructions that end a gadget: ret, call, jmp, int, iret, priv.
# rop-types: ret

# Search profile, fast or complete.
# profile: fast

# Only print the first gadget of every instruction sequence.
# unique: false

# Number of sections searched in parallel.
# threads: 2

# Colored output on terminals.
# color: true

# Extra command line flags.
# flags: "--output-format text"
`
