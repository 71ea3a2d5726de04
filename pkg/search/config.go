package search

import (
	"fmt"
	"strings"

	"github.com/ropfind/ropfind/pkg/arch"
	"github.com/ropfind/ropfind/pkg/binimg"
)

// Profile selects how exhaustively the bytes before a terminator are
// searched.
type Profile uint8

const (
	// ProfileFast follows a single chain of instructions decoded backwards
	// from each terminator.
	ProfileFast Profile = iota
	// ProfileComplete decodes forward from every aligned offset in the
	// window before each terminator.
	ProfileComplete
)

func (p Profile) String() string {
	switch p {
	case ProfileFast:
		return "fast"
	case ProfileComplete:
		return "complete"
	}
	return fmt.Sprintf("Profile(%d)", uint8(p))
}

// ParseProfile converts the name of a profile.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fast", "0":
		return ProfileFast, nil
	case "complete", "full", "1":
		return ProfileComplete, nil
	}
	return ProfileFast, fmt.Errorf("unknown profile %q", s)
}

// Default values of Config.
const (
	DefaultMaxSize = 32
	DefaultMaxInsn = 6
	DefaultThreads = 2
)

// Config describes a search. It is read only once the search starts.
type Config struct {
	// Arch and Format are the values forced by the user, ArchUnknown and
	// FormatUnknown mean they were detected from the file.
	Arch   binimg.Arch
	Format binimg.Format

	// MaxSize is the maximum number of bytes in a gadget, terminator
	// included.
	MaxSize int
	// MaxInsn is the maximum number of instructions in a gadget, terminator
	// included.
	MaxInsn int
	// Types is the set of terminators that end a gadget.
	Types   arch.ClassSet
	Profile Profile
	// Unique keeps only the first gadget for every instruction text.
	Unique  bool
	Threads int
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() Config {
	return Config{
		MaxSize: DefaultMaxSize,
		MaxInsn: DefaultMaxInsn,
		Types:   arch.DefaultClassSet,
		Profile: ProfileFast,
		Threads: DefaultThreads,
	}
}

// ConfigError is returned when a configuration is out of range or
// contradicts the image being searched.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Validate checks that every value of cfg is in range.
func (cfg *Config) Validate() error {
	switch {
	case cfg.MaxInsn <= 0:
		return &ConfigError{"max-insn", fmt.Sprintf("must be at least 1, got %d", cfg.MaxInsn)}
	case cfg.MaxSize <= 0:
		return &ConfigError{"max-size", fmt.Sprintf("must be at least 1, got %d", cfg.MaxSize)}
	case cfg.Threads < 1:
		return &ConfigError{"threads", fmt.Sprintf("must be at least 1, got %d", cfg.Threads)}
	case cfg.Types.Empty():
		return &ConfigError{"rop-types", "no gadget type selected"}
	case cfg.Profile != ProfileFast && cfg.Profile != ProfileComplete:
		return &ConfigError{"profile", fmt.Sprintf("unknown profile %s", cfg.Profile)}
	}
	return nil
}

// validateImage checks that img can be searched with cfg.
func (cfg *Config) validateImage(img *binimg.Image) (*arch.Arch, error) {
	if cfg.Arch != binimg.ArchUnknown && cfg.Arch != img.Arch {
		return nil, &ConfigError{"arch", fmt.Sprintf("image is %s, not %s", img.Arch, cfg.Arch)}
	}
	if cfg.Format != binimg.FormatUnknown && cfg.Format != img.Format {
		return nil, &ConfigError{"format", fmt.Sprintf("image is %s, not %s", img.Format, cfg.Format)}
	}
	a, err := arch.Lookup(img.Arch)
	if err != nil {
		return nil, &ConfigError{"arch", err.Error()}
	}
	return a, nil
}
