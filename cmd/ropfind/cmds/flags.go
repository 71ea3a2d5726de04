package cmds

import (
	"github.com/spf13/pflag"

	"github.com/ropfind/ropfind/pkg/arch"
	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/output"
	"github.com/ropfind/ropfind/pkg/search"
)

// The flag values below validate their argument while the command line is
// parsed, so that a typo fails before the input file is read.

type classSetFlag struct{ v *arch.ClassSet }

func (f classSetFlag) String() string { return f.v.String() }
func (f classSetFlag) Type() string   { return "types" }
func (f classSetFlag) Set(s string) error {
	set, err := arch.ParseClassSet(s)
	if err != nil {
		return err
	}
	*f.v = set
	return nil
}

type archFlag struct{ v *binimg.Arch }

func (f archFlag) String() string { return f.v.String() }
func (f archFlag) Type() string   { return "arch" }
func (f archFlag) Set(s string) error {
	a, err := binimg.ParseArch(s)
	if err != nil {
		return err
	}
	*f.v = a
	return nil
}

type formatFlag struct{ v *binimg.Format }

func (f formatFlag) String() string { return f.v.String() }
func (f formatFlag) Type() string   { return "format" }
func (f formatFlag) Set(s string) error {
	v, err := binimg.ParseFormat(s)
	if err != nil {
		return err
	}
	*f.v = v
	return nil
}

type profileFlag struct{ v *search.Profile }

func (f profileFlag) String() string { return f.v.String() }
func (f profileFlag) Type() string   { return "profile" }
func (f profileFlag) Set(s string) error {
	p, err := search.ParseProfile(s)
	if err != nil {
		return err
	}
	*f.v = p
	return nil
}

type outputFormatFlag struct{ v *output.Format }

func (f outputFormatFlag) String() string { return f.v.String() }
func (f outputFormatFlag) Type() string   { return "format" }
func (f outputFormatFlag) Set(s string) error {
	v, err := output.ParseFormat(s)
	if err != nil {
		return err
	}
	*f.v = v
	return nil
}

var (
	_ pflag.Value = classSetFlag{}
	_ pflag.Value = archFlag{}
	_ pflag.Value = formatFlag{}
	_ pflag.Value = profileFlag{}
	_ pflag.Value = outputFormatFlag{}
)
