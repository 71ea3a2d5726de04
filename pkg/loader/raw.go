package loader

import (
	"github.com/pkg/errors"

	"github.com/ropfind/ropfind/pkg/binimg"
)

// loadRaw maps the whole file as a single executable section at address 0.
func loadRaw(data []byte, arch binimg.Arch) (*binimg.Image, error) {
	if arch == binimg.ArchUnknown {
		return nil, errors.Wrap(ErrUnsupportedArch, "raw files need an explicit architecture")
	}
	return &binimg.Image{
		Arch:   arch,
		Format: binimg.FormatRaw,
		Sections: []*binimg.Section{{
			Name:       ".raw",
			Data:       data[:len(data):len(data)],
			Executable: true,
		}},
	}, nil
}
