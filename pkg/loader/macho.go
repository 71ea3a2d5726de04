package loader

import (
	"bytes"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/pkg/errors"

	"github.com/ropfind/ropfind/pkg/binimg"
	"github.com/ropfind/ropfind/pkg/logflags"
)

var machoCPUs = map[types.CPU]binimg.Arch{
	types.CPUX86:   binimg.ArchX86,
	types.CPUAmd64: binimg.ArchX64,
	types.CPUArm:   binimg.ArchARM,
	types.CPUArm64: binimg.ArchARM64,
}

const (
	machoSectionTypeMask     = 0xff
	machoZerofill            = 0x1
	machoGBZerofill          = 0xc
	machoThreadLocalZerofill = 0x12
)

func machoIsZerofill(flags types.SectionFlag) bool {
	switch uint32(flags) & machoSectionTypeMask {
	case machoZerofill, machoGBZerofill, machoThreadLocalZerofill:
		return true
	}
	return false
}

func loadMachO(data []byte, forced binimg.Arch) (*binimg.Image, error) {
	fat, err := macho.NewFatFile(bytes.NewReader(data))
	if err != nil {
		if err != macho.ErrNotFat {
			return nil, errors.Wrapf(ErrMalformed, "mach-o fat header: %v", err)
		}
		return loadMachOSlice(data, forced)
	}
	defer fat.Close()

	// Pick the slice matching the forced architecture, or the first slice
	// that can be decoded.
	for _, fa := range fat.Arches {
		arch, ok := machoCPUs[fa.CPU]
		if !ok || (forced != binimg.ArchUnknown && arch != forced) {
			continue
		}
		slice, err := fileRange(data, uint64(fa.Offset), uint64(fa.Size), "mach-o fat slice "+fa.CPU.String())
		if err != nil {
			return nil, err
		}
		logflags.LoaderLogger().Debugf("using %s slice of universal binary", arch)
		return loadMachOSlice(slice, forced)
	}
	if forced != binimg.ArchUnknown {
		return nil, errors.Wrapf(ErrUnsupportedArch, "universal binary has no %s slice", forced)
	}
	return nil, errors.Wrap(ErrUnsupportedArch, "universal binary has no supported slice")
}

// loadMachOSlice loads a thin Mach-O file. Section offsets are relative to
// data, which is a slice of the universal binary for fat files.
func loadMachOSlice(data []byte, forced binimg.Arch) (*binimg.Image, error) {
	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "mach-o: %v", err)
	}
	defer m.Close()

	arch, err := checkArch(machoCPUs[m.CPU], forced)
	if err != nil {
		return nil, errors.Wrapf(err, "mach-o cpu %s", m.CPU)
	}

	img := &binimg.Image{
		Arch:   arch,
		Format: binimg.FormatMachO,
	}
	if text := m.Segment("__TEXT"); text != nil {
		img.ImageBase = text.Addr
	}

	for _, s := range m.Sections {
		if machoIsZerofill(s.Flags) {
			continue
		}
		buf, err := fileRange(data, uint64(s.Offset), s.Size, "mach-o section "+s.Seg+"."+s.Name)
		if err != nil {
			return nil, err
		}
		img.Sections = append(img.Sections, &binimg.Section{
			Name:       s.Seg + "." + s.Name,
			Addr:       s.Addr,
			Data:       buf,
			Executable: s.Flags.IsPureInstructions() || s.Flags.IsSomeInstructions(),
		})
	}
	return img, nil
}
