package loader

import (
	"bytes"
	"debug/elf"

	"github.com/pkg/errors"

	"github.com/ropfind/ropfind/pkg/binimg"
)

var elfMachines = map[elf.Machine]binimg.Arch{
	elf.EM_386:     binimg.ArchX86,
	elf.EM_X86_64:  binimg.ArchX64,
	elf.EM_ARM:     binimg.ArchARM,
	elf.EM_AARCH64: binimg.ArchARM64,
}

func loadELF(data []byte, forced binimg.Arch) (*binimg.Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "elf: %v", err)
	}
	defer f.Close()

	arch, err := checkArch(elfMachines[f.Machine], forced)
	if err != nil {
		return nil, errors.Wrapf(err, "elf machine %s", f.Machine)
	}

	img := &binimg.Image{
		Arch:   arch,
		Format: binimg.FormatELF,
		Entry:  f.Entry,
	}

	first := true
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if first || prog.Vaddr < img.ImageBase {
			img.ImageBase = prog.Vaddr
			first = false
		}
	}

	for _, s := range f.Sections {
		if s.Type == elf.SHT_NULL || s.Type == elf.SHT_NOBITS {
			continue
		}
		buf, err := fileRange(data, s.Offset, s.FileSize, "elf section "+s.Name)
		if err != nil {
			return nil, err
		}
		if s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		img.Sections = append(img.Sections, &binimg.Section{
			Name:       s.Name,
			Addr:       s.Addr,
			Data:       buf,
			Executable: s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}
	return img, nil
}
