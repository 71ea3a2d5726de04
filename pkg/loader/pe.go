package loader

import (
	"bytes"
	"debug/pe"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ropfind/ropfind/pkg/binimg"
)

var peMachines = map[uint16]binimg.Arch{
	pe.IMAGE_FILE_MACHINE_I386:  binimg.ArchX86,
	pe.IMAGE_FILE_MACHINE_AMD64: binimg.ArchX64,
	pe.IMAGE_FILE_MACHINE_ARMNT: binimg.ArchARM,
	pe.IMAGE_FILE_MACHINE_ARM:   binimg.ArchARM,
	pe.IMAGE_FILE_MACHINE_ARM64: binimg.ArchARM64,
}

// peMachine reads the COFF Machine field that follows the PE signature.
// debug/pe refuses machines it does not know, so the field is checked before
// the file is handed to it.
func peMachine(data []byte) (uint16, error) {
	lfanew, err := fileRange(data, 0x3c, 4, "pe dos header")
	if err != nil {
		return 0, err
	}
	off := uint64(binary.LittleEndian.Uint32(lfanew))
	hdr, err := fileRange(data, off, 6, "pe signature")
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(hdr[:4], []byte("PE\x00\x00")) {
		return 0, errors.Wrapf(ErrMalformed, "pe: invalid signature % x", hdr[:4])
	}
	return binary.LittleEndian.Uint16(hdr[4:]), nil
}

func loadPE(data []byte, forced binimg.Arch) (*binimg.Image, error) {
	machine, err := peMachine(data)
	if err != nil {
		return nil, err
	}
	arch, err := checkArch(peMachines[machine], forced)
	if err != nil {
		return nil, errors.Wrapf(err, "pe machine %#x", machine)
	}

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "pe: %v", err)
	}
	defer f.Close()

	img := &binimg.Image{
		Arch:   arch,
		Format: binimg.FormatPE,
	}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.ImageBase = uint64(oh.ImageBase)
		img.Entry = img.ImageBase + uint64(oh.AddressOfEntryPoint)
	case *pe.OptionalHeader64:
		img.ImageBase = oh.ImageBase
		img.Entry = img.ImageBase + uint64(oh.AddressOfEntryPoint)
	}

	for _, s := range f.Sections {
		if s.Size == 0 {
			continue
		}
		buf, err := fileRange(data, uint64(s.Offset), uint64(s.Size), "pe section "+s.Name)
		if err != nil {
			return nil, err
		}
		// The raw size is rounded up to the file alignment, the bytes past
		// VirtualSize are padding.
		if s.VirtualSize != 0 && s.VirtualSize < s.Size {
			buf = buf[:s.VirtualSize:s.VirtualSize]
		}
		img.Sections = append(img.Sections, &binimg.Section{
			Name:       s.Name,
			Addr:       img.ImageBase + uint64(s.VirtualAddress),
			Data:       buf,
			Executable: s.Characteristics&(pe.IMAGE_SCN_MEM_EXECUTE|pe.IMAGE_SCN_CNT_CODE) != 0,
		})
	}
	return img, nil
}
