// Package binimg is the format independent in-memory representation of an
// executable image: its architecture, the format it was loaded from, the
// image base and the list of sections.
//
// An Image is immutable once a loader returns it. Section data is a view into
// the buffer the image was loaded from and must never be written to, so
// images can be shared between goroutines without locking.
package binimg

import (
	"fmt"
	"strings"
)

// Arch is a CPU architecture supported by the gadget search.
type Arch uint8

const (
	// ArchUnknown means the architecture should be detected from the file.
	ArchUnknown Arch = iota
	ArchX86
	ArchX64
	ArchARM
	ArchARM64
)

var archNames = map[Arch]string{
	ArchUnknown: "unknown",
	ArchX86:     "x86",
	ArchX64:     "x64",
	ArchARM:     "arm",
	ArchARM64:   "arm64",
}

func (a Arch) String() string {
	if s, ok := archNames[a]; ok {
		return s
	}
	return fmt.Sprintf("Arch(%d)", uint8(a))
}

// Is64 returns true for architectures with 64bit pointers.
func (a Arch) Is64() bool {
	return a == ArchX64 || a == ArchARM64
}

// ParseArch converts a user supplied architecture name. The empty string
// and "auto" map to ArchUnknown.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return ArchUnknown, nil
	case "x86", "i386", "386", "x86-32":
		return ArchX86, nil
	case "x64", "amd64", "x86_64", "x86-64":
		return ArchX64, nil
	case "arm", "arm32":
		return ArchARM, nil
	case "arm64", "aarch64":
		return ArchARM64, nil
	}
	return ArchUnknown, fmt.Errorf("unknown architecture %q", s)
}

// Format is the container format of an executable.
type Format uint8

const (
	// FormatUnknown means the format should be detected from the magic bytes.
	FormatUnknown Format = iota
	FormatELF
	FormatPE
	FormatMachO
	// FormatRaw treats the whole file as a single executable section. It
	// requires an explicit architecture.
	FormatRaw
)

var formatNames = map[Format]string{
	FormatUnknown: "unknown",
	FormatELF:     "elf",
	FormatPE:      "pe",
	FormatMachO:   "macho",
	FormatRaw:     "raw",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat converts a user supplied format name. The empty string and
// "auto" map to FormatUnknown.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatUnknown, nil
	case "elf", "lin", "linux":
		return FormatELF, nil
	case "pe", "win", "windows":
		return FormatPE, nil
	case "macho", "mach-o", "osx", "darwin":
		return FormatMachO, nil
	case "raw":
		return FormatRaw, nil
	}
	return FormatUnknown, fmt.Errorf("unknown format %q", s)
}

// Section is an address ranged region of the image.
type Section struct {
	// Index is the position of the section in the image's section list.
	Index      int
	Name       string
	Addr       uint64
	Data       []byte
	Executable bool
}

// Size returns the number of bytes in the section.
func (s *Section) Size() uint64 {
	return uint64(len(s.Data))
}

// End returns the first address past the end of the section.
func (s *Section) End() uint64 {
	return s.Addr + s.Size()
}

// Contains returns true if [addr, addr+size) lies inside the section.
func (s *Section) Contains(addr, size uint64) bool {
	return addr >= s.Addr && size <= s.Size() && addr-s.Addr <= s.Size()-size
}

func (s *Section) String() string {
	return fmt.Sprintf("Section(name=%q, addr=%#x, size=%#x, exec=%v)", s.Name, s.Addr, s.Size(), s.Executable)
}

// Image is a loaded executable.
type Image struct {
	Arch      Arch
	Format    Format
	ImageBase uint64
	Entry     uint64
	Sections  []*Section
}

// ExecutableSections returns the non-empty executable sections of the image
// in image order.
func (img *Image) ExecutableSections() []*Section {
	r := make([]*Section, 0, len(img.Sections))
	for _, sec := range img.Sections {
		if sec.Executable && len(sec.Data) > 0 {
			r = append(r, sec)
		}
	}
	return r
}

// Rebase returns a copy of img where every address has been moved so that
// the image starts at base. Section data is shared with img.
func (img *Image) Rebase(base uint64) *Image {
	delta := base - img.ImageBase
	r := &Image{
		Arch:      img.Arch,
		Format:    img.Format,
		ImageBase: base,
		Entry:     img.Entry + delta,
		Sections:  make([]*Section, len(img.Sections)),
	}
	for i, sec := range img.Sections {
		cp := *sec
		cp.Addr += delta
		r.Sections[i] = &cp
	}
	return r
}

func (img *Image) String() string {
	return fmt.Sprintf("Image(format=%s, arch=%s, base=%#x, sections=%d)", img.Format, img.Arch, img.ImageBase, len(img.Sections))
}
