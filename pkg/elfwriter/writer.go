// elfwriter is a package to write small ELF executables, used to build the
// inputs of loader and end to end tests.
// Only 64bit little endian files are supported. The file has a single PT_LOAD
// segment covering the whole file, the sections follow the program header
// and the section header table is written last.

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/spf13/afero"
)

const (
	ehsize    = 64
	phentsize = 56
	shentsize = 64
)

// Section is a section to write. Size is the size recorded in the section
// header, zero means len(Data).
type Section struct {
	Name  string
	Flags elf.SectionFlag
	Data  []byte
	Size  uint64
}

type sectionHeader struct {
	name  uint32
	typ   elf.SectionType
	flags elf.SectionFlag
	off   uint64
	size  uint64
}

// Writer writes ELF files.
type Writer struct {
	w     io.WriteSeeker
	Err   error
	Vaddr uint64

	seekEntry      int64
	seekProgHeader int64
	seekShoff      int64

	shstrtab []byte
	sections []sectionHeader
}

// New creates a new Writer. The image is loaded at vaddr.
func New(w io.WriteSeeker, machine elf.Machine, vaddr uint64) *Writer {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		panic("can't write halfway through a file")
	}

	r := &Writer{w: w, Vaddr: vaddr, shstrtab: []byte{0}}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT), byte(elf.ELFOSABI_NONE), 0, 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(elf.ET_EXEC))    // e_type
	r.u16(uint16(machine))        // e_machine
	r.u32(uint32(elf.EV_CURRENT)) // e_version
	r.seekEntry = r.Here()
	r.u64(0)      // e_entry
	r.u64(ehsize) // e_phoff
	r.seekShoff = r.Here()
	r.u64(0)         // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(phentsize) // e_phentsize
	r.u16(1)         // e_phnum
	r.u16(shentsize) // e_shentsize
	r.u16(0)         // e_shnum
	r.u16(0)         // e_shstrndx

	if sz := r.Here(); sz != ehsize {
		panic("internal error, ELF header size")
	}

	r.seekProgHeader = r.Here()
	r.Write(make([]byte, phentsize))

	// SHT_NULL
	r.sections = append(r.sections, sectionHeader{})
	return r
}

// WriteSection writes the contents of s at the current location and returns
// the address it is loaded at.
func (w *Writer) WriteSection(s Section) uint64 {
	off := uint64(w.Here())
	size := s.Size
	if size == 0 {
		size = uint64(len(s.Data))
	}
	w.sections = append(w.sections, sectionHeader{
		name:  w.addName(s.Name),
		typ:   elf.SHT_PROGBITS,
		flags: s.Flags | elf.SHF_ALLOC,
		off:   off,
		size:  size,
	})
	w.Write(s.Data)
	return w.Vaddr + off
}

// SetEntry patches the entry point of the file header.
func (w *Writer) SetEntry(addr uint64) {
	here := w.Here()
	w.seek(w.seekEntry)
	w.u64(addr)
	w.seek(here)
}

// Close writes the section name table and the section headers and patches
// the file and program headers. It does not close the underlying writer.
func (w *Writer) Close() error {
	strndx := len(w.sections)
	strtab := sectionHeader{name: w.addName(".shstrtab"), typ: elf.SHT_STRTAB, off: uint64(w.Here())}
	strtab.size = uint64(len(w.shstrtab))
	w.sections = append(w.sections, strtab)
	w.Write(w.shstrtab)

	w.Align(8)
	shoff := w.Here()
	for _, sh := range w.sections {
		w.u32(sh.name)
		w.u32(uint32(sh.typ))
		w.u64(uint64(sh.flags))
		addr := uint64(0)
		if sh.flags&elf.SHF_ALLOC != 0 {
			addr = w.Vaddr + sh.off
		}
		w.u64(addr)
		w.u64(sh.off)
		w.u64(sh.size)
		w.u32(0) // sh_link
		w.u32(0) // sh_info
		w.u64(1) // sh_addralign
		w.u64(0) // sh_entsize
	}
	end := uint64(w.Here())

	// Patch File Header
	w.seek(w.seekShoff)
	w.u64(uint64(shoff))
	w.seek(w.seekShoff + 8 + 4 + 2 + 2 + 2 + 2)
	w.u16(uint16(len(w.sections))) // e_shnum
	w.u16(uint16(strndx))          // e_shstrndx

	w.seek(w.seekProgHeader)
	w.u32(uint32(elf.PT_LOAD))
	w.u32(uint32(elf.PF_R | elf.PF_X))
	w.u64(0)       // p_offset
	w.u64(w.Vaddr) // p_vaddr
	w.u64(w.Vaddr) // p_paddr
	w.u64(end)     // p_filesz
	w.u64(end)     // p_memsz
	w.u64(0x1000)  // p_align
	w.seek(int64(end))
	return w.Err
}

// Build writes an executable with the given sections and returns its
// contents. The entry point is the start of the first section.
func Build(machine elf.Machine, vaddr uint64, sections ...Section) ([]byte, error) {
	fs := afero.NewMemMapFs()
	fh, err := fs.Create("/a.out")
	if err != nil {
		return nil, err
	}
	w := New(fh, machine, vaddr)
	for i, s := range sections {
		addr := w.WriteSection(s)
		if i == 0 {
			w.SetEntry(addr)
		}
	}
	err = w.Close()
	if cerr := fh.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(fs, "/a.out")
}

func (w *Writer) addName(name string) uint32 {
	off := uint32(len(w.shstrtab))
	w.shstrtab = append(w.shstrtab, name...)
	w.shstrtab = append(w.shstrtab, 0)
	return off
}

func (w *Writer) seek(off int64) {
	if _, err := w.w.Seek(off, io.SeekStart); err != nil && w.Err == nil {
		w.Err = err
	}
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
