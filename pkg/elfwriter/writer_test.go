package elfwriter

import (
	"bytes"
	"debug/elf"
	"testing"
)

func TestBuild(t *testing.T) {
	code := []byte{0x5d, 0xc3}
	data, err := Build(elf.EM_AARCH64, 0x10000,
		Section{Name: ".text", Flags: elf.SHF_EXECINSTR, Data: code},
		Section{Name: ".rodata", Data: []byte("hello")},
	)
	if err != nil {
		t.Fatal(err)
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if f.Machine != elf.EM_AARCH64 || f.Class != elf.ELFCLASS64 {
		t.Fatalf("wrong header %#v", f.FileHeader)
	}
	if len(f.Progs) != 1 || f.Progs[0].Type != elf.PT_LOAD || f.Progs[0].Vaddr != 0x10000 {
		t.Fatalf("wrong program headers %#v", f.Progs)
	}
	if f.Progs[0].Filesz != uint64(len(data)) {
		t.Fatalf("PT_LOAD covers %d bytes, file has %d", f.Progs[0].Filesz, len(data))
	}

	text := f.Section(".text")
	if text == nil {
		t.Fatal("no .text")
	}
	if f.Entry != text.Addr || text.Addr != 0x10000+ehsize+phentsize {
		t.Fatalf("entry %#x, .text at %#x", f.Entry, text.Addr)
	}
	if text.Flags != elf.SHF_ALLOC|elf.SHF_EXECINSTR {
		t.Fatalf("wrong .text flags %v", text.Flags)
	}
	got, err := text.Data()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, code) {
		t.Fatalf("wrong .text contents % x", got)
	}

	rodata := f.Section(".rodata")
	if rodata == nil || rodata.Flags&elf.SHF_EXECINSTR != 0 || rodata.Size != 5 {
		t.Fatalf("wrong .rodata %#v", rodata)
	}
	if f.Section(".shstrtab") == nil {
		t.Fatal("no .shstrtab")
	}
}

func TestBuildDeclaredSize(t *testing.T) {
	data, err := Build(elf.EM_X86_64, 0x400000, Section{Name: ".text", Flags: elf.SHF_EXECINSTR, Data: []byte{0xc3}, Size: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if s := f.Section(".text"); s == nil || s.Size != 1<<20 {
		t.Fatalf("wrong .text %#v", s)
	}
}
