package arch

import (
	"strings"
	"testing"

	"github.com/ropfind/ropfind/pkg/binimg"
)

type decodeTest struct {
	name  string
	mem   []byte
	len   int
	class TerminatorClass
	text  string
}

func runDecodeTests(t *testing.T, a binimg.Arch, tests []decodeTest) {
	t.Helper()
	d, err := Lookup(a)
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, ok := d.Decode(tt.mem, 0, 0x1000)
			if !ok {
				t.Fatalf("could not decode % x", tt.mem)
			}
			if ins.Len != tt.len {
				t.Fatalf("expected length %d, got %d", tt.len, ins.Len)
			}
			if ins.Class != tt.class || Classify(&ins) != tt.class {
				t.Fatalf("expected class %v, got %v", tt.class, ins.Class)
			}
			if tt.text != "" && ins.Text() != tt.text {
				t.Fatalf("expected text %q, got %q", tt.text, ins.Text())
			}
			if ins.Addr != 0x1000 || len(ins.Raw) != ins.Len {
				t.Fatalf("bad instruction %#v", ins)
			}
		})
	}
}

func TestDecodeX64(t *testing.T) {
	runDecodeTests(t, binimg.ArchX64, []decodeTest{
		{"ret", []byte{0xc3}, 1, Return, "ret"},
		{"pop", []byte{0x5d, 0xc3}, 1, None, "pop rbp"},
		{"pop rax", []byte{0x58}, 1, None, "pop rax"},
		{"nop", []byte{0x90}, 1, None, "nop"},
		{"call rel32", []byte{0xe8, 0x00, 0x00, 0x00, 0x00}, 5, Call, ""},
		{"jmp rax", []byte{0xff, 0xe0}, 2, Jump, "jmp rax"},
		{"je", []byte{0x74, 0x02}, 2, Jump, ""},
		{"syscall", []byte{0x0f, 0x05}, 2, Interrupt, "syscall"},
		{"int3", []byte{0xcc}, 1, Interrupt, ""},
		{"iretq", []byte{0x48, 0xcf}, 2, IRet, ""},
		{"hlt", []byte{0xf4}, 1, Privileged, "hlt"},
		{"wrmsr", []byte{0x0f, 0x30}, 2, Privileged, ""},
	})
}

func TestDecodeX86(t *testing.T) {
	runDecodeTests(t, binimg.ArchX86, []decodeTest{
		{"ret", []byte{0xc3}, 1, Return, "ret"},
		{"pop ebp", []byte{0x5d}, 1, None, "pop ebp"},
		{"int 0x80", []byte{0xcd, 0x80}, 2, Interrupt, ""},
		{"call eax", []byte{0xff, 0xd0}, 2, Call, "call eax"},
	})
}

func TestDecodeARM64(t *testing.T) {
	runDecodeTests(t, binimg.ArchARM64, []decodeTest{
		{"ret", []byte{0xc0, 0x03, 0x5f, 0xd6}, 4, Return, "ret"},
		{"nop", []byte{0x1f, 0x20, 0x03, 0xd5}, 4, None, "nop"},
		{"bl", []byte{0x00, 0x00, 0x00, 0x94}, 4, Call, ""},
		{"br x16", []byte{0x00, 0x02, 0x1f, 0xd6}, 4, Jump, ""},
		{"svc", []byte{0x01, 0x00, 0x00, 0xd4}, 4, Interrupt, ""},
		{"eret", []byte{0xe0, 0x03, 0x9f, 0xd6}, 4, IRet, "eret"},
	})
}

func TestDecodeARM(t *testing.T) {
	runDecodeTests(t, binimg.ArchARM, []decodeTest{
		{"bx lr", []byte{0x1e, 0xff, 0x2f, 0xe1}, 4, Return, ""},
		{"pop pc", []byte{0x10, 0x80, 0xbd, 0xe8}, 4, Return, ""},
		{"svc", []byte{0x00, 0x00, 0x00, 0xef}, 4, Interrupt, ""},
		{"mov r0, r0", []byte{0x00, 0x00, 0xa0, 0xe1}, 4, None, ""},
	})

	d, _ := Lookup(binimg.ArchARM)
	ins, _ := d.Decode([]byte{0x1e, 0xff, 0x2f, 0xe1}, 0, 0)
	if !strings.Contains(ins.Text(), "bx") {
		t.Fatalf("unexpected text %q", ins.Text())
	}
}

func TestDecodeMiss(t *testing.T) {
	x64, _ := Lookup(binimg.ArchX64)
	arm64, _ := Lookup(binimg.ArchARM64)

	call := []byte{0xe8, 0x00, 0x00, 0x00, 0x00}
	if _, ok := x64.Decode(call[:3], 0, 0); ok {
		t.Fatal("truncated call should not decode")
	}
	for _, mem := range [][]byte{{0xe8}, {0xe8, 0xc3}, {0xb8, 0xc3}, {0x0f}} {
		if ins, ok := x64.Decode(mem, 0, 0); ok {
			t.Fatalf("incomplete opcode % x decoded as %q", mem, ins.Text())
		}
	}
	if _, ok := x64.Decode(call, 5, 0); ok {
		t.Fatal("offset past the end should not decode")
	}
	if _, ok := x64.Decode(call, -1, 0); ok {
		t.Fatal("negative offset should not decode")
	}
	if _, ok := arm64.Decode([]byte{0xc0, 0x03, 0x5f}, 0, 0); ok {
		t.Fatal("short arm64 instruction should not decode")
	}
}

func TestDecodeOffset(t *testing.T) {
	x64, _ := Lookup(binimg.ArchX64)
	mem := []byte{0x90, 0x5d, 0xc3}
	ins, ok := x64.Decode(mem, 2, 0x4002)
	if !ok || ins.Class != Return || ins.Raw[0] != 0xc3 || cap(ins.Raw) != 1 {
		t.Fatalf("bad decode at offset: %#v", ins)
	}
}

func TestClassSet(t *testing.T) {
	s, err := ParseClassSet("ret, JMP,,call")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Has(Return) || !s.Has(Jump) || !s.Has(Call) || s.Has(Interrupt) || s.Has(None) {
		t.Fatalf("unexpected set %v", s)
	}
	if s.String() != "ret,call,jmp" {
		t.Fatalf("unexpected string %q", s.String())
	}
	if _, err := ParseClassSet("ret,bogus"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseClassSet(" , "); err == nil {
		t.Fatal("expected error for empty set")
	}
	if DefaultClassSet != NewClassSet(Return) {
		t.Fatal("bad default set")
	}
	if !NewClassSet(None).Empty() {
		t.Fatal("None must not be a member")
	}
}

func TestLookup(t *testing.T) {
	for _, a := range []binimg.Arch{binimg.ArchX86, binimg.ArchX64, binimg.ArchARM, binimg.ArchARM64} {
		d, err := Lookup(a)
		if err != nil {
			t.Fatal(err)
		}
		if d.Arch != a {
			t.Fatalf("lookup(%v) returned %v", a, d.Arch)
		}
	}
	if _, err := Lookup(binimg.ArchUnknown); err == nil {
		t.Fatal("expected error for unknown arch")
	}
}
