// Package arch adapts the golang.org/x/arch disassemblers to the gadget
// search. Every supported architecture is described by an Arch value in a
// closed lookup table; the search engine only ever calls Decode.
package arch

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/ropfind/ropfind/pkg/binimg"
)

// TerminatorClass is the coarse control flow category of an instruction.
type TerminatorClass uint8

const (
	None TerminatorClass = iota
	Return
	Call
	Jump
	Interrupt
	IRet
	Privileged
)

var classNames = [...]string{
	None:       "none",
	Return:     "ret",
	Call:       "call",
	Jump:       "jmp",
	Interrupt:  "int",
	IRet:       "iret",
	Privileged: "priv",
}

func (c TerminatorClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("TerminatorClass(%d)", uint8(c))
}

// ParseClass converts the name of a terminator class. Some long forms are
// accepted as aliases.
func ParseClass(s string) (TerminatorClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ret", "return":
		return Return, nil
	case "call":
		return Call, nil
	case "jmp", "jump":
		return Jump, nil
	case "int", "interrupt", "syscall":
		return Interrupt, nil
	case "iret":
		return IRet, nil
	case "priv", "privileged":
		return Privileged, nil
	}
	return None, fmt.Errorf("unknown gadget type %q", s)
}

// ClassSet is a set of terminator classes. The zero value is empty.
type ClassSet uint8

// NewClassSet returns a set containing classes.
func NewClassSet(classes ...TerminatorClass) ClassSet {
	var s ClassSet
	for _, c := range classes {
		s = s.Add(c)
	}
	return s
}

// DefaultClassSet only selects return terminated gadgets.
var DefaultClassSet = NewClassSet(Return)

// Add returns s with c added. None can not be added.
func (s ClassSet) Add(c TerminatorClass) ClassSet {
	if c == None {
		return s
	}
	return s | 1<<c
}

// Has returns true if c is in s.
func (s ClassSet) Has(c TerminatorClass) bool {
	return c != None && s&(1<<c) != 0
}

// Empty returns true if no class is selected.
func (s ClassSet) Empty() bool {
	return s == 0
}

// Classes returns the members of s in declaration order.
func (s ClassSet) Classes() []TerminatorClass {
	var r []TerminatorClass
	for c := Return; c <= Privileged; c++ {
		if s.Has(c) {
			r = append(r, c)
		}
	}
	return r
}

func (s ClassSet) String() string {
	return strings.Join(lo.Map(s.Classes(), func(c TerminatorClass, _ int) string { return c.String() }), ",")
}

// ParseClassSet parses a comma separated list of class names.
func ParseClassSet(str string) (ClassSet, error) {
	names := lo.Compact(lo.Map(strings.Split(str, ","), func(x string, _ int) string {
		return strings.ToLower(strings.TrimSpace(x))
	}))
	var s ClassSet
	for _, name := range names {
		c, err := ParseClass(name)
		if err != nil {
			return 0, err
		}
		s = s.Add(c)
	}
	if s.Empty() {
		return 0, fmt.Errorf("no gadget type in %q", str)
	}
	return s, nil
}

// archInst is the decoded form of an instruction, kept so that its text
// can be rendered when the gadget is printed.
type archInst interface {
	Text(pc uint64) string
	Class() TerminatorClass
}

// Instruction is a single decoded instruction.
type Instruction struct {
	Addr  uint64
	Len   int
	Class TerminatorClass
	// Raw is a view of the section bytes of the instruction.
	Raw []byte

	inst archInst
}

// Text returns the lower case assembly text of the instruction.
func (ins *Instruction) Text() string {
	if ins.inst == nil {
		return "?"
	}
	return ins.inst.Text(ins.Addr)
}

// Classify returns the terminator class of a decoded instruction.
func Classify(ins *Instruction) TerminatorClass {
	if ins.inst == nil {
		return None
	}
	return ins.inst.Class()
}

// Arch describes how to decode the instructions of one architecture.
type Arch struct {
	Name string
	Arch binimg.Arch
	// PtrSize is the size of a pointer in bytes.
	PtrSize int
	// Step is the instruction alignment. Gadgets only start at offsets that
	// are a multiple of Step.
	Step int
	// MaxInsnLen is the length of the longest encodable instruction.
	MaxInsnLen int

	decode func(mem []byte, addr uint64) (archInst, int, bool)
}

// Decode decodes the instruction at mem[off:], which lives at address addr.
// It returns false if the bytes do not form a valid instruction, including
// when the instruction would extend past the end of mem. Decode never reads
// outside of mem.
func (a *Arch) Decode(mem []byte, off int, addr uint64) (Instruction, bool) {
	if off < 0 || off >= len(mem) {
		return Instruction{}, false
	}
	inst, n, ok := a.decode(mem[off:], addr)
	if !ok || n <= 0 || n > len(mem)-off {
		return Instruction{}, false
	}
	return Instruction{
		Addr:  addr,
		Len:   n,
		Class: inst.Class(),
		Raw:   mem[off : off+n : off+n],
		inst:  inst,
	}, true
}

func (a *Arch) String() string {
	return a.Name
}

var archTable = map[binimg.Arch]*Arch{
	binimg.ArchX86: {
		Name:       "x86",
		Arch:       binimg.ArchX86,
		PtrSize:    4,
		Step:       1,
		MaxInsnLen: x86MaxInstructionLength,
		decode:     x86Decoder(32),
	},
	binimg.ArchX64: {
		Name:       "x64",
		Arch:       binimg.ArchX64,
		PtrSize:    8,
		Step:       1,
		MaxInsnLen: x86MaxInstructionLength,
		decode:     x86Decoder(64),
	},
	binimg.ArchARM: {
		Name:       "arm",
		Arch:       binimg.ArchARM,
		PtrSize:    4,
		Step:       armInstructionSize,
		MaxInsnLen: armInstructionSize,
		decode:     armDecode,
	},
	binimg.ArchARM64: {
		Name:       "arm64",
		Arch:       binimg.ArchARM64,
		PtrSize:    8,
		Step:       arm64InstructionSize,
		MaxInsnLen: arm64InstructionSize,
		decode:     arm64Decode,
	},
}

// Lookup returns the decoder for a.
func Lookup(a binimg.Arch) (*Arch, error) {
	if r, ok := archTable[a]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no decoder for architecture %s", a)
}
