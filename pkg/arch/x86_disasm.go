package arch

import (
	"golang.org/x/arch/x86/x86asm"
)

const x86MaxInstructionLength = 15

type x86Inst x86asm.Inst

func x86Decoder(bits int) func(mem []byte, addr uint64) (archInst, int, bool) {
	return func(mem []byte, addr uint64) (archInst, int, bool) {
		if len(mem) > x86MaxInstructionLength {
			mem = mem[:x86MaxInstructionLength]
		}
		inst, err := x86asm.Decode(mem, bits)
		// Op 0 is the "prefix(..)" placeholder x86asm returns for a lone
		// opcode byte it could not complete.
		if err != nil || inst.Len == 0 || inst.Op == 0 {
			return nil, 0, false
		}
		return (*x86Inst)(&inst), inst.Len, true
	}
}

func (inst *x86Inst) Class() TerminatorClass {
	switch inst.Op {
	case x86asm.RET, x86asm.LRET:
		return Return
	case x86asm.CALL, x86asm.LCALL:
		return Call
	case x86asm.JMP, x86asm.LJMP,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JO, x86asm.JNO,
		x86asm.JP, x86asm.JNP, x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return Jump
	case x86asm.INT, x86asm.INTO, x86asm.SYSCALL, x86asm.SYSENTER:
		return Interrupt
	case x86asm.IRET, x86asm.IRETD, x86asm.IRETQ:
		return IRet
	case x86asm.HLT, x86asm.CLI, x86asm.STI, x86asm.CLTS,
		x86asm.IN, x86asm.INSB, x86asm.INSW, x86asm.INSD,
		x86asm.OUT, x86asm.OUTSB, x86asm.OUTSW, x86asm.OUTSD,
		x86asm.LGDT, x86asm.LIDT, x86asm.LLDT, x86asm.LTR, x86asm.LMSW,
		x86asm.INVD, x86asm.WBINVD, x86asm.INVLPG,
		x86asm.RDMSR, x86asm.WRMSR, x86asm.SWAPGS,
		x86asm.SYSRET, x86asm.SYSEXIT:
		return Privileged
	}
	return None
}

func (inst *x86Inst) Text(pc uint64) string {
	return x86asm.IntelSyntax(x86asm.Inst(*inst), pc, noSymbols)
}

func noSymbols(uint64) (string, uint64) {
	return "", 0
}
