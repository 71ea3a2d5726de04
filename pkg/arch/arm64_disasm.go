package arch

import (
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

const arm64InstructionSize = 4

type arm64Inst arm64asm.Inst

func arm64Decode(mem []byte, addr uint64) (archInst, int, bool) {
	if len(mem) < arm64InstructionSize {
		return nil, 0, false
	}
	inst, err := arm64asm.Decode(mem[:arm64InstructionSize])
	if err != nil {
		return nil, 0, false
	}
	return (*arm64Inst)(&inst), arm64InstructionSize, true
}

func (inst *arm64Inst) Class() TerminatorClass {
	switch inst.Op {
	case arm64asm.RET:
		return Return
	case arm64asm.BL, arm64asm.BLR:
		return Call
	case arm64asm.B, arm64asm.BR, arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return Jump
	case arm64asm.SVC, arm64asm.BRK:
		return Interrupt
	case arm64asm.ERET:
		return IRet
	case arm64asm.HVC, arm64asm.SMC:
		return Privileged
	}
	return None
}

func (inst *arm64Inst) Text(pc uint64) string {
	return strings.TrimSpace(arm64asm.GNUSyntax(arm64asm.Inst(*inst)))
}
