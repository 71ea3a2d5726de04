package arch

import (
	"strings"

	"golang.org/x/arch/arm/armasm"
)

const armInstructionSize = 4

// Only the ARM instruction set is decoded, Thumb code is not searched.
type armInst armasm.Inst

func armDecode(mem []byte, addr uint64) (archInst, int, bool) {
	if len(mem) < armInstructionSize {
		return nil, 0, false
	}
	inst, err := armasm.Decode(mem[:armInstructionSize], armasm.ModeARM)
	if err != nil {
		return nil, 0, false
	}
	return (*armInst)(&inst), armInstructionSize, true
}

// armBaseOp strips the condition suffix from the opcode name, so that
// "BX.EQ" and "BX" are classified the same way.
func armBaseOp(op armasm.Op) string {
	name := op.String()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

func (inst *armInst) Class() TerminatorClass {
	var arg0 armasm.Arg
	if len(inst.Args) > 0 {
		arg0 = inst.Args[0]
	}
	switch armBaseOp(inst.Op) {
	case "BL", "BLX":
		return Call
	case "B":
		return Jump
	case "BX":
		if reg, ok := arg0.(armasm.Reg); ok && reg == armasm.LR {
			return Return
		}
		return Jump
	case "LDR", "MOV", "ADD":
		if reg, ok := arg0.(armasm.Reg); ok && reg == armasm.PC {
			return Return
		}
	case "POP":
		if regList, ok := arg0.(armasm.RegList); ok && (regList&(1<<uint(armasm.PC)) != 0) {
			return Return
		}
	case "LDM":
		if regList, ok := inst.Args[1].(armasm.RegList); ok && (regList&(1<<uint(armasm.PC)) != 0) {
			return Return
		}
	case "SVC":
		return Interrupt
	}
	return None
}

func (inst *armInst) Text(pc uint64) string {
	return strings.ToLower(armasm.GNUSyntax(armasm.Inst(*inst)))
}
