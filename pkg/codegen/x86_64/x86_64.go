// Package x86_64 implements instruction selection and the textual and
// object back ends for x86-64.
package x86_64

import (
	"fmt"

	"github.com/fraylang/fcc/pkg/codegen/regalloc"
	"github.com/fraylang/fcc/pkg/diag"
	"github.com/fraylang/fcc/pkg/mir"
	"github.com/fraylang/fcc/pkg/target"
)

// x86-64 opcodes, from mir.ArchStart up
const (
	OpPoison mir.Opcode = mir.ArchStart + iota

	OpRet
	OpJmp
	OpCall
	OpMov
	OpMovDerefSrc // mov (src), dst
	OpMovDerefDst // mov src, (dst)
	OpMovsx
	OpMovzx
	OpLea
	OpAdd
	OpSub
	OpIMul
	OpIDiv
	OpCqo
	OpShl
	OpShr
	OpSar
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpPush
	OpPop
	OpTest
	OpCmp

	OpJz
	OpJe
	OpJne
	OpJl
	OpJle
	OpJg
	OpJge
	OpJb
	OpJbe
	OpJa
	OpJae

	OpSete
	OpSetne
	OpSetl
	OpSetle
	OpSetg
	OpSetge
	OpSetb
	OpSetbe
	OpSeta
	OpSetae
)

var opcodeNames = map[mir.Opcode]string{
	OpPoison: "x86_64.poison",
	OpRet:    "ret", OpJmp: "jmp", OpCall: "call",
	OpMov: "mov", OpMovDerefSrc: "mov", OpMovDerefDst: "mov",
	OpMovsx: "movsx", OpMovzx: "movzx", OpLea: "lea",
	OpAdd: "add", OpSub: "sub", OpIMul: "imul", OpIDiv: "idiv",
	OpCqo: "cqo", OpShl: "shl", OpShr: "shr", OpSar: "sar",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not", OpNeg: "neg",
	OpPush: "push", OpPop: "pop", OpTest: "test", OpCmp: "cmp",
	OpJz: "jz", OpJe: "je", OpJne: "jne", OpJl: "jl", OpJle: "jle",
	OpJg: "jg", OpJge: "jge", OpJb: "jb", OpJbe: "jbe", OpJa: "ja",
	OpJae:  "jae",
	OpSete: "sete", OpSetne: "setne", OpSetl: "setl", OpSetle: "setle",
	OpSetg: "setg", OpSetge: "setge", OpSetb: "setb", OpSetbe: "setbe",
	OpSeta: "seta", OpSetae: "setae",
}

// OpcodeName renders a generic or x86-64 opcode
func OpcodeName(op mir.Opcode) string {
	if op < mir.ArchStart {
		return mir.GenericName(op)
	}
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "x86_64.unknown"
}

// Physical register ids. All sit below mir.FirstVirtualReg.
const (
	RegInvalid uint32 = iota
	RAX
	RBX
	RCX
	RDX
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RDI
	RSI
	RBP
	RSP
	RIP

	// RegReturn is the pseudo register that stands for "this function's
	// return value" until register allocation replaces it.
	RegReturn uint32 = 99
)

var regNames = map[uint32][4]string{
	//      64     32      16     8
	RAX: {"rax", "eax", "ax", "al"},
	RBX: {"rbx", "ebx", "bx", "bl"},
	RCX: {"rcx", "ecx", "cx", "cl"},
	RDX: {"rdx", "edx", "dx", "dl"},
	R8:  {"r8", "r8d", "r8w", "r8b"},
	R9:  {"r9", "r9d", "r9w", "r9b"},
	R10: {"r10", "r10d", "r10w", "r10b"},
	R11: {"r11", "r11d", "r11w", "r11b"},
	R12: {"r12", "r12d", "r12w", "r12b"},
	R13: {"r13", "r13d", "r13w", "r13b"},
	R14: {"r14", "r14d", "r14w", "r14b"},
	R15: {"r15", "r15d", "r15w", "r15b"},
	RDI: {"rdi", "edi", "di", "dil"},
	RSI: {"rsi", "esi", "si", "sil"},
	RBP: {"rbp", "ebp", "bp", "bpl"},
	RSP: {"rsp", "esp", "sp", "spl"},
	RIP: {"rip", "eip", "ip", ""},
}

// RegName returns the sized name of a physical register
func RegName(id uint32, size int) string {
	names, ok := regNames[id]
	if !ok {
		if id == RegReturn {
			return "x86_64.RETURN"
		}
		return fmt.Sprintf("x86_64.INVALID(%d)", id)
	}
	switch size {
	case 0, 64:
		return names[0]
	case 32:
		return names[1]
	case 16:
		return names[2]
	case 8:
		if names[3] == "" {
			diag.ICEf("register %s has no 8-bit form", names[0])
		}
		return names[3]
	}
	diag.ICEf("invalid register size %d", size)
	return ""
}

// MachineDesc returns the register allocation description for the target.
// Only the volatile registers are allocatable; rbx and r12-r15 are
// callee-saved and left untouched. r10 and r11 double as spill scratch
// inside the allocator.
func MachineDesc(t target.Target) regalloc.MachineDescription {
	desc := regalloc.MachineDescription{
		ReturnRegister:          RAX,
		ReturnRegisterToReplace: RegReturn,
		MoveOpcode:              OpMov,
		Clobbers: map[mir.Opcode][]uint32{
			OpCqo:  {RDX},
			OpIDiv: {RAX, RDX},
			OpShl:  {RCX},
			OpShr:  {RCX},
			OpSar:  {RCX},
		},
		CallOpcodes: []mir.Opcode{OpCall},
	}
	if t.IsWindows() {
		desc.Registers = []uint32{RAX, RCX, RDX, R8, R9, R10, R11}
	} else {
		desc.Registers = []uint32{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}
	}
	return desc
}

// argRegisters returns the integer argument registers in ABI order
func argRegisters(t target.Target) []uint32 {
	if t.IsWindows() {
		return []uint32{RCX, RDX, R8, R9}
	}
	return []uint32{RDI, RSI, RDX, RCX, R8, R9}
}
